package main

import "github.com/KaramelBytes/veritable-cli/cmd"

func main() {
	cmd.Execute()
}
