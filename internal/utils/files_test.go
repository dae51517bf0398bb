package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeWriteFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "rows.json")
	if err := SafeWriteFile(path, []byte("[]")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "[]" {
		t.Fatalf("unexpected content %q (%v)", b, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestPrettyJSON(t *testing.T) {
	b, err := PrettyJSON(map[string]int{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "\n  \"a\": 1") {
		t.Fatalf("expected indented output, got %s", b)
	}
}

func TestHomeDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	d, err := HomeDir()
	if err != nil || filepath.Base(d) != ".veritable" {
		t.Fatalf("unexpected home dir %q (%v)", d, err)
	}
}
