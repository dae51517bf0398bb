package rowio

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/validate"
)

var csvSchema = schema.Schema{
	"ColInt":   {Type: schema.Count},
	"ColFloat": {Type: schema.Real},
	"ColCat":   {Type: schema.Categorical},
	"ColBool":  {Type: schema.Boolean},
}

func roundTrip(t *testing.T, ref []schema.Row, idCol string) []schema.Row {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.csv")
	if err := WriteCSV(ref, path); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	got, err := ReadCSV(path, idCol)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if err := validate.CleanData(got, csvSchema); err != nil {
		t.Fatalf("clean: %v", err)
	}
	return got
}

func TestWriteReadCSV(t *testing.T) {
	ref := []schema.Row{
		{"_id": "7", "ColInt": 3, "ColFloat": 3.1, "ColCat": "a"},
		{"_id": "8", "ColInt": 4, "ColCat": "b", "ColBool": false},
		{"_id": "9"},
	}
	got := roundTrip(t, ref, "")
	if !reflect.DeepEqual(got, ref) {
		t.Fatalf("round trip mismatch:\n got %v\nwant %v", got, ref)
	}
}

func TestReadCSVMapsIDColumn(t *testing.T) {
	ref := []schema.Row{
		{"myID": "7", "ColInt": 3, "ColFloat": 3.1, "ColCat": "a"},
		{"myID": "8", "ColInt": 4, "ColCat": "b", "ColBool": false},
		{"myID": "9"},
	}
	got := roundTrip(t, ref, "myID")
	for i, r := range ref {
		want := r.Clone()
		want["_id"] = want["myID"]
		delete(want, "myID")
		if !reflect.DeepEqual(got[i], want) {
			t.Fatalf("row %d: got %v want %v", i, got[i], want)
		}
	}
}

func TestReadCSVAssignsIDs(t *testing.T) {
	ref := []schema.Row{
		{"ColInt": 3, "ColFloat": 3.1, "ColCat": "a"},
		{"ColInt": 4, "ColCat": "b", "ColBool": false},
		{},
	}
	got := roundTrip(t, ref, "")
	want := []string{"1", "2", "3"}
	for i := range got {
		if got[i]["_id"] != want[i] {
			t.Fatalf("row %d: expected id %s, got %v", i, want[i], got[i]["_id"])
		}
	}
	if len(got[2]) != 1 {
		t.Fatalf("empty cells must be dropped, got %v", got[2])
	}
}

func TestWriteCSVPutsIDFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.tsv")
	rows := []schema.Row{{"b": 1, "_id": "x", "a": "q"}}
	if err := WriteCSV(rows, path); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(path)
	if first := strings.SplitN(string(b), "\n", 2)[0]; first != "_id\ta\tb" {
		t.Fatalf("unexpected header %q", first)
	}
}

func TestReadJSONArrayAndLines(t *testing.T) {
	dir := t.TempDir()
	arr := filepath.Join(dir, "a.json")
	lines := filepath.Join(dir, "b.jsonl")
	_ = os.WriteFile(arr, []byte(` [{"_id":"1","n":2,"f":2.5},{"_id":"2"}]`), 0o644)
	_ = os.WriteFile(lines, []byte("{\"_id\":\"1\",\"n\":2,\"f\":2.5}\n{\"_id\":\"2\"}\n"), 0o644)
	for _, p := range []string{arr, lines} {
		rows, err := ReadJSON(p)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if len(rows) != 2 || rows[0]["n"] != 2 || rows[0]["f"] != 2.5 {
			t.Fatalf("%s: unexpected rows %v", p, rows)
		}
	}
	_ = os.WriteFile(arr, []byte(`[1]`), 0o644)
	if _, err := ReadJSON(arr); err == nil {
		t.Fatalf("expected error for a non-object row")
	}
}

func TestWriteJSONDispatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "rows.json")
	rows := []schema.Row{{"_id": "1", "n": 3}}
	if err := Write(rows, path); err != nil {
		t.Fatal(err)
	}
	got, err := Read(path, "")
	if err != nil || !reflect.DeepEqual(got, rows) {
		t.Fatalf("got %v (%v)", got, err)
	}
}

func TestReadRequestsKeepsNullCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.csv")
	if err := os.WriteFile(path, []byte("_request_id,x,y\nr1,,a\n,2.5,\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadRequests(path)
	if err != nil {
		t.Fatalf("read requests: %v", err)
	}
	want := []schema.Row{
		{"_request_id": "r1", "x": nil, "y": "a"},
		{"x": "2.5", "y": nil},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v\nwant %v", got, want)
	}

	s := schema.Schema{"x": {Type: schema.Real}, "y": {Type: schema.Categorical}}
	if err := validate.CleanPredictions(got, s); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if got[1]["_request_id"] != "1" || got[1]["x"] != 2.5 {
		t.Fatalf("unexpected cleaned request %v", got[1])
	}
	if v, ok := got[0]["x"]; !ok || v != nil {
		t.Fatalf("expected x to stay null in %v", got[0])
	}
}
