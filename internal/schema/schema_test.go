package schema

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

func TestCheckID(t *testing.T) {
	valid := []any{"1", "a", "abc-123", "A_b-C", "0_"}
	for _, id := range valid {
		if err := CheckID(id); err != nil {
			t.Fatalf("expected %v to be valid: %v", id, err)
		}
	}
	invalid := []any{"", " foo", "foo ", " foo ", "foo\n", "foo\nbar", 5, 374.34, false, "_underscores", "-dash", "b.d", "b$d", nil}
	for _, id := range invalid {
		if err := CheckID(id); err == nil {
			t.Fatalf("expected %#v to be rejected", id)
		}
	}
}

func TestCheckIDMentionsValue(t *testing.T) {
	err := CheckID(374.34)
	if err == nil || !strings.Contains(err.Error(), "374.34") {
		t.Fatalf("expected value in message, got %v", err)
	}
}

func TestCheckRow(t *testing.T) {
	if err := CheckRow(Row{IDKey: "7", "x": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckRow(map[string]any{IDKey: "7"}); err != nil {
		t.Fatalf("plain map should be accepted: %v", err)
	}
	err := CheckRow(Row{"x": 1})
	e, ok := verr.As(err)
	if !ok || e.Col != IDKey {
		t.Fatalf("expected missing-id error on %s, got %v", IDKey, err)
	}
	if err := CheckRow(Row{IDKey: 7}); err == nil {
		t.Fatalf("expected non-string id to fail")
	}
	if err := CheckRow([]string{"a"}); err == nil {
		t.Fatalf("expected non-mapping to fail")
	}
}

func TestCheckDatatype(t *testing.T) {
	for _, d := range []any{"real", "count", "categorical", "boolean", Real} {
		if err := CheckDatatype(d); err != nil {
			t.Fatalf("expected %v valid: %v", d, err)
		}
	}
	for _, d := range []any{"jello", "Real", "", 3, nil} {
		if err := CheckDatatype(d); err == nil {
			t.Fatalf("expected %#v invalid", d)
		}
	}
}

func TestSchemaValidate(t *testing.T) {
	cases := []struct {
		name string
		s    Schema
		ok   bool
		col  string
	}{
		{"valid", Schema{"ColInt": {Type: Count}, "ColFloat": {Type: Real}}, true, ""},
		{"missing type", Schema{"ColInt": {}, "ColFloat": {Type: Real}}, false, "ColInt"},
		{"bad type", Schema{"ColInt": {Type: "jello"}}, false, "ColInt"},
		{"underscore", Schema{"_foo": {Type: Count}}, false, "_foo"},
		{"dot", Schema{"b.d": {Type: Count}}, false, "b.d"},
		{"dollar", Schema{"b$d": {Type: Count}}, false, "b$d"},
	}
	for _, tc := range cases {
		err := tc.s.Validate()
		if tc.ok {
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tc.name, err)
			}
			continue
		}
		e, ok := verr.As(err)
		if !ok {
			t.Fatalf("%s: expected *verr.Error, got %v", tc.name, err)
		}
		if e.Col != tc.col {
			t.Fatalf("%s: expected col %q, got %q", tc.name, tc.col, e.Col)
		}
	}
}

func mustRules(t *testing.T, specs ...string) []Rule {
	t.Helper()
	var out []Rule
	for _, s := range specs {
		r, err := ParseRule(s)
		if err != nil {
			t.Fatalf("parse rule %q: %v", s, err)
		}
		out = append(out, r)
	}
	return out
}

func TestMakeSchemaFromHeaders(t *testing.T) {
	rules := mustRules(t, "Int.*=count", "Cat.*=categorical")
	got, err := MakeSchema(rules, []string{"IntA", "IntB", "CatA", "CatB", "Foo"})
	if err != nil {
		t.Fatalf("make schema: %v", err)
	}
	want := Schema{
		"CatA": {Type: Categorical},
		"CatB": {Type: Categorical},
		"IntA": {Type: Count},
		"IntB": {Type: Count},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestMakeSchemaFromRows(t *testing.T) {
	rules := mustRules(t, "Int.*=count", "Cat.*=categorical")
	rows := []Row{{"CatA": nil, "CatB": nil, "IntA": nil, "IntB": nil, "Foo": nil, IDKey: "1"}}
	got, err := MakeSchema(rules, HeadersFromRows(rows))
	if err != nil {
		t.Fatalf("make schema: %v", err)
	}
	if len(got) != 4 || got["IntA"].Type != Count || got["CatB"].Type != Categorical {
		t.Fatalf("unexpected schema %v", got)
	}
	if _, ok := got[IDKey]; ok {
		t.Fatalf("id key must not become a column")
	}
}

func TestMakeSchemaFirstRuleWins(t *testing.T) {
	rules := mustRules(t, "^Col=real", "Int=count")
	got, err := MakeSchema(rules, []string{"ColInt"})
	if err != nil {
		t.Fatalf("make schema: %v", err)
	}
	if got["ColInt"].Type != Real {
		t.Fatalf("expected first matching rule, got %v", got)
	}
}

func TestMakeSchemaNoHeadersFails(t *testing.T) {
	rules := mustRules(t, "Int.*=count")
	if _, err := MakeSchema(rules, nil); err == nil {
		t.Fatalf("expected error without headers")
	}
}

func TestParseRuleRejectsBadInput(t *testing.T) {
	for _, s := range []string{"nope", "=count", "Int=", "Int=jello", "(=count"} {
		if _, err := ParseRule(s); err == nil {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}

func TestLoadFileYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "schema.yaml")
	if err := os.WriteFile(yml, []byte("ColInt:\n  type: count\nColCat:\n  type: categorical\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	js := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(js, []byte(`{"ColInt": {"type": "count"}, "ColCat": {"type": "categorical"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := LoadFile(yml)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	b, err := LoadFile(js)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("yaml and json schemas differ: %v vs %v", a, b)
	}
	bad := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(bad, []byte(`{"ColInt": {"type": "jello"}}`), 0o644)
	if _, err := LoadFile(bad); err == nil {
		t.Fatalf("expected invalid type to fail")
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	s := Schema{"ColBool": {Type: Boolean}}
	if err := s.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil || !reflect.DeepEqual(got, s) {
		t.Fatalf("round trip mismatch: %v %v", got, err)
	}
}

func TestMakeIDs(t *testing.T) {
	a, b := MakeTableID(), MakeAnalysisID()
	if a == b {
		t.Fatalf("expected distinct ids")
	}
	for _, id := range []string{a, b} {
		if len(id) != 32 || strings.Contains(id, "-") {
			t.Fatalf("unexpected id form %q", id)
		}
		if err := CheckID(id); err != nil {
			t.Fatalf("generated id must be valid: %v", err)
		}
	}
}
