package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

// Rule assigns a column descriptor to every header the pattern matches.
type Rule struct {
	Pattern *regexp.Regexp
	Column  Column
}

// ParseRule parses "PATTERN=TYPE", e.g. "Int.*=count".
func ParseRule(s string) (Rule, error) {
	i := strings.LastIndex(s, "=")
	if i <= 0 || i == len(s)-1 {
		return Rule{}, verr.New("invalid schema rule %q: expected PATTERN=TYPE", s)
	}
	pat, typ := s[:i], strings.TrimSpace(s[i+1:])
	if err := CheckDatatype(typ); err != nil {
		return Rule{}, err
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return Rule{}, verr.Wrap(verr.KindGeneral, err, "invalid schema rule pattern %q", pat)
	}
	return Rule{Pattern: re, Column: Column{Type: DataType(typ)}}, nil
}

// MakeSchema builds a schema from headers. Each header takes the descriptor of
// the first rule whose pattern matches it; unmatched headers are left out.
func MakeSchema(rules []Rule, headers []string) (Schema, error) {
	if len(headers) == 0 {
		return nil, verr.New("make schema: no headers or rows to build from")
	}
	out := Schema{}
	for _, h := range headers {
		if h == IDKey || h == RequestIDKey {
			continue
		}
		for _, r := range rules {
			if r.Pattern != nil && r.Pattern.MatchString(h) {
				out[h] = r.Column
				break
			}
		}
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("make schema: %w", err)
	}
	return out, nil
}

// HeadersFromRows returns the sorted union of keys across rows.
func HeadersFromRows(rows []Row) []string {
	seen := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
