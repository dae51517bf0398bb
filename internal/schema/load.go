package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a schema from a YAML or JSON file and validates it.
func LoadFile(path string) (Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("schema not found at %s: %w", path, err)
		}
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(b)
}

// Parse decodes a schema document. JSON input is accepted as a YAML subset.
func Parse(b []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if s == nil {
		s = Schema{}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes s as YAML.
func (s Schema) Save(path string) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return nil
}

// MakeTableID returns a fresh identifier suitable for a table.
func MakeTableID() string { return compactUUID() }

// MakeAnalysisID returns a fresh identifier suitable for an analysis.
func MakeAnalysisID() string { return compactUUID() }

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
