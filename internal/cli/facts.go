package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/satisfy/internal/ir"
)

// LoadFacts reads a YAML (or JSON) mapping of fact names to values.
// Timestamps become RFC 3339 strings, which delay conditions accept as
// reference facts. An empty path yields no facts.
func LoadFacts(path string) (ir.Object, error) {
	if path == "" {
		return ir.Object{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading facts file: %w", err)
	}

	return ParseFacts(data)
}

// ParseFacts decodes a YAML mapping of facts.
func ParseFacts(data []byte) (ir.Object, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing facts: %w", err)
	}

	v, err := ir.FromAny(raw)
	if err != nil {
		return nil, fmt.Errorf("facts: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return ir.Object{}, nil
	}
	return obj, nil
}
