package rules

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Import/export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatFromPath picks the format implied by a file extension, defaulting to JSON.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Export writes rules as a trigger -> replacement mapping with sorted keys.
func Export(w io.Writer, rules map[string]string, format string) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rules); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		data, err := EncodeJSON(rules)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// Import reads a trigger -> replacement mapping. It accepts either a plain
// mapping or a list of {trigger, replacement} objects.
func Import(r io.Reader, format string) (map[string]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	var unmarshal func([]byte, any) error
	switch format {
	case FormatYAML:
		unmarshal = yaml.Unmarshal
	case FormatJSON, "":
		unmarshal = json.Unmarshal
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	var mapping map[string]string
	if err := unmarshal(data, &mapping); err == nil {
		if mapping == nil {
			mapping = map[string]string{}
		}
		return mapping, nil
	}

	var list []Rule
	if err := unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	mapping = make(map[string]string, len(list))
	for _, rule := range list {
		mapping[rule.Trigger] = rule.Replacement
	}
	return mapping, nil
}
