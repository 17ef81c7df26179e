package rules

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("rules.yaml"))
	assert.Equal(t, FormatYAML, FormatFromPath("RULES.YML"))
	assert.Equal(t, FormatJSON, FormatFromPath("rules.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("-"))
}

func TestExportImport(t *testing.T) {
	rules := map[string]string{";b": "bravo", ";a": "alpha: one"}

	for _, format := range []string{FormatJSON, FormatYAML} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Export(&buf, rules, format))

			out := buf.String()
			assert.Less(t, strings.Index(out, ";a"), strings.Index(out, ";b"), "keys are sorted")

			imported, err := Import(&buf, format)
			require.NoError(t, err)
			assert.Equal(t, rules, imported)
		})
	}
}

func TestImportList(t *testing.T) {
	in := `- trigger: ";a"
  replacement: alpha
- trigger: ";b"
  replacement: bravo
`
	imported, err := Import(strings.NewReader(in), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{";a": "alpha", ";b": "bravo"}, imported)
}

func TestImportErrors(t *testing.T) {
	_, err := Import(strings.NewReader("{"), FormatJSON)
	assert.Error(t, err)

	_, err = Import(strings.NewReader("{}"), "toml")
	assert.Error(t, err)

	assert.Error(t, Export(&bytes.Buffer{}, nil, "toml"))
}
