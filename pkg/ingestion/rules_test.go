package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRulesEmptyPathReturnsDefaults(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}

func TestLoadRulesOverlaysDefaults(t *testing.T) {
	path := writeRules(t, `
tipos_autoconsumo: [1, 2]
series_length: 24
txt:
  delimiter: ","
  series_delimiter: "|"
encoding: iso-8859-1
`)

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, rules.TiposAutoconsumo)
	assert.Equal(t, 24, rules.SeriesLength)
	assert.Equal(t, ",", rules.TXT.Delimiter)
	assert.Equal(t, "iso-8859-1", rules.Encoding)
	assert.Equal(t, DefaultCUPSPattern, rules.CUPSPattern, "unset keys keep their defaults")
	assert.Equal(t, ";", rules.CSV.Delimiter)
	assert.True(t, rules.RejectDuplicateRecords)
}

func TestLoadRulesRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "tipos_autoconsumo: [1,", "parsing rules file"},
		{"bad pattern", `cups_pattern: "("`, "invalid cups_pattern"},
		{"no tipos", "tipos_autoconsumo: []", "tipos_autoconsumo"},
		{"negative length", "series_length: -1", "series_length"},
		{"same delimiters", "csv:\n  delimiter: \"|\"\n  series_delimiter: \"|\"", "must differ"},
		{"long delimiter", "csv:\n  delimiter: \";;\"", "single characters"},
		{"encoding", "encoding: utf-16", "unsupported encoding"},
		{"no record element", "xml:\n  record_element: \"\"", "record_element"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(writeRules(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestShippedRulesMatchDefaults(t *testing.T) {
	rules, err := LoadRules(filepath.Join("..", "..", "configs", "ingestion-rules.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}
