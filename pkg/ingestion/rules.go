package ingestion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// DefaultCUPSPattern is the Spanish supply point code: "ES", 16 digits,
// two control letters and an optional two-character border point suffix.
const DefaultCUPSPattern = `^ES[0-9]{16}[A-Z]{2}([0-9][A-Z])?$`

type DelimitedRules struct {
	Delimiter       string `yaml:"delimiter" json:"delimiter"`
	SeriesDelimiter string `yaml:"series_delimiter" json:"series_delimiter"`
}

type XMLRules struct {
	RecordElement string `yaml:"record_element" json:"record_element"`
}

// Rules configures parsing and validation. Loaded from YAML so operators can
// adjust formats without a release.
type Rules struct {
	CUPSPattern            string         `yaml:"cups_pattern" json:"cups_pattern"`
	TiposAutoconsumo       []int          `yaml:"tipos_autoconsumo" json:"tipos_autoconsumo"`
	SeriesLength           int            `yaml:"series_length" json:"series_length"`
	SeriesMatchPeriodDays  bool           `yaml:"series_match_period_days" json:"series_match_period_days"`
	RejectDuplicateRecords bool           `yaml:"reject_duplicate_records" json:"reject_duplicate_records"`
	Encoding               string         `yaml:"encoding" json:"encoding"`
	DateLayouts            []string       `yaml:"date_layouts" json:"date_layouts"`
	CSV                    DelimitedRules `yaml:"csv" json:"csv"`
	TXT                    DelimitedRules `yaml:"txt" json:"txt"`
	XML                    XMLRules       `yaml:"xml" json:"xml"`
}

func DefaultRules() Rules {
	return Rules{
		CUPSPattern:            DefaultCUPSPattern,
		TiposAutoconsumo:       []int{12, 41, 42, 43, 51},
		RejectDuplicateRecords: true,
		Encoding:               "utf-8",
		DateLayouts:            []string{"2006-01-02", "02/01/2006", "2006-01-02T15:04:05Z07:00"},
		CSV:                    DelimitedRules{Delimiter: ";", SeriesDelimiter: "|"},
		TXT:                    DelimitedRules{Delimiter: "\t", SeriesDelimiter: "|"},
		XML:                    XMLRules{RecordElement: "registro"},
	}
}

// LoadRules reads a YAML rules file on top of DefaultRules. An empty path
// returns the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return rules, fmt.Errorf("reading rules file: %w", err)
	}
	if err := yaml.Unmarshal(content, &rules); err != nil {
		return Rules{}, fmt.Errorf("parsing rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) Validate() error {
	if _, err := regexp.Compile(r.CUPSPattern); err != nil {
		return fmt.Errorf("invalid cups_pattern: %w", err)
	}
	if len(r.TiposAutoconsumo) == 0 {
		return errors.New("tipos_autoconsumo must not be empty")
	}
	if r.SeriesLength < 0 {
		return errors.New("series_length must be >= 0")
	}
	if len(r.DateLayouts) == 0 {
		return errors.New("date_layouts must not be empty")
	}
	for name, d := range map[string]DelimitedRules{"csv": r.CSV, "txt": r.TXT} {
		if utf8.RuneCountInString(d.Delimiter) != 1 || utf8.RuneCountInString(d.SeriesDelimiter) != 1 {
			return fmt.Errorf("%s delimiters must be single characters", name)
		}
		if d.Delimiter == d.SeriesDelimiter {
			return fmt.Errorf("%s delimiter and series_delimiter must differ", name)
		}
	}
	if r.XML.RecordElement == "" {
		return errors.New("xml.record_element must not be empty")
	}
	switch r.Encoding {
	case "", "utf-8", "iso-8859-1", "latin1":
	default:
		return fmt.Errorf("unsupported encoding %q", r.Encoding)
	}
	return nil
}
