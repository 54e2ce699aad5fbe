package ingestion

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Fields is a syntactically decoded record. Business rules are not checked.
type Fields struct {
	Line            int
	CUPS            string
	InstalacionGen  string
	TipoAutoconsumo int
	FechaDesde      time.Time
	FechaHasta      time.Time
	NetaGen         []decimal.Decimal
	Autoconsumida   []decimal.Decimal
	PagoTDA         []decimal.Decimal
}

// Line is one parser outcome: exactly one of Fields and Err is set.
type Line struct {
	Number int
	Raw    string
	Fields *Fields
	Err    *LineError
}

// Parser turns an upload into a lazy sequence of line outcomes. It holds no
// per-file state and is safe for concurrent use.
type Parser struct {
	rules Rules
}

func NewParser(rules Rules) *Parser {
	return &Parser{rules: rules}
}

// Parse yields one Line per record. A non-nil error ends the sequence and
// means the input itself could not be read.
func (p *Parser) Parse(r io.Reader, format Format) iter.Seq2[Line, error] {
	switch format {
	case FormatCSV:
		return p.parseCSV(p.decodeText(r), p.rules.CSV)
	case FormatTXT:
		return p.parseTXT(p.decodeText(r), p.rules.TXT)
	case FormatXML:
		// XML declares its own charset; only the BOM is handled here.
		return p.parseXML(transform.NewReader(r, unicode.UTF8BOM.NewDecoder()))
	default:
		return func(yield func(Line, error) bool) {
			yield(Line{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format))
		}
	}
}

func (p *Parser) decodeText(r io.Reader) io.Reader {
	switch p.rules.Encoding {
	case "iso-8859-1", "latin1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	default:
		return transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
	}
}

func (p *Parser) parseDate(field, value string, line int) (time.Time, *LineError) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, lineErrorf(line, ErrorKindTruncated, "%s is empty", field)
	}
	for _, layout := range p.rules.DateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, lineErrorf(line, ErrorKindFormat, "%s %q is not a valid date", field, value)
}

func parseTipo(value string, line int) (int, *LineError) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, lineErrorf(line, ErrorKindTruncated, "tipo_autoconsumo is empty")
	}
	tipo, err := strconv.Atoi(value)
	if err != nil {
		return 0, lineErrorf(line, ErrorKindFormat, "tipo_autoconsumo %q is not an integer", value)
	}
	return tipo, nil
}

// Period values are bounded to what registros_energia stores exactly:
// totals are numeric(30,6), so a value may have at most 12 integer digits
// and 6 decimals. Exponent notation is not accepted.
const (
	maxIntegerDigits  = 12
	maxFractionDigits = 6
)

var (
	errNotNumeric    = errors.New("is not numeric")
	errValueTooLarge = fmt.Errorf("exceeds %d integer digits", maxIntegerDigits)
	errTooManyDigits = fmt.Errorf("has more than %d decimals", maxFractionDigits)

	plainDecimal = regexp.MustCompile(`^[+-]?([0-9]*)(?:[.,]([0-9]*))?$`)
)

// parseDecimal accepts both "12.5" and the Spanish "12,5".
func parseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	m := plainDecimal.FindStringSubmatch(value)
	if m == nil || m[1]+m[2] == "" {
		return decimal.Decimal{}, errNotNumeric
	}
	if len(strings.TrimLeft(m[1], "0")) > maxIntegerDigits {
		return decimal.Decimal{}, errValueTooLarge
	}
	if len(strings.TrimRight(m[2], "0")) > maxFractionDigits {
		return decimal.Decimal{}, errTooManyDigits
	}
	d, err := decimal.NewFromString(strings.Replace(value, ",", ".", 1))
	if err != nil {
		return decimal.Decimal{}, errNotNumeric
	}
	return d, nil
}

func parseSeries(field string, values []string, line int) ([]decimal.Decimal, *LineError) {
	out := make([]decimal.Decimal, 0, len(values))
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			return nil, lineErrorf(line, ErrorKindFormat, "%s has an empty value at position %d", field, i+1)
		}
		d, err := parseDecimal(v)
		if err != nil {
			return nil, lineErrorf(line, ErrorKindFormat, "%s value %q at position %d %v", field, v, i+1, err)
		}
		out = append(out, d)
	}
	return out, nil
}
