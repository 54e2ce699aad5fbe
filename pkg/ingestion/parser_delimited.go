package ingestion

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"strings"
	"unicode/utf8"
)

// Column order of CSV and TXT records. instalacion_gen is optional.
const (
	colCUPS = iota
	colTipo
	colFechaDesde
	colFechaHasta
	colNetaGen
	colAutoconsumida
	colPagoTDA
	colInstalacionGen

	requiredColumns = colInstalacionGen
	maxColumns      = colInstalacionGen + 1
)

var headerNames = map[string]struct{}{
	"cups":         {},
	"cups_cliente": {},
	"cupscliente":  {},
}

func isHeader(cols []string) bool {
	if len(cols) == 0 {
		return false
	}
	_, ok := headerNames[strings.ToLower(strings.TrimSpace(cols[0]))]
	return ok
}

func isBlank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

// scanLines calls fn for every physical line with its 1-based number and
// the line terminator removed. A final line without a newline is included.
func scanLines(r io.Reader, fn func(number int, text string) bool) error {
	reader := bufio.NewReader(r)
	number := 0
	for {
		text, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		if text == "" && err == io.EOF {
			return nil
		}
		number++
		if !fn(number, strings.TrimRight(text, "\r\n")) {
			return nil
		}
		if err == io.EOF {
			return nil
		}
	}
}

// parseCSV decodes each physical line on its own, so an unbalanced quote
// fails that line and never pulls the following lines into its field.
func (p *Parser) parseCSV(r io.Reader, d DelimitedRules) iter.Seq2[Line, error] {
	comma := firstRune(d.Delimiter)
	return func(yield func(Line, error) bool) {
		first := true
		err := scanLines(r, func(number int, text string) bool {
			cols, err := splitCSVLine(text, comma)
			if err != nil {
				first = false
				return yield(Line{Number: number, Raw: text, Err: lineErrorf(number, ErrorKindFormat, "malformed CSV: %v", err)}, nil)
			}
			if isBlank(cols) {
				return true
			}
			if first {
				first = false
				if isHeader(cols) {
					return true
				}
			}
			out := Line{Number: number, Raw: text}
			out.Fields, out.Err = p.decodeColumns(number, cols, d)
			return yield(out, nil)
		})
		if err != nil {
			yield(Line{}, err)
		}
	}
}

func splitCSVLine(text string, comma rune) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	record, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, pe.Err
		}
		return nil, err
	}
	return record, nil
}

func (p *Parser) parseTXT(r io.Reader, d DelimitedRules) iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		first := true
		err := scanLines(r, func(number int, text string) bool {
			cols := strings.Split(text, d.Delimiter)
			if isBlank(cols) {
				return true
			}
			if first {
				first = false
				if isHeader(cols) {
					return true
				}
			}
			out := Line{Number: number, Raw: text}
			out.Fields, out.Err = p.decodeColumns(number, cols, d)
			return yield(out, nil)
		})
		if err != nil {
			yield(Line{}, err)
		}
	}
}

func (p *Parser) decodeColumns(line int, cols []string, d DelimitedRules) (*Fields, *LineError) {
	if len(cols) < requiredColumns {
		return nil, lineErrorf(line, ErrorKindTruncated, "expected %d fields, got %d", requiredColumns, len(cols))
	}
	if len(cols) > maxColumns {
		return nil, lineErrorf(line, ErrorKindFormat, "expected at most %d fields, got %d", maxColumns, len(cols))
	}

	f := &Fields{Line: line, CUPS: strings.TrimSpace(cols[colCUPS])}
	if len(cols) > colInstalacionGen {
		f.InstalacionGen = strings.TrimSpace(cols[colInstalacionGen])
	}

	var lerr *LineError
	if f.TipoAutoconsumo, lerr = parseTipo(cols[colTipo], line); lerr != nil {
		return nil, lerr
	}
	if f.FechaDesde, lerr = p.parseDate("fecha_desde", cols[colFechaDesde], line); lerr != nil {
		return nil, lerr
	}
	if f.FechaHasta, lerr = p.parseDate("fecha_hasta", cols[colFechaHasta], line); lerr != nil {
		return nil, lerr
	}

	if f.NetaGen, lerr = parseSeries("valor_energia_neta_gen", splitSeries(cols[colNetaGen], d.SeriesDelimiter), line); lerr != nil {
		return nil, lerr
	}
	if f.Autoconsumida, lerr = parseSeries("valor_energia_autoconsumida", splitSeries(cols[colAutoconsumida], d.SeriesDelimiter), line); lerr != nil {
		return nil, lerr
	}
	if f.PagoTDA, lerr = parseSeries("pago_tda", splitSeries(cols[colPagoTDA], d.SeriesDelimiter), line); lerr != nil {
		return nil, lerr
	}
	return f, nil
}

// splitSeries returns no values for an empty field so the validator can
// report the length problem.
func splitSeries(field, sep string) []string {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil
	}
	return strings.Split(field, sep)
}
