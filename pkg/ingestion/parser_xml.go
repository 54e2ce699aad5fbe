package ingestion

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

type xmlValue struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

// xmlSerie holds either <hora> children or <p1>..<pN> children.
type xmlSerie struct {
	Values []xmlValue `xml:",any"`
}

type xmlRegistro struct {
	CUPS            *string   `xml:"cupsCliente"`
	InstalacionGen  *string   `xml:"instalacionGen"`
	FechaDesde      *string   `xml:"fechaDesde"`
	FechaHasta      *string   `xml:"fechaHasta"`
	TipoAutoconsumo *string   `xml:"tipoAutoconsumo"`
	NetaGen         *xmlSerie `xml:"energiaNetaGen"`
	Autoconsumida   *xmlSerie `xml:"energiaAutoconsumida"`
	PagoTDA         *xmlSerie `xml:"pagoTDA"`
}

// Collective self-consumption documents carry one supply point in a
// <Cabecera> and its periods as <Registro> rows under <Registros>.
const (
	collectiveRoot    = "AutoconsumoColectivo"
	collectivePeriods = 6
)

type xmlCabecera struct {
	CUPS            *string `xml:"CUPS"`
	InstalacionGen  *string `xml:"InstalacionGen"`
	TipoAutoconsumo *string `xml:"TipoAutoconsumo"`
	FechaDesde      *string `xml:"PeriodoFacturacion>FechaDesde"`
	FechaHasta      *string `xml:"PeriodoFacturacion>FechaHasta"`
}

type xmlPeriodo struct {
	NetaGen       *string `xml:"EnergiaNetaGenerada"`
	Autoconsumida *string `xml:"EnergiaAutoconsumida"`
	PagoTDA       *string `xml:"PagoTDA"`
}

type xmlRegistros struct {
	Periodos []xmlPeriodo `xml:"Registro"`
}

type xmlColectivo struct {
	rootLine     int
	cabeceraLine int
	cabecera     *xmlCabecera
	registros    *xmlRegistros
}

var periodTag = regexp.MustCompile(`^[pP]([0-9]+)$`)

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported XML charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

func (p *Parser) parseXML(r io.Reader) iter.Seq2[Line, error] {
	recordElement := p.rules.XML.RecordElement
	return func(yield func(Line, error) bool) {
		dec := xml.NewDecoder(r)
		dec.CharsetReader = charsetReader

		sawElement := false
		var colectivo *xmlColectivo
		for {
			// The decoder sits on the '<' of the next tag here, so this is
			// the line where a record's opening tag starts.
			startLine, _ := dec.InputPos()
			tok, err := dec.Token()
			if err == io.EOF {
				switch {
				case !sawElement:
					yield(Line{Number: 1, Err: lineErrorf(1, ErrorKindFormat, "document has no XML elements")}, nil)
				case colectivo != nil:
					yield(p.decodeColectivo(colectivo), nil)
				}
				return
			}
			if err != nil {
				if out, ok := xmlSyntaxLine(err); ok {
					yield(out, nil)
					return
				}
				yield(Line{}, err)
				return
			}

			start, ok := tok.(xml.StartElement)
			if !ok {
				continue
			}
			if !sawElement {
				sawElement = true
				if start.Name.Local == collectiveRoot {
					colectivo = &xmlColectivo{rootLine: startLine}
					continue
				}
			}

			if colectivo != nil {
				if err := colectivo.decode(dec, &start, startLine); err != nil {
					if out, ok := xmlSyntaxLine(err); ok {
						yield(out, nil)
						return
					}
					yield(Line{}, err)
					return
				}
				continue
			}
			if start.Name.Local != recordElement {
				continue
			}

			var rec xmlRegistro
			if err := dec.DecodeElement(&rec, &start); err != nil {
				if out, ok := xmlSyntaxLine(err); ok {
					yield(out, nil)
					return
				}
				yield(Line{}, err)
				return
			}

			out := Line{Number: startLine, Raw: rec.raw()}
			out.Fields, out.Err = p.decodeXMLRecord(startLine, &rec)
			if !yield(out, nil) {
				return
			}
		}
	}
}

// xmlSyntaxLine converts a tokenizer failure into a line outcome. The
// decoder cannot resynchronise afterwards, so the sequence ends there.
func xmlSyntaxLine(err error) (Line, bool) {
	var se *xml.SyntaxError
	if !errors.As(err, &se) {
		return Line{}, false
	}
	kind := ErrorKindFormat
	if strings.Contains(se.Msg, "unexpected EOF") {
		kind = ErrorKindTruncated
	}
	return Line{Number: se.Line, Err: lineErrorf(se.Line, kind, "malformed XML: %s", se.Msg)}, true
}

func (p *Parser) decodeXMLRecord(line int, rec *xmlRegistro) (*Fields, *LineError) {
	required := []struct {
		tag   string
		value *string
	}{
		{"cupsCliente", rec.CUPS},
		{"tipoAutoconsumo", rec.TipoAutoconsumo},
		{"fechaDesde", rec.FechaDesde},
		{"fechaHasta", rec.FechaHasta},
	}
	for _, r := range required {
		if r.value == nil {
			return nil, lineErrorf(line, ErrorKindTruncated, "missing element <%s>", r.tag)
		}
	}
	blocks := []struct {
		tag   string
		serie *xmlSerie
	}{
		{"energiaNetaGen", rec.NetaGen},
		{"energiaAutoconsumida", rec.Autoconsumida},
		{"pagoTDA", rec.PagoTDA},
	}
	for _, b := range blocks {
		if b.serie == nil {
			return nil, lineErrorf(line, ErrorKindTruncated, "missing element <%s>", b.tag)
		}
	}

	f := &Fields{Line: line, CUPS: strings.TrimSpace(*rec.CUPS)}
	if rec.InstalacionGen != nil {
		f.InstalacionGen = strings.TrimSpace(*rec.InstalacionGen)
	}

	var lerr *LineError
	if f.TipoAutoconsumo, lerr = parseTipo(*rec.TipoAutoconsumo, line); lerr != nil {
		return nil, lerr
	}
	if f.FechaDesde, lerr = p.parseDate("fecha_desde", *rec.FechaDesde, line); lerr != nil {
		return nil, lerr
	}
	if f.FechaHasta, lerr = p.parseDate("fecha_hasta", *rec.FechaHasta, line); lerr != nil {
		return nil, lerr
	}
	if f.NetaGen, lerr = parseSeries("valor_energia_neta_gen", rec.NetaGen.values(), line); lerr != nil {
		return nil, lerr
	}
	if f.Autoconsumida, lerr = parseSeries("valor_energia_autoconsumida", rec.Autoconsumida.values(), line); lerr != nil {
		return nil, lerr
	}
	if f.PagoTDA, lerr = parseSeries("pago_tda", rec.PagoTDA.values(), line); lerr != nil {
		return nil, lerr
	}
	return f, nil
}

// values returns the period values in document order, or by period number
// when every child is named p<N>.
func (s *xmlSerie) values() []string {
	items := make([]xmlValue, len(s.Values))
	copy(items, s.Values)

	numbered := len(items) > 0
	for _, it := range items {
		if !periodTag.MatchString(it.XMLName.Local) {
			numbered = false
			break
		}
	}
	if numbered {
		sort.SliceStable(items, func(i, j int) bool {
			return periodIndex(items[i].XMLName.Local) < periodIndex(items[j].XMLName.Local)
		})
	}

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Text
	}
	return out
}

func periodIndex(tag string) int {
	m := periodTag.FindStringSubmatch(tag)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func (r *xmlRegistro) raw() string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return strings.TrimSpace(*s)
	}
	serie := func(s *xmlSerie) string {
		if s == nil {
			return ""
		}
		return strings.Join(s.values(), "|")
	}
	return strings.Join([]string{
		deref(r.CUPS),
		deref(r.TipoAutoconsumo),
		deref(r.FechaDesde),
		deref(r.FechaHasta),
		serie(r.NetaGen),
		serie(r.Autoconsumida),
		serie(r.PagoTDA),
		deref(r.InstalacionGen),
	}, ";")
}

// decode consumes one child element of the collective root. Unknown
// children are skipped.
func (c *xmlColectivo) decode(dec *xml.Decoder, start *xml.StartElement, line int) error {
	switch start.Name.Local {
	case "Cabecera":
		c.cabeceraLine = line
		c.cabecera = &xmlCabecera{}
		return dec.DecodeElement(c.cabecera, start)
	case "Registros":
		c.registros = &xmlRegistros{}
		return dec.DecodeElement(c.registros, start)
	default:
		return dec.Skip()
	}
}

// decodeColectivo folds a collective document into one record attributed
// to its <Cabecera>. With series_length unset every <Registro> is a period
// and at least six are required; otherwise the first series_length are used.
func (p *Parser) decodeColectivo(c *xmlColectivo) Line {
	line := c.rootLine
	if c.cabecera != nil {
		line = c.cabeceraLine
	}
	out := Line{Number: line, Raw: c.raw()}
	fail := func(kind ErrorKind, format string, args ...interface{}) Line {
		out.Err = lineErrorf(line, kind, format, args...)
		return out
	}

	if c.cabecera == nil || c.registros == nil {
		return fail(ErrorKindTruncated, "<%s> must contain <Cabecera> and <Registros>", collectiveRoot)
	}
	h := c.cabecera
	for _, r := range []struct {
		tag   string
		value *string
	}{
		{"CUPS", h.CUPS},
		{"TipoAutoconsumo", h.TipoAutoconsumo},
		{"PeriodoFacturacion/FechaDesde", h.FechaDesde},
		{"PeriodoFacturacion/FechaHasta", h.FechaHasta},
	} {
		if r.value == nil {
			return fail(ErrorKindTruncated, "<Cabecera> is missing <%s>", r.tag)
		}
	}

	periods := c.registros.Periodos
	want := p.rules.SeriesLength
	if want == 0 {
		want = collectivePeriods
	}
	if len(periods) < want {
		return fail(ErrorKindTruncated, "<Registros> has %d <Registro>, expected at least %d", len(periods), want)
	}
	if p.rules.SeriesLength > 0 {
		periods = periods[:p.rules.SeriesLength]
	}

	neta := make([]string, len(periods))
	auto := make([]string, len(periods))
	pago := make([]string, len(periods))
	for i, r := range periods {
		for _, v := range []struct {
			tag   string
			value *string
			dst   *string
		}{
			{"EnergiaNetaGenerada", r.NetaGen, &neta[i]},
			{"EnergiaAutoconsumida", r.Autoconsumida, &auto[i]},
			{"PagoTDA", r.PagoTDA, &pago[i]},
		} {
			if v.value == nil {
				return fail(ErrorKindTruncated, "<Registro> %d is missing <%s>", i+1, v.tag)
			}
			*v.dst = *v.value
		}
	}

	f := &Fields{Line: line, CUPS: strings.TrimSpace(*h.CUPS)}
	if h.InstalacionGen != nil {
		f.InstalacionGen = strings.TrimSpace(*h.InstalacionGen)
	}
	var lerr *LineError
	if f.TipoAutoconsumo, lerr = parseTipo(*h.TipoAutoconsumo, line); lerr != nil {
		out.Err = lerr
		return out
	}
	if f.FechaDesde, lerr = p.parseDate("fecha_desde", *h.FechaDesde, line); lerr != nil {
		out.Err = lerr
		return out
	}
	if f.FechaHasta, lerr = p.parseDate("fecha_hasta", *h.FechaHasta, line); lerr != nil {
		out.Err = lerr
		return out
	}
	if f.NetaGen, lerr = parseSeries("valor_energia_neta_gen", neta, line); lerr != nil {
		out.Err = lerr
		return out
	}
	if f.Autoconsumida, lerr = parseSeries("valor_energia_autoconsumida", auto, line); lerr != nil {
		out.Err = lerr
		return out
	}
	if f.PagoTDA, lerr = parseSeries("pago_tda", pago, line); lerr != nil {
		out.Err = lerr
		return out
	}
	out.Fields = f
	return out
}

func (c *xmlColectivo) raw() string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return strings.TrimSpace(*s)
	}
	var head []string
	if h := c.cabecera; h != nil {
		head = []string{deref(h.CUPS), deref(h.TipoAutoconsumo), deref(h.FechaDesde), deref(h.FechaHasta)}
	}
	var neta, auto, pago []string
	if c.registros != nil {
		for _, r := range c.registros.Periodos {
			neta = append(neta, deref(r.NetaGen))
			auto = append(auto, deref(r.Autoconsumida))
			pago = append(pago, deref(r.PagoTDA))
		}
	}
	return strings.Join(append(head,
		strings.Join(neta, "|"),
		strings.Join(auto, "|"),
		strings.Join(pago, "|"),
	), ";")
}
