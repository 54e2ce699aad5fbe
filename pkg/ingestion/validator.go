package ingestion

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ValidationError reports the first business rule a decoded record breaks.
type ValidationError struct {
	Line        int
	Kind        ErrorKind
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Description)
}

// Width of the registros_energia.cups column. A configurable cups_pattern
// may accept longer codes; those fail here instead of in the insert.
const maxCUPSLength = 22

type Validator struct {
	cups           *regexp.Regexp
	tipos          map[int]struct{}
	tiposList      string
	seriesLength   int
	matchPeriodDay bool
}

func NewValidator(rules Rules) (*Validator, error) {
	pattern, err := regexp.Compile(rules.CUPSPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling cups pattern: %w", err)
	}

	tipos := make(map[int]struct{}, len(rules.TiposAutoconsumo))
	sorted := make([]int, 0, len(rules.TiposAutoconsumo))
	for _, t := range rules.TiposAutoconsumo {
		if _, dup := tipos[t]; !dup {
			tipos[t] = struct{}{}
			sorted = append(sorted, t)
		}
	}
	sort.Ints(sorted)
	names := make([]string, len(sorted))
	for i, t := range sorted {
		names[i] = fmt.Sprint(t)
	}

	return &Validator{
		cups:           pattern,
		tipos:          tipos,
		tiposList:      strings.Join(names, ", "),
		seriesLength:   rules.SeriesLength,
		matchPeriodDay: rules.SeriesMatchPeriodDays,
	}, nil
}

// Validate checks f in a fixed order and stops at the first failure.
func (v *Validator) Validate(f *Fields) error {
	fail := func(format string, args ...interface{}) error {
		return ValidationError{Line: f.Line, Kind: ErrorKindValidation, Description: fmt.Sprintf(format, args...)}
	}

	if utf8.RuneCountInString(f.CUPS) > maxCUPSLength {
		return fail("cups %q is longer than %d characters", f.CUPS, maxCUPSLength)
	}
	if !v.cups.MatchString(f.CUPS) {
		return fail("cups %q does not match the supply point code format", f.CUPS)
	}

	if strings.ContainsRune(f.InstalacionGen, 0) || !utf8.ValidString(f.InstalacionGen) {
		return fail("instalacion_gen %q contains bytes that cannot be stored", f.InstalacionGen)
	}

	if _, ok := v.tipos[f.TipoAutoconsumo]; !ok {
		return fail("tipo_autoconsumo %d is not supported (allowed: %s)", f.TipoAutoconsumo, v.tiposList)
	}

	if f.FechaDesde.After(f.FechaHasta) {
		return fail("fecha_desde %s is after fecha_hasta %s",
			f.FechaDesde.Format("2006-01-02"), f.FechaHasta.Format("2006-01-02"))
	}

	n := len(f.NetaGen)
	if n == 0 {
		return fail("valor_energia_neta_gen has no values")
	}
	if len(f.Autoconsumida) != n {
		return fail("valor_energia_autoconsumida has %d values, valor_energia_neta_gen has %d", len(f.Autoconsumida), n)
	}
	if len(f.PagoTDA) != n {
		return fail("pago_tda has %d values, valor_energia_neta_gen has %d", len(f.PagoTDA), n)
	}
	if v.seriesLength > 0 && n != v.seriesLength {
		return fail("series have %d values, expected %d", n, v.seriesLength)
	}
	if v.matchPeriodDay {
		days := int(f.FechaHasta.Sub(f.FechaDesde).Hours()/24) + 1
		if n != days {
			return fail("series have %d values, period %s..%s spans %d days", n,
				f.FechaDesde.Format("2006-01-02"), f.FechaHasta.Format("2006-01-02"), days)
		}
	}

	for _, s := range []struct {
		name   string
		values []decimal.Decimal
	}{
		{"valor_energia_neta_gen", f.NetaGen},
		{"valor_energia_autoconsumida", f.Autoconsumida},
		{"pago_tda", f.PagoTDA},
	} {
		for i, val := range s.values {
			if val.IsNegative() {
				return fail("%s value %s at position %d is negative", s.name, val.String(), i+1)
			}
		}
	}

	return nil
}
