package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func validFields() *Fields {
	return &Fields{
		Line:            7,
		CUPS:            testCUPS,
		TipoAutoconsumo: 41,
		FechaDesde:      date("2024-01-01"),
		FechaHasta:      date("2024-01-03"),
		NetaGen:         decimals("10", "20", "5"),
		Autoconsumida:   decimals("2", "3", "1"),
		PagoTDA:         decimals("1.5", "2.0", "0.5"),
	}
}

func mustValidator(t *testing.T, rules Rules) *Validator {
	t.Helper()
	v, err := NewValidator(rules)
	require.NoError(t, err)
	return v
}

func TestValidatorAcceptsValidRecord(t *testing.T) {
	v := mustValidator(t, DefaultRules())
	assert.NoError(t, v.Validate(validFields()))

	f := validFields()
	f.CUPS = "ES0021000000000001AB1F"
	assert.NoError(t, v.Validate(f), "border point suffix is allowed")
}

func TestValidatorRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(f *Fields)
		mention string
	}{
		{"lowercase cups", func(f *Fields) { f.CUPS = "es0021000000000001ab" }, "cups"},
		{"short cups", func(f *Fields) { f.CUPS = "ES00210000AB" }, "cups"},
		{"nul in instalacion_gen", func(f *Fields) { f.InstalacionGen = "INST\x001" }, "instalacion_gen"},
		{"unknown tipo", func(f *Fields) { f.TipoAutoconsumo = 99 }, "tipo_autoconsumo"},
		{"desde after hasta", func(f *Fields) { f.FechaDesde = date("2024-02-01") }, "fecha_desde"},
		{"empty series", func(f *Fields) {
			f.NetaGen, f.Autoconsumida, f.PagoTDA = nil, nil, nil
		}, "valor_energia_neta_gen"},
		{"autoconsumida length", func(f *Fields) { f.Autoconsumida = decimals("1", "2") }, "valor_energia_autoconsumida"},
		{"pago length", func(f *Fields) { f.PagoTDA = decimals("1", "2", "3", "4") }, "pago_tda"},
		{"negative pago", func(f *Fields) { f.PagoTDA = decimals("1", "-0.01", "1") }, "pago_tda"},
		{"negative generation", func(f *Fields) { f.NetaGen = decimals("-1", "0", "0") }, "valor_energia_neta_gen"},
	}

	v := mustValidator(t, DefaultRules())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validFields()
			tc.mutate(f)

			err := v.Validate(f)
			require.Error(t, err)
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, 7, ve.Line)
			assert.Equal(t, ErrorKindValidation, ve.Kind)
			assert.Contains(t, ve.Description, tc.mention)
		})
	}
}

func TestValidatorStopsAtFirstFailure(t *testing.T) {
	v := mustValidator(t, DefaultRules())
	f := validFields()
	f.CUPS = "XX"
	f.TipoAutoconsumo = 99
	f.FechaDesde = date("2025-01-01")

	var ve ValidationError
	require.ErrorAs(t, v.Validate(f), &ve)
	assert.Contains(t, ve.Description, "cups")
	assert.NotContains(t, ve.Description, "tipo_autoconsumo")
}

func TestValidatorSeriesLengthRules(t *testing.T) {
	t.Run("fixed length", func(t *testing.T) {
		rules := DefaultRules()
		rules.SeriesLength = 6
		v := mustValidator(t, rules)
		assert.Error(t, v.Validate(validFields()))

		f := validFields()
		f.NetaGen = decimals("1", "1", "1", "1", "1", "1")
		f.Autoconsumida = decimals("0", "0", "0", "0", "0", "0")
		f.PagoTDA = decimals("0", "0", "0", "0", "0", "0")
		assert.NoError(t, v.Validate(f))
	})

	t.Run("one value per day", func(t *testing.T) {
		rules := DefaultRules()
		rules.SeriesMatchPeriodDays = true
		v := mustValidator(t, rules)
		assert.NoError(t, v.Validate(validFields()), "2024-01-01..2024-01-03 is three days")

		f := validFields()
		f.FechaHasta = date("2024-01-04")
		var ve ValidationError
		require.ErrorAs(t, v.Validate(f), &ve)
		assert.Contains(t, ve.Description, "4 days")
	})
}

func TestValidatorCustomTipos(t *testing.T) {
	rules := DefaultRules()
	rules.TiposAutoconsumo = []int{1, 2}
	v := mustValidator(t, rules)

	var ve ValidationError
	require.ErrorAs(t, v.Validate(validFields()), &ve)
	assert.Contains(t, ve.Description, "allowed: 1, 2")
}

func TestValidatorRejectsCUPSWiderThanTheColumn(t *testing.T) {
	rules := DefaultRules()
	rules.CUPSPattern = `^ES[0-9A-Z]+$`
	v := mustValidator(t, rules)

	f := validFields()
	f.CUPS = "ES0021000000000001AB1F"
	assert.NoError(t, v.Validate(f))

	f.CUPS = "ES0021000000000001AB1F99"
	var ve ValidationError
	require.ErrorAs(t, v.Validate(f), &ve)
	assert.Equal(t, ErrorKindValidation, ve.Kind)
	assert.Contains(t, ve.Description, "longer than 22")
}
