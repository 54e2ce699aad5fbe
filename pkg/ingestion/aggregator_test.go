package ingestion

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAggregateSumsEachSeries(t *testing.T) {
	totals := Aggregate(validFields())

	assert.True(t, totals.NetaGen.Equal(decimal.NewFromInt(35)), "got %s", totals.NetaGen)
	assert.True(t, totals.Autoconsumida.Equal(decimal.NewFromInt(6)), "got %s", totals.Autoconsumida)
	assert.True(t, totals.Pago.Equal(decimal.RequireFromString("4.0")), "got %s", totals.Pago)
}

func TestSumIsExact(t *testing.T) {
	values := make([]decimal.Decimal, 1000)
	for i := range values {
		values[i] = decimal.RequireFromString("0.1")
	}
	assert.Equal(t, "100", Sum(values).String())
	assert.True(t, Sum(nil).IsZero())
}

func TestNewRegistroEnergiaTotalsMatchSeries(t *testing.T) {
	f := validFields()
	f.InstalacionGen = "INST-1"

	rec := NewRegistroEnergia("archivo-1", f)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "archivo-1", rec.ArchivoID)
	assert.Equal(t, 7, rec.LineaArchivo)
	assert.Equal(t, "INST-1", rec.InstalacionGen)
	assert.True(t, rec.TotalPago.Equal(Sum(rec.PagoTDA)))
	assert.True(t, rec.TotalNetaGen.Equal(Sum(rec.ValorEnergiaNetaGen)))
	assert.True(t, rec.TotalAutoconsumida.Equal(Sum(rec.ValorEnergiaAutoconsumida)))

	rec.TotalPago = decimal.NewFromInt(999)
	rec.Recompute()
	assert.True(t, rec.TotalPago.Equal(decimal.RequireFromString("4")))
}
