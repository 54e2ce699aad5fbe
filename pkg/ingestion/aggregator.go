package ingestion

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Totals struct {
	NetaGen       decimal.Decimal
	Autoconsumida decimal.Decimal
	Pago          decimal.Decimal
}

// Sum adds values exactly; decimal arithmetic does not drift over long series.
func Sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func Aggregate(f *Fields) Totals {
	return Totals{
		NetaGen:       Sum(f.NetaGen),
		Autoconsumida: Sum(f.Autoconsumida),
		Pago:          Sum(f.PagoTDA),
	}
}

// Recompute overwrites the totals of r from its series.
func (r *RegistroEnergia) Recompute() {
	r.TotalNetaGen = Sum(r.ValorEnergiaNetaGen)
	r.TotalAutoconsumida = Sum(r.ValorEnergiaAutoconsumida)
	r.TotalPago = Sum(r.PagoTDA)
}

// NewRegistroEnergia builds the stored record for a validated line.
func NewRegistroEnergia(archivoID string, f *Fields) RegistroEnergia {
	totals := Aggregate(f)
	return RegistroEnergia{
		ID:                        uuid.New().String(),
		ArchivoID:                 archivoID,
		LineaArchivo:              f.Line,
		CUPS:                      f.CUPS,
		InstalacionGen:            f.InstalacionGen,
		TipoAutoconsumo:           f.TipoAutoconsumo,
		FechaDesde:                f.FechaDesde,
		FechaHasta:                f.FechaHasta,
		ValorEnergiaNetaGen:       f.NetaGen,
		ValorEnergiaAutoconsumida: f.Autoconsumida,
		PagoTDA:                   f.PagoTDA,
		TotalNetaGen:              totals.NetaGen,
		TotalAutoconsumida:        totals.Autoconsumida,
		TotalPago:                 totals.Pago,
		FechaCreacion:             time.Now().UTC(),
	}
}
