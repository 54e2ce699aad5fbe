package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dryRunDB builds SQL without a server. SkipDefaultTransaction keeps
// writes from opening a connection to begin one.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=test dbname=test sslmode=disable"}), &gorm.Config{
		DryRun:                 true,
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)
	return db
}

func TestProgressColumnsNeverLowerCounters(t *testing.T) {
	db := dryRunDB(t)
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&archivoModel{}).
			Where("id = ? AND estado = ?", "a1", string(EstadoProcesando)).
			Updates(progressColumns(Progress{Total: 10, Exitosos: 7, ConError: 3}))
	})

	assert.Contains(t, sql, `UPDATE "archivos"`)
	assert.Contains(t, sql, "GREATEST(total_registros, 10)")
	assert.Contains(t, sql, "GREATEST(registros_exitosos, 7)")
	assert.Contains(t, sql, "GREATEST(registros_con_error, 3)")
	assert.Contains(t, sql, "id = 'a1' AND estado = 'procesando'")
}

func TestListRecordsOrdersByUploadTime(t *testing.T) {
	db := dryRunDB(t)
	tipo := 41
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []registroModel
		return NewRepository(tx).recordsQuery(context.Background(), RecordFilter{
			CUPS:            testCUPS,
			TipoAutoconsumo: &tipo,
			Limit:           50,
		}).Find(&rows)
	})

	assert.Contains(t, sql, "JOIN archivos ON archivos.id = registros_energia.archivo_id")
	assert.Contains(t, sql, "registros_energia.cups = '"+testCUPS+"'")
	assert.Contains(t, sql, "registros_energia.tipo_autoconsumo = 41")
	assert.Contains(t, sql, "ORDER BY archivos.fecha_carga ASC")
	assert.Contains(t, sql, "registros_energia.linea_archivo ASC")
	assert.Contains(t, sql, "LIMIT 50")
	assert.NotContains(t, sql, "ORDER BY archivo_id")
}

func TestArchivoModelRoundTrip(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := &Archivo{
		ID:                 "a1",
		NombreArchivo:      "excedentes.xml",
		Formato:            FormatXML,
		HashArchivo:        "abc",
		RutaArchivo:        "/data/a1",
		Estado:             EstadoProcesando,
		TotalRegistros:     4,
		RegistrosExitosos:  3,
		RegistrosConError:  1,
		UsuarioID:          "u1",
		FechaCarga:         started.Add(-time.Minute),
		FechaProcesamiento: &started,
	}

	m := toArchivoModel(a)
	assert.Equal(t, "xml", m.Formato)
	assert.Equal(t, "procesando", m.Estado)
	assert.Equal(t, *a, m.toDomain())

	list := archivosFromModels([]archivoModel{m, m})
	assert.Len(t, list, 2)
}

func TestRegistroModelRecomputesTotals(t *testing.T) {
	rec := NewRegistroEnergia("a1", validFields())
	m, err := toRegistroModel(&rec)
	require.NoError(t, err)
	assert.JSONEq(t, `["10","20","5"]`, string(m.ValorEnergiaNetaGen))
	assert.True(t, m.TotalNetaGen.Equal(decimal.NewFromInt(35)))

	// A stale stored total is replaced by the sum of the series.
	m.TotalPago = decimal.NewFromInt(999)
	got, err := m.toDomain()
	require.NoError(t, err)
	assert.True(t, got.TotalPago.Equal(decimal.RequireFromString("4")), "got %s", got.TotalPago)
	assert.Equal(t, rec.CUPS, got.CUPS)
	assert.Equal(t, rec.LineaArchivo, got.LineaArchivo)
	assert.Len(t, got.PagoTDA, 3)
}

func TestRegistroModelRejectsCorruptSeries(t *testing.T) {
	rec := NewRegistroEnergia("a1", validFields())
	m, err := toRegistroModel(&rec)
	require.NoError(t, err)
	m.PagoTDA = datatypes.JSON(`{"not":"a list"}`)

	_, err = m.toDomain()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pago_tda")
}
