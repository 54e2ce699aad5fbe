package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const insertBatchSize = 500

type archivoModel struct {
	ID                 string `gorm:"primaryKey;size:36"`
	NombreArchivo      string `gorm:"not null"`
	Formato            string `gorm:"size:8;not null"`
	HashArchivo        string `gorm:"size:64;index"`
	RutaArchivo        string
	Estado             string `gorm:"size:16;index;not null"`
	TotalRegistros     int    `gorm:"not null;default:0"`
	RegistrosExitosos  int    `gorm:"not null;default:0"`
	RegistrosConError  int    `gorm:"not null;default:0"`
	Detalle            string
	UsuarioID          string    `gorm:"size:64;index"`
	FechaCarga         time.Time `gorm:"index;not null"`
	FechaProcesamiento *time.Time
	FechaFin           *time.Time
}

func (archivoModel) TableName() string { return "archivos" }

type registroModel struct {
	ID                        string `gorm:"primaryKey;size:36"`
	ArchivoID                 string `gorm:"size:36;index;not null"`
	LineaArchivo              int    `gorm:"not null"`
	CUPS                      string `gorm:"column:cups;size:22;index:idx_registro_periodo;not null"`
	InstalacionGen            string
	TipoAutoconsumo           int             `gorm:"index"`
	FechaDesde                time.Time       `gorm:"index:idx_registro_periodo"`
	FechaHasta                time.Time       `gorm:"index:idx_registro_periodo"`
	ValorEnergiaNetaGen       datatypes.JSON  `gorm:"not null"`
	ValorEnergiaAutoconsumida datatypes.JSON  `gorm:"not null"`
	PagoTDA                   datatypes.JSON  `gorm:"column:pago_tda;not null"`
	TotalNetaGen              decimal.Decimal `gorm:"type:numeric(30,6)"`
	TotalAutoconsumida        decimal.Decimal `gorm:"type:numeric(30,6)"`
	TotalPago                 decimal.Decimal `gorm:"type:numeric(30,6)"`
	FechaCreacion             time.Time
}

func (registroModel) TableName() string { return "registros_energia" }

type errorModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	ArchivoID     string `gorm:"size:36;index;not null"`
	LineaArchivo  int    `gorm:"not null"`
	TipoError     string `gorm:"size:16;not null"`
	Descripcion   string `gorm:"not null"`
	DatosLinea    string
	FechaRegistro time.Time
}

func (errorModel) TableName() string { return "errores_archivo" }

// Repository is the PostgreSQL Store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&archivoModel{}, &registroModel{}, &errorModel{})
}

func (r *Repository) CreateArchivo(ctx context.Context, a *Archivo) error {
	m := toArchivoModel(a)
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *Repository) GetArchivo(ctx context.Context, id string) (*Archivo, error) {
	var m archivoModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	a := m.toDomain()
	return &a, nil
}

func (r *Repository) ListArchivos(ctx context.Context, limit int) ([]Archivo, error) {
	var rows []archivoModel
	q := r.db.WithContext(ctx).Order("fecha_carga DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return archivosFromModels(rows), nil
}

func (r *Repository) ListArchivosByEstado(ctx context.Context, estado Estado) ([]Archivo, error) {
	var rows []archivoModel
	err := r.db.WithContext(ctx).
		Where("estado = ?", string(estado)).
		Order("fecha_carga ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return archivosFromModels(rows), nil
}

func (r *Repository) FindArchivoByHash(ctx context.Context, hash string) (*Archivo, error) {
	var m archivoModel
	result := r.db.WithContext(ctx).
		Where("hash_archivo = ? AND estado <> ?", hash, string(EstadoError)).
		Order("fecha_carga DESC").
		First(&m)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	a := m.toDomain()
	return &a, nil
}

func (r *Repository) ClaimArchivo(ctx context.Context, id string, at time.Time) (*Archivo, error) {
	result := r.db.WithContext(ctx).Model(&archivoModel{}).
		Where("id = ? AND estado = ?", id, string(EstadoPendiente)).
		Updates(map[string]interface{}{
			"estado":              string(EstadoProcesando),
			"fecha_procesamiento": at,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.stateConflict(ctx, id)
	}
	return r.GetArchivo(ctx, id)
}

func (r *Repository) UpdateProgress(ctx context.Context, id string, p Progress) error {
	result := r.db.WithContext(ctx).Model(&archivoModel{}).
		Where("id = ? AND estado = ?", id, string(EstadoProcesando)).
		Updates(progressColumns(p))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.stateConflict(ctx, id)
	}
	return nil
}

func (r *Repository) FinishArchivo(ctx context.Context, id string, estado Estado, p Progress, detalle string, at time.Time) error {
	if !estado.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal state", ErrInvalidState, estado)
	}
	cols := progressColumns(p)
	cols["estado"] = string(estado)
	cols["detalle"] = detalle
	cols["fecha_fin"] = at

	result := r.db.WithContext(ctx).Model(&archivoModel{}).
		Where("id = ? AND estado = ?", id, string(EstadoProcesando)).
		Updates(cols)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.stateConflict(ctx, id)
	}
	return nil
}

// progressColumns keeps counters monotonic even if an older flush lands late.
func progressColumns(p Progress) map[string]interface{} {
	return map[string]interface{}{
		"total_registros":     gorm.Expr("GREATEST(total_registros, ?)", p.Total),
		"registros_exitosos":  gorm.Expr("GREATEST(registros_exitosos, ?)", p.Exitosos),
		"registros_con_error": gorm.Expr("GREATEST(registros_con_error, ?)", p.ConError),
	}
}

func (r *Repository) stateConflict(ctx context.Context, id string) error {
	a, err := r.GetArchivo(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: archivo %s is %s", ErrInvalidState, id, a.Estado)
}

func (r *Repository) SaveRecords(ctx context.Context, records []RegistroEnergia) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]registroModel, 0, len(records))
	for i := range records {
		m, err := toRegistroModel(&records[i])
		if err != nil {
			return err
		}
		rows = append(rows, m)
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, insertBatchSize).Error
}

func (r *Repository) ListRecords(ctx context.Context, filter RecordFilter) ([]RegistroEnergia, error) {
	var rows []registroModel
	if err := r.recordsQuery(ctx, filter).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]RegistroEnergia, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// recordsQuery orders records by upload time of their archivo, then by
// line, the same order MemoryStore uses.
func (r *Repository) recordsQuery(ctx context.Context, filter RecordFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&registroModel{}).
		Select("registros_energia.*").
		Joins("JOIN archivos ON archivos.id = registros_energia.archivo_id")
	if filter.ArchivoID != "" {
		q = q.Where("registros_energia.archivo_id = ?", filter.ArchivoID)
	}
	if filter.CUPS != "" {
		q = q.Where("registros_energia.cups = ?", filter.CUPS)
	}
	if filter.FechaDesde != nil {
		q = q.Where("registros_energia.fecha_desde >= ?", *filter.FechaDesde)
	}
	if filter.FechaHasta != nil {
		q = q.Where("registros_energia.fecha_hasta <= ?", *filter.FechaHasta)
	}
	if filter.TipoAutoconsumo != nil {
		q = q.Where("registros_energia.tipo_autoconsumo = ?", *filter.TipoAutoconsumo)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return q.Order("archivos.fecha_carga ASC").
		Order("archivos.id ASC").
		Order("registros_energia.linea_archivo ASC")
}

func (r *Repository) PeriodExists(ctx context.Context, cups string, desde, hasta time.Time) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&registroModel{}).
		Where("cups = ? AND fecha_desde = ? AND fecha_hasta = ?", cups, desde, hasta).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

func (r *Repository) SaveErrors(ctx context.Context, errs []ErrorArchivo) error {
	if len(errs) == 0 {
		return nil
	}
	rows := make([]errorModel, len(errs))
	for i, e := range errs {
		rows[i] = errorModel{
			ID:            e.ID,
			ArchivoID:     e.ArchivoID,
			LineaArchivo:  e.LineaArchivo,
			TipoError:     string(e.TipoError),
			Descripcion:   e.Descripcion,
			DatosLinea:    e.DatosLinea,
			FechaRegistro: e.FechaRegistro,
		}
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, insertBatchSize).Error
}

func (r *Repository) ListErrors(ctx context.Context, archivoID string) ([]ErrorArchivo, error) {
	var rows []errorModel
	err := r.db.WithContext(ctx).
		Where("archivo_id = ?", archivoID).
		Order("linea_archivo").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]ErrorArchivo, len(rows))
	for i, m := range rows {
		out[i] = ErrorArchivo{
			ID:            m.ID,
			ArchivoID:     m.ArchivoID,
			LineaArchivo:  m.LineaArchivo,
			TipoError:     ErrorKind(m.TipoError),
			Descripcion:   m.Descripcion,
			DatosLinea:    m.DatosLinea,
			FechaRegistro: m.FechaRegistro,
		}
	}
	return out, nil
}

func toArchivoModel(a *Archivo) archivoModel {
	return archivoModel{
		ID:                 a.ID,
		NombreArchivo:      a.NombreArchivo,
		Formato:            string(a.Formato),
		HashArchivo:        a.HashArchivo,
		RutaArchivo:        a.RutaArchivo,
		Estado:             string(a.Estado),
		TotalRegistros:     a.TotalRegistros,
		RegistrosExitosos:  a.RegistrosExitosos,
		RegistrosConError:  a.RegistrosConError,
		Detalle:            a.Detalle,
		UsuarioID:          a.UsuarioID,
		FechaCarga:         a.FechaCarga,
		FechaProcesamiento: a.FechaProcesamiento,
		FechaFin:           a.FechaFin,
	}
}

func (m archivoModel) toDomain() Archivo {
	return Archivo{
		ID:                 m.ID,
		NombreArchivo:      m.NombreArchivo,
		Formato:            Format(m.Formato),
		HashArchivo:        m.HashArchivo,
		RutaArchivo:        m.RutaArchivo,
		Estado:             Estado(m.Estado),
		TotalRegistros:     m.TotalRegistros,
		RegistrosExitosos:  m.RegistrosExitosos,
		RegistrosConError:  m.RegistrosConError,
		Detalle:            m.Detalle,
		UsuarioID:          m.UsuarioID,
		FechaCarga:         m.FechaCarga,
		FechaProcesamiento: m.FechaProcesamiento,
		FechaFin:           m.FechaFin,
	}
}

func archivosFromModels(rows []archivoModel) []Archivo {
	out := make([]Archivo, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}

func toRegistroModel(r *RegistroEnergia) (registroModel, error) {
	neta, err := json.Marshal(r.ValorEnergiaNetaGen)
	if err != nil {
		return registroModel{}, fmt.Errorf("encoding valor_energia_neta_gen: %w", err)
	}
	auto, err := json.Marshal(r.ValorEnergiaAutoconsumida)
	if err != nil {
		return registroModel{}, fmt.Errorf("encoding valor_energia_autoconsumida: %w", err)
	}
	pago, err := json.Marshal(r.PagoTDA)
	if err != nil {
		return registroModel{}, fmt.Errorf("encoding pago_tda: %w", err)
	}
	return registroModel{
		ID:                        r.ID,
		ArchivoID:                 r.ArchivoID,
		LineaArchivo:              r.LineaArchivo,
		CUPS:                      r.CUPS,
		InstalacionGen:            r.InstalacionGen,
		TipoAutoconsumo:           r.TipoAutoconsumo,
		FechaDesde:                r.FechaDesde,
		FechaHasta:                r.FechaHasta,
		ValorEnergiaNetaGen:       datatypes.JSON(neta),
		ValorEnergiaAutoconsumida: datatypes.JSON(auto),
		PagoTDA:                   datatypes.JSON(pago),
		TotalNetaGen:              Sum(r.ValorEnergiaNetaGen),
		TotalAutoconsumida:        Sum(r.ValorEnergiaAutoconsumida),
		TotalPago:                 Sum(r.PagoTDA),
		FechaCreacion:             r.FechaCreacion,
	}, nil
}

// toDomain recomputes the totals from the stored series; the total columns
// exist for SQL reporting only.
func (m *registroModel) toDomain() (RegistroEnergia, error) {
	rec := RegistroEnergia{
		ID:              m.ID,
		ArchivoID:       m.ArchivoID,
		LineaArchivo:    m.LineaArchivo,
		CUPS:            m.CUPS,
		InstalacionGen:  m.InstalacionGen,
		TipoAutoconsumo: m.TipoAutoconsumo,
		FechaDesde:      m.FechaDesde.UTC(),
		FechaHasta:      m.FechaHasta.UTC(),
		FechaCreacion:   m.FechaCreacion,
	}
	for _, s := range []struct {
		name string
		raw  datatypes.JSON
		dst  *[]decimal.Decimal
	}{
		{"valor_energia_neta_gen", m.ValorEnergiaNetaGen, &rec.ValorEnergiaNetaGen},
		{"valor_energia_autoconsumida", m.ValorEnergiaAutoconsumida, &rec.ValorEnergiaAutoconsumida},
		{"pago_tda", m.PagoTDA, &rec.PagoTDA},
	} {
		if err := json.Unmarshal(s.raw, s.dst); err != nil {
			return RegistroEnergia{}, fmt.Errorf("decoding %s of registro %s: %w", s.name, m.ID, err)
		}
	}
	rec.Recompute()
	return rec, nil
}
