package ingestion

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Estado is the lifecycle state of an uploaded file.
type Estado string

const (
	EstadoPendiente  Estado = "pendiente"
	EstadoProcesando Estado = "procesando"
	EstadoCompletado Estado = "completado"
	EstadoError      Estado = "error"
)

func (e Estado) Terminal() bool {
	return e == EstadoCompletado || e == EstadoError
}

// ErrorKind classifies a line-level failure.
type ErrorKind string

const (
	ErrorKindFormat     ErrorKind = "format"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindDuplicate  ErrorKind = "duplicate"
	ErrorKindTruncated  ErrorKind = "truncated"
	ErrorKindUnknown    ErrorKind = "unknown"
)

type Format string

const (
	FormatCSV Format = "csv"
	FormatTXT Format = "txt"
	FormatXML Format = "xml"
)

// FormatFromFilename maps the upload extension to a supported format.
func FormatFromFilename(name string) (Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimSpace(name))), ".")
	return ParseFormat(ext)
}

func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case FormatCSV, FormatTXT, FormatXML:
		return f, nil
	default:
		return "", SubmissionError{reason: fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)}
	}
}

// Archivo is one uploaded file and the state of its ingestion job.
type Archivo struct {
	ID                 string     `json:"id"`
	NombreArchivo      string     `json:"nombre_archivo"`
	Formato            Format     `json:"formato"`
	HashArchivo        string     `json:"hash_archivo"`
	RutaArchivo        string     `json:"-"`
	Estado             Estado     `json:"estado"`
	TotalRegistros     int        `json:"total_registros"`
	RegistrosExitosos  int        `json:"registros_exitosos"`
	RegistrosConError  int        `json:"registros_con_error"`
	Detalle            string     `json:"detalle,omitempty"`
	UsuarioID          string     `json:"usuario_id"`
	FechaCarga         time.Time  `json:"fecha_carga"`
	FechaProcesamiento *time.Time `json:"fecha_procesamiento,omitempty"`
	FechaFin           *time.Time `json:"fecha_fin,omitempty"`
}

// Progress is the counter triple of an Archivo.
type Progress struct {
	Total    int `json:"total_registros"`
	Exitosos int `json:"registros_exitosos"`
	ConError int `json:"registros_con_error"`
}

func (a *Archivo) Progress() Progress {
	return Progress{Total: a.TotalRegistros, Exitosos: a.RegistrosExitosos, ConError: a.RegistrosConError}
}

func (a *Archivo) apply(p Progress) {
	a.TotalRegistros = max(a.TotalRegistros, p.Total)
	a.RegistrosExitosos = max(a.RegistrosExitosos, p.Exitosos)
	a.RegistrosConError = max(a.RegistrosConError, p.ConError)
}

// RegistroEnergia is one validated line of a file. Build it with NewRegistroEnergia
// so the totals always match the series.
type RegistroEnergia struct {
	ID                        string            `json:"id"`
	ArchivoID                 string            `json:"archivo_id"`
	LineaArchivo              int               `json:"linea_archivo"`
	CUPS                      string            `json:"cups"`
	InstalacionGen            string            `json:"instalacion_gen,omitempty"`
	TipoAutoconsumo           int               `json:"tipo_autoconsumo"`
	FechaDesde                time.Time         `json:"fecha_desde"`
	FechaHasta                time.Time         `json:"fecha_hasta"`
	ValorEnergiaNetaGen       []decimal.Decimal `json:"valor_energia_neta_gen"`
	ValorEnergiaAutoconsumida []decimal.Decimal `json:"valor_energia_autoconsumida"`
	PagoTDA                   []decimal.Decimal `json:"pago_tda"`
	TotalNetaGen              decimal.Decimal   `json:"total_neta_gen"`
	TotalAutoconsumida        decimal.Decimal   `json:"total_autoconsumida"`
	TotalPago                 decimal.Decimal   `json:"total_pago"`
	FechaCreacion             time.Time         `json:"fecha_creacion"`
}

// ErrorArchivo is the single error recorded for a failing line.
type ErrorArchivo struct {
	ID            string    `json:"id"`
	ArchivoID     string    `json:"archivo_id"`
	LineaArchivo  int       `json:"linea_archivo"`
	TipoError     ErrorKind `json:"tipo_error"`
	Descripcion   string    `json:"descripcion"`
	DatosLinea    string    `json:"datos_linea,omitempty"`
	FechaRegistro time.Time `json:"fecha_registro"`
}

// RecordFilter narrows ListRecords. Zero values mean "no filter".
type RecordFilter struct {
	ArchivoID       string
	CUPS            string
	FechaDesde      *time.Time
	FechaHasta      *time.Time
	TipoAutoconsumo *int
	Limit           int
}

func (f RecordFilter) matches(r *RegistroEnergia) bool {
	if f.ArchivoID != "" && r.ArchivoID != f.ArchivoID {
		return false
	}
	if f.CUPS != "" && r.CUPS != f.CUPS {
		return false
	}
	if f.FechaDesde != nil && r.FechaDesde.Before(*f.FechaDesde) {
		return false
	}
	if f.FechaHasta != nil && r.FechaHasta.After(*f.FechaHasta) {
		return false
	}
	if f.TipoAutoconsumo != nil && r.TipoAutoconsumo != *f.TipoAutoconsumo {
		return false
	}
	return true
}
