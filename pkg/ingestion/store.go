package ingestion

import (
	"context"
	"time"
)

// JobStore persists Archivo rows. State changes are conditional so that two
// executions of the same archivo can never both succeed.
type JobStore interface {
	CreateArchivo(ctx context.Context, a *Archivo) error
	GetArchivo(ctx context.Context, id string) (*Archivo, error)
	// ListArchivos returns the newest uploads first.
	ListArchivos(ctx context.Context, limit int) ([]Archivo, error)
	ListArchivosByEstado(ctx context.Context, estado Estado) ([]Archivo, error)
	// FindArchivoByHash ignores archivos that ended in error so a failed
	// upload can be sent again.
	FindArchivoByHash(ctx context.Context, hash string) (*Archivo, error)
	// ClaimArchivo moves a pendiente archivo to procesando. It returns
	// ErrInvalidState for any other state.
	ClaimArchivo(ctx context.Context, id string, at time.Time) (*Archivo, error)
	// UpdateProgress never lowers a counter.
	UpdateProgress(ctx context.Context, id string, p Progress) error
	// FinishArchivo moves a procesando archivo to a terminal state.
	FinishArchivo(ctx context.Context, id string, estado Estado, p Progress, detalle string, at time.Time) error
}

type RecordStore interface {
	SaveRecords(ctx context.Context, records []RegistroEnergia) error
	ListRecords(ctx context.Context, filter RecordFilter) ([]RegistroEnergia, error)
	// PeriodExists reports whether any archivo already stored a record for
	// the same supply point and period.
	PeriodExists(ctx context.Context, cups string, desde, hasta time.Time) (bool, error)
}

type ErrorStore interface {
	SaveErrors(ctx context.Context, errs []ErrorArchivo) error
	ListErrors(ctx context.Context, archivoID string) ([]ErrorArchivo, error)
}

type Store interface {
	JobStore
	RecordStore
	ErrorStore
}

type periodKey struct {
	cups  string
	desde int64
	hasta int64
}

func newPeriodKey(cups string, desde, hasta time.Time) periodKey {
	return periodKey{cups: cups, desde: desde.Unix(), hasta: hasta.Unix()}
}
