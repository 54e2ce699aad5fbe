package ingestion

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorCollector buffers the line errors of one job run and writes them to
// the store in batches. It is owned by a single job and is not safe for
// concurrent use.
type ErrorCollector struct {
	archivoID string
	store     ErrorStore
	pending   []ErrorArchivo
	written   int
}

func NewErrorCollector(archivoID string, store ErrorStore) *ErrorCollector {
	return &ErrorCollector{archivoID: archivoID, store: store}
}

func (c *ErrorCollector) Add(line int, kind ErrorKind, description, raw string) {
	c.pending = append(c.pending, ErrorArchivo{
		ID:            uuid.New().String(),
		ArchivoID:     c.archivoID,
		LineaArchivo:  line,
		TipoError:     kind,
		Descripcion:   storableText(description),
		DatosLinea:    storableText(raw),
		FechaRegistro: time.Now().UTC(),
	})
}

// Flush writes the buffered errors. On failure the buffer is kept.
func (c *ErrorCollector) Flush(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}
	if err := c.store.SaveErrors(ctx, c.pending); err != nil {
		return err
	}
	c.written += len(c.pending)
	c.pending = nil
	return nil
}

// storableText drops what a PostgreSQL text column rejects: NUL bytes and
// invalid UTF-8.
func storableText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}
