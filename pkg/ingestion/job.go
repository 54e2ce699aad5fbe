package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/energy-process/platform/pkg/common/logger"
	"github.com/energy-process/platform/pkg/observability/metrics"
	"github.com/sirupsen/logrus"
)

const defaultFlushEvery = 500

type JobOptions struct {
	// FlushEvery is the number of lines between store writes.
	FlushEvery int
	// MaxRuntime stops a job that runs longer. Zero disables the guard.
	MaxRuntime       time.Duration
	RejectDuplicates bool
}

type jobDeps struct {
	store     Store
	content   ContentStore
	parser    *Parser
	validator *Validator
	cache     StatusCache
	notifier  Notifier
}

// Job runs the ingestion of one archivo. Its counters are a local
// accumulator; the store only sees them at flush points, after the records
// and errors they count.
type Job struct {
	archivoID string
	deps      jobDeps
	opts      JobOptions
	log       *logrus.Entry

	archivo   *Archivo
	progress  Progress
	flushed   Progress
	unflushed int
	records   []RegistroEnergia
	collector *ErrorCollector
	seen      map[periodKey]int
}

func newJob(archivoID string, deps jobDeps, opts JobOptions) *Job {
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = defaultFlushEvery
	}
	return &Job{
		archivoID: archivoID,
		deps:      deps,
		opts:      opts,
		log:       logger.ForArchivo(archivoID),
		collector: NewErrorCollector(archivoID, deps.store),
		seen:      make(map[periodKey]int),
	}
}

// Run claims the archivo and processes it to a terminal state. It returns
// ErrInvalidState when the archivo is not pendiente and a *FatalError when
// the job ended in error.
func (j *Job) Run(ctx context.Context) error {
	a, err := j.deps.store.ClaimArchivo(ctx, j.archivoID, time.Now().UTC())
	if err != nil {
		return err
	}
	j.archivo = a
	j.log.WithField("formato", a.Formato).Info("processing archivo")

	done := metrics.JobStarted()
	defer done()

	j.deps.cache.Set(ctx, j.archivo)
	j.deps.notifier.Notify(ctx, j.archivo)

	runCtx := ctx
	if j.opts.MaxRuntime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.opts.MaxRuntime)
		defer cancel()
	}

	return j.finish(ctx, j.process(runCtx))
}

func (j *Job) process(ctx context.Context) error {
	rc, err := j.deps.content.Open(j.archivo.RutaArchivo)
	if err != nil {
		return fatal("opening upload", err)
	}
	defer rc.Close()

	for line, err := range j.deps.parser.Parse(rc, j.archivo.Formato) {
		if err != nil {
			return fatal("reading upload", err)
		}
		if err := ctx.Err(); err != nil {
			return fatal("processing stopped", stopReason(err))
		}
		if err := j.handle(ctx, line); err != nil {
			return err
		}
		j.unflushed++
		if j.unflushed >= j.opts.FlushEvery {
			if err := j.flush(ctx); err != nil {
				return err
			}
		}
	}
	return j.flush(ctx)
}

func stopReason(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.New("maximum runtime exceeded")
	}
	return err
}

// handle folds one line outcome into exactly one of the two output streams.
func (j *Job) handle(ctx context.Context, line Line) error {
	j.progress.Total++

	if line.Err != nil {
		j.reject(line.Err.Line, line.Err.Kind, line.Err.Description, line.Raw)
		return nil
	}

	if err := j.deps.validator.Validate(line.Fields); err != nil {
		var ve ValidationError
		if errors.As(err, &ve) {
			j.reject(ve.Line, ve.Kind, ve.Description, line.Raw)
			return nil
		}
		j.reject(line.Number, ErrorKindUnknown, err.Error(), line.Raw)
		return nil
	}

	if j.opts.RejectDuplicates {
		description, err := j.duplicate(ctx, line.Fields)
		if err != nil {
			return fatal("checking duplicate periods", err)
		}
		if description != "" {
			j.reject(line.Number, ErrorKindDuplicate, description, line.Raw)
			return nil
		}
	}

	j.records = append(j.records, NewRegistroEnergia(j.archivo.ID, line.Fields))
	j.progress.Exitosos++
	return nil
}

func (j *Job) reject(line int, kind ErrorKind, description, raw string) {
	j.collector.Add(line, kind, description, raw)
	j.progress.ConError++
	j.log.WithFields(logrus.Fields{
		"linea":      line,
		"tipo_error": kind,
	}).Debug(description)
}

// duplicate returns a description when the record's period was already
// loaded, earlier in this file or by another archivo.
func (j *Job) duplicate(ctx context.Context, f *Fields) (string, error) {
	key := newPeriodKey(f.CUPS, f.FechaDesde, f.FechaHasta)
	period := fmt.Sprintf("%s %s..%s", f.CUPS, f.FechaDesde.Format("2006-01-02"), f.FechaHasta.Format("2006-01-02"))
	if first, ok := j.seen[key]; ok {
		return fmt.Sprintf("period %s already appears at line %d", period, first), nil
	}
	exists, err := j.deps.store.PeriodExists(ctx, f.CUPS, f.FechaDesde, f.FechaHasta)
	if err != nil {
		return "", err
	}
	if exists {
		return fmt.Sprintf("period %s was already loaded by another archivo", period), nil
	}
	j.seen[key] = f.Line
	return "", nil
}

// flush writes records, then errors, then the counters that cover them.
func (j *Job) flush(ctx context.Context) error {
	if len(j.records) > 0 {
		if err := j.deps.store.SaveRecords(ctx, j.records); err != nil {
			return fatal("saving records", err)
		}
		j.records = nil
	}
	if err := j.collector.Flush(ctx); err != nil {
		return fatal("saving line errors", err)
	}
	if err := j.deps.store.UpdateProgress(ctx, j.archivo.ID, j.progress); err != nil {
		return fatal("updating progress", err)
	}
	j.flushed = j.progress
	j.unflushed = 0

	j.archivo.apply(j.flushed)
	j.deps.cache.Set(ctx, j.archivo)
	return nil
}

// finish records the terminal state. It runs even when ctx is done so a
// stopped job does not stay procesando.
func (j *Job) finish(ctx context.Context, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	estado, detalle := EstadoCompletado, ""
	if runErr != nil {
		estado, detalle = EstadoError, runErr.Error()
	}

	// Only flushed counters are reported; unflushed lines were never stored.
	if err := j.deps.store.FinishArchivo(ctx, j.archivo.ID, estado, j.flushed, detalle, now); err != nil {
		j.log.WithError(err).WithField("estado", estado).Error("failed to record final state")
		if runErr == nil {
			runErr = fatal("finishing archivo", err)
		}
		metrics.ArchivoFailed()
		return runErr
	}

	j.archivo.apply(j.flushed)
	j.archivo.Estado = estado
	j.archivo.Detalle = detalle
	j.archivo.FechaFin = &now
	j.deps.cache.Set(ctx, j.archivo)
	j.deps.notifier.Notify(ctx, j.archivo)
	metrics.ObserveLines(j.flushed.Exitosos, j.flushed.ConError)

	fields := logrus.Fields{
		"estado":              estado,
		"total_registros":     j.flushed.Total,
		"registros_exitosos":  j.flushed.Exitosos,
		"registros_con_error": j.flushed.ConError,
	}
	if runErr != nil {
		metrics.ArchivoFailed()
		j.log.WithFields(fields).WithError(runErr).Warn("archivo processing failed")
		return runErr
	}
	metrics.ArchivoCompleted()
	j.log.WithFields(fields).Info("archivo processed")
	return nil
}
