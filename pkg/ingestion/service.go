package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/energy-process/platform/pkg/common/logger"
	"github.com/energy-process/platform/pkg/observability/metrics"
	"github.com/google/uuid"
)

const (
	DefaultListLimit   = 20
	MaxListLimit       = 100
	DefaultRecordLimit = 100
	MaxRecordLimit     = 1000
)

type Options struct {
	FlushEvery           int
	MaxRuntime           time.Duration
	MaxUploadBytes       int64
	RejectDuplicateFiles bool
	// StaleAfter is how long a procesando archivo may go without finishing
	// before Recover fails it. Zero fails every procesando archivo, which is
	// right for a single process.
	StaleAfter time.Duration
}

// Dependencies groups the collaborators of a Service. Cache and Notifier
// are optional.
type Dependencies struct {
	Store     Store
	Content   ContentStore
	Scheduler Scheduler
	Cache     StatusCache
	Notifier  Notifier
}

type SubmitRequest struct {
	Filename string
	// DeclaredFormat overrides the filename extension when set.
	DeclaredFormat string
	UsuarioID      string
	Content        []byte
}

type Service struct {
	deps    Dependencies
	rules   Rules
	parser  *Parser
	valid   *Validator
	opts    Options
	nowFunc func() time.Time
}

func NewService(deps Dependencies, rules Rules, opts Options) (*Service, error) {
	if deps.Store == nil || deps.Content == nil || deps.Scheduler == nil {
		return nil, errors.New("ingestion service needs a store, a content store and a scheduler")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	validator, err := NewValidator(rules)
	if err != nil {
		return nil, err
	}
	if deps.Cache == nil {
		deps.Cache = noopCache{}
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	return &Service{
		deps:    deps,
		rules:   rules,
		parser:  NewParser(rules),
		valid:   validator,
		opts:    opts,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Submit accepts an upload and schedules it. Only the format, size and
// emptiness are checked here; every record check happens in the job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Archivo, error) {
	archivo, err := s.submit(ctx, req)
	if err != nil {
		if IsSubmissionError(err) {
			metrics.ArchivoRejected()
		}
		return nil, err
	}
	metrics.ArchivoAccepted()

	if err := s.deps.Scheduler.Schedule(ctx, archivo.ID); err != nil {
		// The archivo stays pendiente; Recover schedules it again.
		logger.ForArchivo(archivo.ID).WithError(err).Warn("failed to schedule archivo")
	}
	return archivo, nil
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (*Archivo, error) {
	format, err := s.resolveFormat(req)
	if err != nil {
		return nil, err
	}
	if len(req.Content) == 0 {
		return nil, SubmissionError{reason: ErrEmptyFile}
	}
	if s.opts.MaxUploadBytes > 0 && int64(len(req.Content)) > s.opts.MaxUploadBytes {
		return nil, SubmissionError{reason: fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(req.Content), s.opts.MaxUploadBytes)}
	}

	sum := sha256.Sum256(req.Content)
	hash := hex.EncodeToString(sum[:])
	if s.opts.RejectDuplicateFiles {
		existing, err := s.deps.Store.FindArchivoByHash(ctx, hash)
		switch {
		case err == nil:
			return nil, SubmissionError{reason: fmt.Errorf("%w as archivo %s", ErrDuplicateFile, existing.ID)}
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("checking duplicate upload: %w", err)
		}
	}

	id := uuid.New().String()
	ref, err := s.deps.Content.Put(ctx, id, req.Content)
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	archivo := &Archivo{
		ID:            id,
		NombreArchivo: req.Filename,
		Formato:       format,
		HashArchivo:   hash,
		RutaArchivo:   ref,
		Estado:        EstadoPendiente,
		UsuarioID:     req.UsuarioID,
		FechaCarga:    s.nowFunc(),
	}
	if err := s.deps.Store.CreateArchivo(ctx, archivo); err != nil {
		if rmErr := s.deps.Content.Remove(ref); rmErr != nil {
			logger.ForArchivo(id).WithError(rmErr).Warn("failed to remove orphan upload")
		}
		return nil, fmt.Errorf("persisting archivo: %w", err)
	}

	logger.ForArchivo(id).WithField("nombre_archivo", req.Filename).Info("archivo accepted")
	s.deps.Cache.Set(ctx, archivo)
	s.deps.Notifier.Notify(ctx, archivo)
	return archivo, nil
}

func (s *Service) resolveFormat(req SubmitRequest) (Format, error) {
	if req.DeclaredFormat != "" {
		return ParseFormat(req.DeclaredFormat)
	}
	return FormatFromFilename(req.Filename)
}

// Execute runs a pendiente archivo to completion. Schedulers call it.
func (s *Service) Execute(ctx context.Context, archivoID string) error {
	return s.newJob(archivoID).Run(ctx)
}

func (s *Service) newJob(archivoID string) *Job {
	return newJob(archivoID, jobDeps{
		store:     s.deps.Store,
		content:   s.deps.Content,
		parser:    s.parser,
		validator: s.valid,
		cache:     s.deps.Cache,
		notifier:  s.deps.Notifier,
	}, JobOptions{
		FlushEvery:       s.opts.FlushEvery,
		MaxRuntime:       s.opts.MaxRuntime,
		RejectDuplicates: s.rules.RejectDuplicateRecords,
	})
}

func (s *Service) Status(ctx context.Context, id string) (*Archivo, error) {
	if a, ok := s.deps.Cache.Get(ctx, id); ok {
		return a, nil
	}
	return s.deps.Store.GetArchivo(ctx, id)
}

func (s *Service) ListArchivos(ctx context.Context, limit int) ([]Archivo, error) {
	return s.deps.Store.ListArchivos(ctx, clamp(limit, DefaultListLimit, MaxListLimit))
}

func (s *Service) ListRecords(ctx context.Context, filter RecordFilter) ([]RegistroEnergia, error) {
	filter.Limit = clamp(filter.Limit, DefaultRecordLimit, MaxRecordLimit)
	return s.deps.Store.ListRecords(ctx, filter)
}

func (s *Service) ListErrors(ctx context.Context, archivoID string) ([]ErrorArchivo, error) {
	if _, err := s.deps.Store.GetArchivo(ctx, archivoID); err != nil {
		return nil, err
	}
	return s.deps.Store.ListErrors(ctx, archivoID)
}

// Recover runs at startup. It fails archivos a previous process left
// procesando and schedules the pendiente ones again.
func (s *Service) Recover(ctx context.Context) error {
	running, err := s.deps.Store.ListArchivosByEstado(ctx, EstadoProcesando)
	if err != nil {
		return fmt.Errorf("listing procesando archivos: %w", err)
	}
	now := s.nowFunc()
	failed := 0
	for i := range running {
		a := &running[i]
		if s.opts.StaleAfter > 0 && a.FechaProcesamiento != nil && now.Sub(*a.FechaProcesamiento) < s.opts.StaleAfter {
			continue
		}
		const detalle = "processing interrupted before completion"
		if err := s.deps.Store.FinishArchivo(ctx, a.ID, EstadoError, a.Progress(), detalle, now); err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			return fmt.Errorf("failing interrupted archivo %s: %w", a.ID, err)
		}
		a.Estado, a.Detalle, a.FechaFin = EstadoError, detalle, &now
		s.deps.Cache.Set(ctx, a)
		s.deps.Notifier.Notify(ctx, a)
		metrics.ArchivoFailed()
		failed++
	}

	pending, err := s.deps.Store.ListArchivosByEstado(ctx, EstadoPendiente)
	if err != nil {
		return fmt.Errorf("listing pendiente archivos: %w", err)
	}
	for _, a := range pending {
		if err := s.deps.Scheduler.Schedule(ctx, a.ID); err != nil {
			return fmt.Errorf("rescheduling archivo %s: %w", a.ID, err)
		}
	}

	logger.WithFields(map[string]interface{}{
		"failed":      failed,
		"rescheduled": len(pending),
	}).Info("ingestion recovery finished")
	return nil
}

func clamp(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}
