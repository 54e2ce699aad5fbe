package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. Records and errors live in one
// bucket per archivo, each with its own lock, so concurrent jobs never wait
// on each other's writes.
type MemoryStore struct {
	mu       sync.RWMutex
	archivos map[string]*Archivo
	buckets  map[string]*bucket
	periods  sync.Map // periodKey -> struct{}
}

type bucket struct {
	mu      sync.RWMutex
	records []RegistroEnergia
	errors  []ErrorArchivo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		archivos: make(map[string]*Archivo),
		buckets:  make(map[string]*bucket),
	}
}

func (s *MemoryStore) CreateArchivo(_ context.Context, a *Archivo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.archivos[a.ID]; exists {
		return fmt.Errorf("archivo %s already exists", a.ID)
	}
	cp := *a
	s.archivos[a.ID] = &cp
	s.buckets[a.ID] = &bucket{}
	return nil
}

func (s *MemoryStore) GetArchivo(_ context.Context, id string) (*Archivo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.archivos[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListArchivos(_ context.Context, limit int) ([]Archivo, error) {
	s.mu.RLock()
	out := make([]Archivo, 0, len(s.archivos))
	for _, a := range s.archivos {
		out = append(out, *a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FechaCarga.Equal(out[j].FechaCarga) {
			return out[i].ID > out[j].ID
		}
		return out[i].FechaCarga.After(out[j].FechaCarga)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListArchivosByEstado(_ context.Context, estado Estado) ([]Archivo, error) {
	s.mu.RLock()
	var out []Archivo
	for _, a := range s.archivos {
		if a.Estado == estado {
			out = append(out, *a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FechaCarga.Before(out[j].FechaCarga) })
	return out, nil
}

func (s *MemoryStore) FindArchivoByHash(_ context.Context, hash string) (*Archivo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Archivo
	for _, a := range s.archivos {
		if a.HashArchivo != hash || a.Estado == EstadoError {
			continue
		}
		if found == nil || a.FechaCarga.After(found.FechaCarga) {
			found = a
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *MemoryStore) ClaimArchivo(_ context.Context, id string, at time.Time) (*Archivo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archivos[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Estado != EstadoPendiente {
		return nil, fmt.Errorf("%w: archivo %s is %s", ErrInvalidState, id, a.Estado)
	}
	a.Estado = EstadoProcesando
	a.FechaProcesamiento = &at
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id string, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archivos[id]
	if !ok {
		return ErrNotFound
	}
	if a.Estado != EstadoProcesando {
		return fmt.Errorf("%w: archivo %s is %s", ErrInvalidState, id, a.Estado)
	}
	a.apply(p)
	return nil
}

func (s *MemoryStore) FinishArchivo(_ context.Context, id string, estado Estado, p Progress, detalle string, at time.Time) error {
	if !estado.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal state", ErrInvalidState, estado)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archivos[id]
	if !ok {
		return ErrNotFound
	}
	if a.Estado != EstadoProcesando {
		return fmt.Errorf("%w: archivo %s is %s", ErrInvalidState, id, a.Estado)
	}
	a.apply(p)
	a.Estado = estado
	a.Detalle = detalle
	a.FechaFin = &at
	return nil
}

func (s *MemoryStore) bucketFor(archivoID string) (*bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[archivoID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, archivoID)
	}
	return b, nil
}

// SaveRecords expects every record of one call to belong to the same archivo,
// which is how jobs flush.
func (s *MemoryStore) SaveRecords(_ context.Context, records []RegistroEnergia) error {
	if len(records) == 0 {
		return nil
	}
	b, err := s.bucketFor(records[0].ArchivoID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range records {
		if r.ArchivoID != records[0].ArchivoID {
			return fmt.Errorf("record %s belongs to archivo %s, batch is for %s", r.ID, r.ArchivoID, records[0].ArchivoID)
		}
	}
	b.records = append(b.records, records...)
	for _, r := range records {
		s.periods.Store(newPeriodKey(r.CUPS, r.FechaDesde, r.FechaHasta), struct{}{})
	}
	return nil
}

// ListRecords returns records grouped by archivo, oldest upload first, in
// line order.
func (s *MemoryStore) ListRecords(_ context.Context, filter RecordFilter) ([]RegistroEnergia, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.archivos))
	for id := range s.archivos {
		if filter.ArchivoID == "" || filter.ArchivoID == id {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.archivos[ids[i]], s.archivos[ids[j]]
		if a.FechaCarga.Equal(b.FechaCarga) {
			return a.ID < b.ID
		}
		return a.FechaCarga.Before(b.FechaCarga)
	})
	buckets := make([]*bucket, len(ids))
	for i, id := range ids {
		buckets[i] = s.buckets[id]
	}
	s.mu.RUnlock()

	out := []RegistroEnergia{}
	for _, b := range buckets {
		b.mu.RLock()
		for i := range b.records {
			if filter.matches(&b.records[i]) {
				out = append(out, b.records[i])
			}
		}
		b.mu.RUnlock()
		if filter.Limit > 0 && len(out) >= filter.Limit {
			return out[:filter.Limit], nil
		}
	}
	return out, nil
}

func (s *MemoryStore) PeriodExists(_ context.Context, cups string, desde, hasta time.Time) (bool, error) {
	_, ok := s.periods.Load(newPeriodKey(cups, desde, hasta))
	return ok, nil
}

func (s *MemoryStore) SaveErrors(_ context.Context, errs []ErrorArchivo) error {
	if len(errs) == 0 {
		return nil
	}
	b, err := s.bucketFor(errs[0].ArchivoID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range errs {
		if e.ArchivoID != errs[0].ArchivoID {
			return fmt.Errorf("error %s belongs to archivo %s, batch is for %s", e.ID, e.ArchivoID, errs[0].ArchivoID)
		}
	}
	b.errors = append(b.errors, errs...)
	return nil
}

func (s *MemoryStore) ListErrors(_ context.Context, archivoID string) ([]ErrorArchivo, error) {
	b, err := s.bucketFor(archivoID)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ErrorArchivo, len(b.errors))
	copy(out, b.errors)
	return out, nil
}
