package ingestion

import (
	"context"
	"errors"
	"sync"

	"github.com/energy-process/platform/pkg/common/kafka"
	"github.com/energy-process/platform/pkg/common/logger"
	"github.com/energy-process/platform/pkg/common/models"
	"golang.org/x/sync/semaphore"
)

const jobExecuteEvent = "job.execute"

var ErrSchedulerStopped = errors.New("scheduler is not running")

// Runner executes one pendiente archivo. Service implements it.
type Runner interface {
	Execute(ctx context.Context, archivoID string) error
}

// Scheduler hands an accepted archivo to background execution. Schedule
// must not wait for the job to run.
type Scheduler interface {
	Schedule(ctx context.Context, archivoID string) error
}

// WorkerPool runs each job in its own goroutine, at most workers at a time.
type WorkerPool struct {
	sem    *semaphore.Weighted
	mu     sync.RWMutex
	runner Runner
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(workers))}
}

// Start binds the pool to runner. Jobs scheduled before Start are rejected.
func (p *WorkerPool) Start(runner Runner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runner = runner
	p.ctx, p.cancel = context.WithCancel(context.Background())
}

func (p *WorkerPool) Schedule(_ context.Context, archivoID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.runner == nil || p.ctx.Err() != nil {
		return ErrSchedulerStopped
	}

	runner, ctx := p.runner, p.ctx
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			// Stopped while queued; the archivo stays pendiente for Recover.
			return
		}
		defer p.sem.Release(1)
		if ctx.Err() != nil {
			return
		}
		runJob(ctx, runner, archivoID)
	}()
	return nil
}

// Stop cancels running jobs and waits for them to record their final state.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func runJob(ctx context.Context, runner Runner, archivoID string) {
	err := runner.Execute(ctx, archivoID)
	log := logger.ForArchivo(archivoID)
	var fe *FatalError
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidState):
		log.WithError(err).Debug("archivo already executed")
	case errors.As(err, &fe):
		log.WithError(err).Warn("ingestion job failed")
	default:
		log.WithError(err).Error("ingestion job could not start")
	}
}

// EventConsumer is the subset of kafka.Consumer the scheduler uses.
type EventConsumer interface {
	Consume(ctx context.Context, handler kafka.EventHandler) error
}

// KafkaScheduler publishes archivo ids to the jobs topic; Serve consumes
// them, so any replica may run any job. The conditional claim keeps a
// redelivered message from running a job twice.
type KafkaScheduler struct {
	publisher EventPublisher
	consumer  EventConsumer
}

func NewKafkaScheduler(publisher EventPublisher, consumer EventConsumer) *KafkaScheduler {
	return &KafkaScheduler{publisher: publisher, consumer: consumer}
}

func (s *KafkaScheduler) Schedule(ctx context.Context, archivoID string) error {
	return s.publisher.PublishEvent(ctx, jobExecuteEvent, eventSource, archivoID, map[string]interface{}{
		"archivo_id": archivoID,
	})
}

// Serve blocks until ctx is cancelled, running one job at a time.
func (s *KafkaScheduler) Serve(ctx context.Context, runner Runner) error {
	return s.consumer.Consume(ctx, s.handler(runner))
}

// handler acknowledges every message whose job reached a final outcome.
// Only failures that left the archivo pendiente are retried.
func (s *KafkaScheduler) handler(runner Runner) kafka.EventHandler {
	return func(ctx context.Context, event models.Event) error {
		if event.Type != jobExecuteEvent {
			return nil
		}
		id := event.StringField("archivo_id")
		if id == "" {
			logger.Log.WithField("event_id", event.ID).Warn("job event without archivo_id")
			return nil
		}

		err := runner.Execute(ctx, id)
		var fe *FatalError
		switch {
		case err == nil, errors.As(err, &fe):
			return nil
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotFound):
			logger.ForArchivo(id).WithError(err).Debug("skipping job event")
			return nil
		default:
			return err
		}
	}
}
