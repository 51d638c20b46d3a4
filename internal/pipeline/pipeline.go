package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"motioncor/internal/config"
	"motioncor/internal/logging"
	"motioncor/internal/storage"
)

// JobType enumerates supported processing categories.
type JobType string

const (
	JobCorrect   JobType = "correct"
	JobFramewise JobType = "framewise"
	JobAverage   JobType = "average"
	JobScan      JobType = "scan"
)

// ErrQueueFull is returned by Submit when no worker can take the job.
var ErrQueueFull = errors.New("job queue is full")

// Job represents a single processing request.
type Job struct {
	ID        string
	Type      JobType
	InputPath string
	Output    string
	Options   map[string]any
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	store     *storage.Store
	results   *broadcaster[Result]
	progress  *broadcaster[Progress]
}

// New creates a Pipeline with concurrency workers running correction jobs.
func New(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, cfg *config.Config) *Pipeline {
	p := newPipeline(ctx, concurrency, logger, store)
	p.processor = newRouter(logger, store, cfg, p.progress.publish)
	p.start(ctx, concurrency)
	return p
}

// NewWithProcessor is New with a caller supplied Processor.
func NewWithProcessor(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	p := newPipeline(ctx, concurrency, logger, store)
	p.processor = proc
	p.start(ctx, concurrency)
	return p
}

func newPipeline(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		log:      logger,
		jobs:     make(chan Job, concurrency*2),
		store:    store,
		results:  newBroadcaster[Result](logger, "result"),
		progress: newBroadcaster[Progress](logger, "progress"),
	}
}

func (p *Pipeline) start(ctx context.Context, concurrency int) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < max(1, concurrency); i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	if p.store != nil {
		optsJSON, _ := json.Marshal(job.Options)
		if err := p.store.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      "queued",
			InputPath:   job.InputPath,
			OutputPath:  job.Output,
			OptionsJSON: string(optsJSON),
		}); err != nil {
			p.log.Warn("failed to record queued job", "id", job.ID, "error", err)
		}
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		if err := p.store.RecordJobResult(job.ID, "rejected", nil, ErrQueueFull.Error()); err != nil {
			p.log.Warn("failed to record rejected job", "id", job.ID, "error", err)
		}
		return ErrQueueFull
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.results.close()
		p.progress.close()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, job)
		}
	}
}

func (p *Pipeline) run(ctx context.Context, job Job) {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, job.Output, job.Options)
	if p.store != nil {
		_ = p.store.RecordJobStart(job.ID)
	}

	res := p.processor.Process(ctx, job)
	duration := time.Since(start)

	status := "completed"
	if res.Error != nil {
		status = "failed"
		logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
			"input":  job.InputPath,
			"output": job.Output,
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
	}
	if p.store != nil {
		if err := p.store.RecordJobResult(job.ID, status, res.Meta, errString(res.Error)); err != nil {
			p.log.Warn("failed to record job result", "id", job.ID, "error", err)
		}
	}
	p.results.publish(res)
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	return p.results.subscribe()
}

// SubscribeProgress streams per-pass progress of running jobs.
func (p *Pipeline) SubscribeProgress() (<-chan Progress, func()) {
	return p.progress.subscribe()
}

// Store exposes the job store; it may be nil.
func (p *Pipeline) Store() *storage.Store { return p.store }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// broadcaster fans values out to subscribers without blocking publishers.
type broadcaster[T any] struct {
	log  *slog.Logger
	kind string

	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool
}

func newBroadcaster[T any](logger *slog.Logger, kind string) *broadcaster[T] {
	return &broadcaster[T]{log: logger, kind: kind, subs: make(map[int]chan T)}
}

func (b *broadcaster[T]) subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan T, 16)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			close(c)
			delete(b.subs, id)
		}
		b.mu.Unlock()
	}
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.log.Warn("subscriber channel full", "kind", b.kind, "subscriber", id)
		}
	}
}

func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.closed = true
}
