package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"motioncor/internal/config"
	"motioncor/internal/grpcserver"
	"motioncor/internal/pipeline"
	"motioncor/internal/server"
	"motioncor/internal/storage"
	"motioncor/internal/tasks"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
	SubscribeProgress() (<-chan pipeline.Progress, func())
}

// serveOptions configures the serve command.
type serveOptions struct {
	HTTPAddr  string
	GRPCAddr  string
	WatchDirs []string
}

type serverFunc func(ctx context.Context, r *Root, opts serveOptions) error

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
	out      io.Writer
}

// NewRoot constructs the CLI root.
func NewRoot(pl pipelineClient, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
		out:      os.Stdout,
	}
}

// Run parses args and executes the matching command.
func (r *Root) Run(ctx context.Context, args []string) error {
	cmd := r.command()
	cmd.SetArgs(args)
	cmd.SetOut(r.out)
	cmd.SetErr(r.out)
	return cmd.ExecuteContext(ctx)
}

func (r *Root) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// enqueueAndWait submits job and blocks until its result arrives.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, errors.New("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.pipeline.Submit(job); err != nil {
		return err
	}
	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

// runJob queues job and, when wait is set, reports its outcome.
func (r *Root) runJob(ctx context.Context, job pipeline.Job, wait bool) error {
	if !wait {
		if err := r.enqueue(ctx, job); err != nil {
			return err
		}
		r.printf("queued %s job %s\n", job.Type, job.ID)
		return nil
	}
	res, err := r.enqueueAndWait(ctx, job)
	if err != nil {
		return fmt.Errorf("%s job %s: %w", job.Type, job.ID, err)
	}
	r.printf("%s job %s completed\n", job.Type, job.ID)
	if outs, ok := res.Meta["outputs"].([]string); ok {
		for _, o := range outs {
			r.printf("  %s\n", o)
		}
	}
	if fs, ok := res.Meta["finalShift"].([]float64); ok && len(fs) == 2 {
		r.printf("final frame shift: %.2f %.2f\n", fs[0], fs[1])
	}
	return nil
}

func newID() string { return uuid.NewString() }

func defaultServe(ctx context.Context, r *Root, opts serveOptions) error {
	var watcher *tasks.MovieWatcher
	if len(opts.WatchDirs) > 0 {
		w, err := tasks.NewMovieWatcher(opts.WatchDirs, r.cfg.SettleDuration(), r.cfg.Watch.MinFrames, r.log)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		watcher = w
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 2)
	go func() {
		errs <- server.NewServer(opts.HTTPAddr, r.store, r.pipeline, watcher, r.log).Start(ctx)
	}()
	if opts.GRPCAddr != "" {
		go func() {
			errs <- grpcserver.New(r.store, r.pipeline, r.log).Serve(ctx, opts.GRPCAddr)
		}()
	}

	// The first server to stop takes the other down with it.
	err := <-errs
	cancel()
	if opts.GRPCAddr != "" {
		select {
		case err2 := <-errs:
			err = errors.Join(err, err2)
		case <-time.After(10 * time.Second):
		}
	}
	return err
}
