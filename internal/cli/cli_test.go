package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"motioncor/internal/config"
	"motioncor/internal/frames"
	"motioncor/internal/imaging"
	"motioncor/internal/pipeline"
	"motioncor/internal/storage"
	"motioncor/internal/tasks"
)

func TestRunDispatchesProcessingCommands(t *testing.T) {
	temp := t.TempDir()

	cases := []struct {
		name       string
		args       []string
		expectType pipeline.JobType
		check      func(t *testing.T, job pipeline.Job)
	}{
		{"correct", []string{"correct", temp, "--passes", "2", "--first", "1", "--save-aligned"}, pipeline.JobCorrect, func(t *testing.T, job pipeline.Job) {
			if job.Options["passes"] != 2 || job.Options["first"] != 1 || job.Options["saveAligned"] != true {
				t.Fatalf("options not forwarded: %v", job.Options)
			}
			if _, ok := job.Options["last"]; ok {
				t.Fatalf("unset flag should not be forwarded: %v", job.Options)
			}
		}},
		{"framewise", []string{"correct", temp, filepath.Join(temp, "out"), "--framewise"}, pipeline.JobFramewise, func(t *testing.T, job pipeline.Job) {
			if job.Output != filepath.Join(temp, "out") {
				t.Fatalf("output = %q", job.Output)
			}
		}},
		{"processor", []string{"correct", temp, "--processor", "framewise", "--clamp", "4.5"}, pipeline.JobCorrect, func(t *testing.T, job pipeline.Job) {
			if job.Options["processor"] != "framewise" || job.Options["clampSigma"] != 4.5 {
				t.Fatalf("options not forwarded: %v", job.Options)
			}
		}},
		{"average", []string{"average", temp, "--format", "png"}, pipeline.JobAverage, func(t *testing.T, job pipeline.Job) {
			if job.Options["format"] != "png" {
				t.Fatalf("format = %v", job.Options["format"])
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, fakePipe, _ := newTestRoot(t)
			if err := root.Run(context.Background(), tc.args); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if len(fakePipe.jobs) != 1 {
				t.Fatalf("expected one job, got %d", len(fakePipe.jobs))
			}
			job := fakePipe.jobs[0]
			if job.Type != tc.expectType {
				t.Fatalf("expected type %s, got %s", tc.expectType, job.Type)
			}
			if job.InputPath != temp {
				t.Fatalf("input = %q", job.InputPath)
			}
			tc.check(t, job)
		})
	}
}

func TestRunValidatesArguments(t *testing.T) {
	root, _, _ := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"correct"}); err == nil {
		t.Fatalf("expected error for missing movie directory")
	}
	if err := root.Run(context.Background(), []string{"pair", "only-one"}); err == nil {
		t.Fatalf("expected error for insufficient pair args")
	}
	if err := root.Run(context.Background(), []string{"correct", "a", "b", "c"}); err == nil {
		t.Fatalf("expected error for too many args")
	}
	if err := root.Run(context.Background(), []string{}); err != nil {
		t.Fatalf("expected nil for empty args showing usage, got %v", err)
	}
}

func TestCorrectReportsOutputs(t *testing.T) {
	root, fakePipe, out := newTestRoot(t)
	fakePipe.meta = map[string]any{
		"outputs":    []string{"/tmp/out/movie_sum.tif"},
		"finalShift": []float64{-4.5, 1.25},
	}
	if err := root.Run(context.Background(), []string{"correct", t.TempDir()}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"completed", "movie_sum.tif", "final frame shift: -4.50 1.25"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestNoWaitOnlyQueues(t *testing.T) {
	root, fakePipe, out := newTestRoot(t)
	fakePipe.silent = true
	if err := root.Run(context.Background(), []string{"correct", t.TempDir(), "--no-wait"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "queued correct job") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestEnqueueAndWaitPropagatesErrors(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	job := pipeline.Job{ID: "fail", Type: pipeline.JobCorrect}
	fakePipe.jobErrors["fail"] = errors.New("boom")
	if _, err := root.enqueueAndWait(context.Background(), job); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
}

func TestScanListsMovies(t *testing.T) {
	root, fakePipe, out := newTestRoot(t)
	dir := t.TempDir()
	movie := filepath.Join(dir, "m1")
	if err := os.MkdirAll(movie, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"f1.tif", "f2.tif", "f3.tif"} {
		if err := os.WriteFile(filepath.Join(movie, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := root.Run(context.Background(), []string{"scan", dir}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !strings.Contains(out.String(), movie) || !strings.Contains(out.String(), "1 movies") {
		t.Fatalf("unexpected scan output:\n%s", out.String())
	}
	if len(fakePipe.jobs) != 0 {
		t.Fatalf("scan should not queue jobs")
	}
}

func TestPairMeasuresShift(t *testing.T) {
	root, _, out := newTestRoot(t)
	dir := t.TempDir()
	base := frames.Blobs(256, 256, 400, 1.2, 11)
	ref := filepath.Join(dir, "ref.tif")
	target := filepath.Join(dir, "target.tif")
	if err := imaging.Save(ref, base); err != nil {
		t.Fatal(err)
	}
	if err := imaging.Save(target, base.Crop(-6, 3, 256, 256)); err != nil {
		t.Fatal(err)
	}
	if err := root.Run(context.Background(), []string{"pair", ref, target}); err != nil {
		t.Fatalf("pair failed: %v", err)
	}
	if out.Len() == 0 {
		t.Fatalf("pair printed nothing")
	}
	if err := root.Run(context.Background(), []string{"pair", ref, filepath.Join(dir, "missing.tif")}); err == nil {
		t.Fatalf("expected error for missing target")
	}
}

func TestJobsShowsStoredTrajectory(t *testing.T) {
	root, _, out := newTestRoot(t)
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	root.store = store

	if err := store.RecordJobQueued(storage.JobRecord{ID: "j1", JobType: "correct", Status: "queued", InputPath: "/data/m1", OutputPath: "/out"}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordTrajectory("j1", []storage.Shift{{Frame: 0, X: 0, Y: 0}, {Frame: 1, X: -1.5, Y: 0.25}}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordPassStats("j1", storage.PassStats{Pass: 1, Aligned: 4, MeanConfidence: 0.9}); err != nil {
		t.Fatal(err)
	}

	if err := root.Run(context.Background(), []string{"jobs"}); err != nil {
		t.Fatalf("jobs failed: %v", err)
	}
	if !strings.Contains(out.String(), "j1\tcorrect\tqueued\t/data/m1") {
		t.Fatalf("unexpected jobs output:\n%s", out.String())
	}

	out.Reset()
	if err := root.Run(context.Background(), []string{"jobs", "show", "j1"}); err != nil {
		t.Fatalf("jobs show failed: %v", err)
	}
	for _, want := range []string{"pass 1: aligned 4", "1\t-1.50\t0.25"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
	if err := root.Run(context.Background(), []string{"jobs", "show", "nope"}); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestServeCommandUsesInjectedFunction(t *testing.T) {
	root, _, _ := newTestRoot(t)
	var got serveOptions
	root.serveFn = func(ctx context.Context, r *Root, opts serveOptions) error {
		got = opts
		return nil
	}
	if err := root.Run(context.Background(), []string{"serve", "--addr", ":9999", "--watch", "/a,/b"}); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if got.HTTPAddr != ":9999" || got.GRPCAddr != root.cfg.Server.GRPCAddr {
		t.Fatalf("unexpected addresses %+v", got)
	}
	if len(got.WatchDirs) != 2 || got.WatchDirs[1] != "/b" {
		t.Fatalf("unexpected watch dirs %v", got.WatchDirs)
	}
}

func TestConfigCommands(t *testing.T) {
	root, _, out := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"config", "show"}); err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out.String(), "Passes: ") || !strings.Contains(out.String(), "Default processor: hierarchical") {
		t.Fatalf("unexpected config output:\n%s", out.String())
	}

	root.cfg.Motion.AlignTimeout = "soon"
	if err := root.Run(context.Background(), []string{"config", "validate"}); err == nil {
		t.Fatalf("expected validation error for bad timeout")
	}
}

func TestWatchLoopQueuesSettledMovies(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	events := make(chan tasks.MovieEvent, 1)
	events <- tasks.MovieEvent{Dir: "/data/incoming/m7", Frames: 12}
	close(events)

	if err := root.watchLoop(context.Background(), events, "/out"); err != nil {
		t.Fatalf("watch loop: %v", err)
	}
	if len(fakePipe.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(fakePipe.jobs))
	}
	if job := fakePipe.jobs[0]; job.Output != filepath.Join("/out", "m7") || job.Type != pipeline.JobCorrect {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestSelftestReportsRecoveredDrift(t *testing.T) {
	root, fakePipe, out := newTestRoot(t)
	sum := filepath.Join(t.TempDir(), "sum.tif")
	args := []string{"selftest", "--frames", "6", "--size", "192", "--vx", "1", "--vy", "0", "--passes", "2", "--tolerance", "1", "--output", sum}
	if err := root.Run(context.Background(), args); err != nil {
		t.Fatalf("selftest: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "worst error") {
		t.Fatalf("missing summary:\n%s", out.String())
	}
	if _, err := os.Stat(sum); err != nil {
		t.Fatalf("expected composite written: %v", err)
	}
	if len(fakePipe.jobs) != 0 {
		t.Fatalf("selftest should not queue jobs")
	}

	if err := root.Run(context.Background(), []string{"selftest", "--frames", "4", "--size", "96", "--tolerance", "-1"}); err == nil {
		t.Fatalf("expected failure when the error exceeds the tolerance")
	}
	if err := root.Run(context.Background(), []string{"selftest", "--frames", "1"}); err == nil {
		t.Fatalf("expected error for a single frame")
	}
}

type fakeRemote struct {
	jobType string
	input   string
	events  []map[string]any
}

func (f *fakeRemote) Submit(ctx context.Context, jobType, input, output string, options map[string]any) (string, error) {
	f.jobType, f.input = jobType, input
	return "remote-1", nil
}

func (f *fakeRemote) WatchProgress(ctx context.Context, id string, fn func(map[string]any) error) error {
	for _, ev := range f.events {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return io.EOF
}

func TestSubmitRemoteFollowsProgress(t *testing.T) {
	root, _, out := newTestRoot(t)
	remote := &fakeRemote{events: []map[string]any{
		{"kind": "progress", "stage": "pass", "pass": 1.0, "aligned": 5.0, "skipped": 0.0, "mean_confidence": 0.8},
		{"kind": "result", "status": "completed"},
	}}
	if err := root.submitRemote(context.Background(), remote, "average", "movie", "", true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if remote.jobType != "average" || !filepath.IsAbs(remote.input) {
		t.Fatalf("unexpected submission %q %q", remote.jobType, remote.input)
	}
	for _, want := range []string{"submitted average job remote-1", "pass 1: aligned 5", "job remote-1 completed"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	tmp := t.TempDir()
	cfg.Paths.DefaultOutput = filepath.Join(tmp, "output")
	cfg.Paths.DatabasePath = filepath.Join(tmp, "motioncor.db")

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	pipe := newFakePipeline()
	out := &bytes.Buffer{}

	root := NewRoot(pipe, cfg, logger, nil)
	root.out = out
	return root, pipe, out
}

// fakePipeline answers every submitted job with a result on all current
// subscribers.
type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	subs      map[int]chan pipeline.Result
	nextSubID int
	jobErrors map[string]error
	meta      map[string]any
	silent    bool
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		subs:      make(map[int]chan pipeline.Result),
		jobErrors: make(map[string]error),
	}
}

func (f *fakePipeline) Submit(job pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	if f.silent {
		return nil
	}
	res := pipeline.Result{Job: job, Error: f.jobErrors[job.ID], Meta: f.meta}
	for _, ch := range f.subs {
		select {
		case ch <- res:
		default:
		}
	}
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan pipeline.Result, 4)
	f.subs[id] = ch
	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			close(c)
			delete(f.subs, id)
		}
	}
	return ch, unsub
}

func (f *fakePipeline) SubscribeProgress() (<-chan pipeline.Progress, func()) {
	ch := make(chan pipeline.Progress)
	return ch, func() {}
}
