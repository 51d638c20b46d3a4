package storage

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "motioncor.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := newStore(t)
	if err := s.RecordJobQueued(JobRecord{ID: "j1", JobType: "correct", Status: "queued", InputPath: "/in", OutputPath: "/out"}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.RecordJobStart("j1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RecordJobResult("j1", "completed", map[string]any{"frames": 12}, ""); err != nil {
		t.Fatalf("result: %v", err)
	}

	rec, err := s.Job("j1")
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if rec.Status != "completed" || rec.StartedAt == nil || rec.CompletedAt == nil {
		t.Fatalf("unexpected record %+v", rec)
	}
	meta, err := s.JobMeta("j1")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta["frames"].(float64) != 12 {
		t.Fatalf("unexpected meta %v", meta)
	}

	recent, err := s.RecentJobs(10)
	if err != nil || len(recent) != 1 || recent[0].ID != "j1" {
		t.Fatalf("recent jobs: %v %+v", err, recent)
	}
}

func TestTrajectoryReplace(t *testing.T) {
	s := newStore(t)
	first := []Shift{{0, 0, 0}, {1, 0.5, -0.25}, {2, 1, -0.5}}
	if err := s.RecordTrajectory("j1", first); err != nil {
		t.Fatalf("record: %v", err)
	}
	second := []Shift{{1, 2, 2}, {0, 1, 1}}
	if err := s.RecordTrajectory("j1", second); err != nil {
		t.Fatalf("record again: %v", err)
	}
	got, err := s.Trajectory("j1")
	if err != nil {
		t.Fatalf("trajectory: %v", err)
	}
	want := []Shift{{0, 1, 1}, {1, 2, 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("trajectory mismatch (-want +got):\n%s", diff)
	}
}

func TestPassStatsUpsert(t *testing.T) {
	s := newStore(t)
	for _, st := range []PassStats{
		{Pass: 1, Aligned: 7, MeanConfidence: 9.5, MaxDelta: 3},
		{Pass: 0, Aligned: 7, Skipped: 1},
		{Pass: 1, Aligned: 6, Skipped: 1, MeanConfidence: 10, MaxDelta: 0.2},
	} {
		if err := s.RecordPassStats("j1", st); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := s.PassStats("j1")
	if err != nil {
		t.Fatalf("pass stats: %v", err)
	}
	want := []PassStats{
		{Pass: 0, Aligned: 7, Skipped: 1},
		{Pass: 1, Aligned: 6, Skipped: 1, MeanConfidence: 10, MaxDelta: 0.2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pass stats mismatch (-want +got):\n%s", diff)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordJobQueued(JobRecord{ID: "x"}); err != nil {
		t.Fatalf("nil store queue: %v", err)
	}
	if err := s.RecordTrajectory("x", []Shift{{0, 1, 1}}); err != nil {
		t.Fatalf("nil store trajectory: %v", err)
	}
	if _, err := s.Trajectory("x"); err == nil {
		t.Fatalf("expected error reading from nil store")
	}
}
