package pipeline

import (
	"log/slog"

	"motioncor/internal/motion"
	"motioncor/internal/storage"
)

// Progress is published after every estimation level and pass of a job.
type Progress struct {
	JobID          string  `json:"job_id"`
	Stage          string  `json:"stage"` // "level" or "pass"
	Pass           int     `json:"pass"`
	Level          int     `json:"level,omitempty"`
	Aligned        int     `json:"aligned"`
	Skipped        int     `json:"skipped"`
	Degenerate     int     `json:"degenerate"`
	MeanConfidence float64 `json:"mean_confidence"`
	MaxDelta       float64 `json:"max_delta,omitempty"`
}

// passRecorder is the estimator sink of a pipeline job: pass summaries go
// to the store and every report is published as Progress.
type passRecorder struct {
	jobID   string
	store   *storage.Store
	publish func(Progress)
	log     *slog.Logger
}

func (r *passRecorder) Level(rep motion.LevelReport) error {
	r.emit(Progress{
		JobID:          r.jobID,
		Stage:          "level",
		Pass:           rep.Pass,
		Level:          rep.Level,
		Aligned:        rep.Aligned,
		Skipped:        rep.Skipped,
		Degenerate:     rep.Degenerate,
		MeanConfidence: rep.MeanConfidence,
	})
	return nil
}

func (r *passRecorder) Pass(rep motion.PassReport) error {
	r.emit(Progress{
		JobID:          r.jobID,
		Stage:          "pass",
		Pass:           rep.Pass,
		Aligned:        rep.Aligned,
		Skipped:        rep.Skipped,
		Degenerate:     rep.Degenerate,
		MeanConfidence: rep.MeanConfidence,
		MaxDelta:       rep.MaxDelta,
	})
	r.log.Info("pass complete", "job_id", r.jobID, "pass", rep.Pass, "aligned", rep.Aligned,
		"skipped", rep.Skipped, "mean_confidence", rep.MeanConfidence, "max_delta", rep.MaxDelta)
	return r.store.RecordPassStats(r.jobID, storage.PassStats{
		Pass:           rep.Pass,
		Aligned:        rep.Aligned,
		Skipped:        rep.Skipped,
		Degenerate:     rep.Degenerate,
		MeanConfidence: rep.MeanConfidence,
		MaxDelta:       rep.MaxDelta,
	})
}

func (r *passRecorder) emit(p Progress) {
	if r.publish != nil {
		r.publish(p)
	}
}
