package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"motioncor/internal/pipeline"
	"motioncor/internal/storage"
	"motioncor/internal/tasks"
)

// jobPipeline is the part of pipeline.Pipeline the server drives.
type jobPipeline interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
	SubscribeProgress() (<-chan pipeline.Progress, func())
}

// Server exposes the job store and pipeline over HTTP, with an optional
// watcher that queues settled movie directories.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline jobPipeline
	watcher  *tasks.MovieWatcher
	hub      *Hub
	log      *slog.Logger
	server   *http.Server
}

// NewServer creates a server. watcher may be nil.
func NewServer(addr string, store *storage.Store, pipe jobPipeline, watcher *tasks.MovieWatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		watcher:  watcher,
		hub:      NewHub(log),
		log:      log,
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			return err
		}
		go s.queueMovies(ctx)
	}
	go s.hub.Run(ctx)
	go s.forwardEvents(ctx)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down http server")
		if s.watcher != nil {
			s.watcher.Stop()
		}
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("http server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/trajectory", s.handleTrajectory).Methods("GET")
	r.HandleFunc("/jobs/{id}/passes", s.handlePasses).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.hub.ServeWS).Methods("GET")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentJobs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type jobView struct {
	storage.JobRecord
	Meta map[string]any `json:"meta,omitempty"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	view := jobView{JobRecord: rec}
	if meta, err := s.store.JobMeta(id); err == nil {
		view.Meta = meta
	}
	writeJSON(w, http.StatusOK, view)
}

type trajectoryView struct {
	JobID  string          `json:"job_id"`
	Shifts []storage.Shift `json:"shifts"`
}

func (s *Server) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	shifts, err := s.store.Trajectory(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(shifts) == 0 {
		http.Error(w, "no trajectory for job", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, trajectoryView{JobID: id, Shifts: shifts})
}

func (s *Server) handlePasses(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.PassStats(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type submitRequest struct {
	Type    string         `json:"type"`
	Input   string         `json:"input"`
	Output  string         `json:"output"`
	Options map[string]any `json:"options"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	jobType, err := parseJobType(req.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}
	if req.Options == nil {
		req.Options = map[string]any{}
	}
	req.Options["source"] = "http"

	job := pipeline.Job{ID: uuid.NewString(), Type: jobType, InputPath: req.Input, Output: req.Output, Options: req.Options}
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": "queued"})
}

func parseJobType(t string) (pipeline.JobType, error) {
	switch pipeline.JobType(t) {
	case "":
		return pipeline.JobCorrect, nil
	case pipeline.JobCorrect, pipeline.JobFramewise, pipeline.JobAverage, pipeline.JobScan:
		return pipeline.JobType(t), nil
	}
	return "", errors.New("unknown job type: " + t)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	resCh, unsubRes := s.pipeline.Subscribe()
	defer unsubRes()
	progCh, unsubProg := s.pipeline.SubscribeProgress()
	defer unsubProg()

	for {
		var ev Event
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			ev = resultEvent(res)
		case p, ok := <-progCh:
			if !ok {
				return
			}
			ev = progressEvent(p)
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			s.log.Warn("cannot encode stream event", "error", err)
			continue
		}
		_, _ = w.Write([]byte("event: " + ev.Kind + "\ndata: " + string(payload) + "\n\n"))
		flusher.Flush()
	}
}

// forwardEvents pushes pipeline activity to websocket clients.
func (s *Server) forwardEvents(ctx context.Context) {
	resCh, unsubRes := s.pipeline.Subscribe()
	defer unsubRes()
	progCh, unsubProg := s.pipeline.SubscribeProgress()
	defer unsubProg()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			s.hub.Publish(resultEvent(res))
		case p, ok := <-progCh:
			if !ok {
				return
			}
			s.hub.Publish(progressEvent(p))
		}
	}
}

func (s *Server) queueMovies(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			job := pipeline.Job{
				ID:        uuid.NewString(),
				Type:      pipeline.JobCorrect,
				InputPath: ev.Dir,
				Options:   map[string]any{"source": "watch"},
			}
			if err := s.pipeline.Submit(job); err != nil {
				s.log.Error("failed to queue watched movie", "dir", ev.Dir, "error", err)
				continue
			}
			s.log.Info("queued watched movie", "dir", ev.Dir, "frames", ev.Frames, "id", job.ID)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
