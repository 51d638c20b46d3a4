package grpcserver

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"motioncor/internal/pipeline"
	"motioncor/internal/storage"
)

type jobPipeline interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
	SubscribeProgress() (<-chan pipeline.Progress, func())
}

// Server implements MotionCorrectionServer on top of the pipeline and store.
type Server struct {
	store  *storage.Store
	pipe   jobPipeline
	log    *slog.Logger
	health *health.Server
}

func New(store *storage.Store, pipe jobPipeline, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: store, pipe: pipe, log: log, health: health.NewServer()}
}

// Register adds the correction and health services to g.
func (s *Server) Register(g *grpc.Server) {
	RegisterMotionCorrectionServer(g, s)
	healthpb.RegisterHealthServer(g, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	g := grpc.NewServer()
	s.Register(g)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		g.GracefulStop()
	}()
	s.log.Info("grpc server starting", "addr", lis.Addr().String())
	return g.Serve(lis)
}

func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := in.AsMap()
	input, _ := req["input"].(string)
	if input == "" {
		return nil, status.Error(codes.InvalidArgument, "input is required")
	}
	jobType := pipeline.JobCorrect
	if t, _ := req["type"].(string); t != "" {
		jobType = pipeline.JobType(t)
	}
	switch jobType {
	case pipeline.JobCorrect, pipeline.JobFramewise, pipeline.JobAverage, pipeline.JobScan:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown job type %q", jobType)
	}
	output, _ := req["output"].(string)
	options, _ := req["options"].(map[string]any)
	if options == nil {
		options = map[string]any{}
	}
	options["source"] = "grpc"

	job := pipeline.Job{ID: uuid.NewString(), Type: jobType, InputPath: input, Output: output, Options: options}
	if err := s.pipe.Submit(job); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	s.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath, "source", "grpc")
	return structpb.NewStruct(map[string]any{"id": job.ID, "status": "queued"})
}

func (s *Server) GetJob(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.Job(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.Errorf(codes.NotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := map[string]any{
		"id":     rec.ID,
		"type":   rec.JobType,
		"status": rec.Status,
		"input":  rec.InputPath,
		"output": rec.OutputPath,
		"error":  rec.Error,
	}
	if meta, err := s.store.JobMeta(id); err == nil {
		// Round-trip through structpb to normalize JSON-decoded values.
		if m, err := structpb.NewStruct(meta); err == nil {
			out["meta"] = m.AsMap()
		}
	}
	return structpb.NewStruct(out)
}

func (s *Server) GetTrajectory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	shifts, err := s.store.Trajectory(id)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if len(shifts) == 0 {
		return nil, status.Errorf(codes.NotFound, "no trajectory for job %s", id)
	}
	list := make([]any, len(shifts))
	for i, sh := range shifts {
		list[i] = map[string]any{"frame": float64(sh.Frame), "x": sh.X, "y": sh.Y}
	}
	return structpb.NewStruct(map[string]any{"id": id, "shifts": list})
}

func (s *Server) WatchProgress(in *structpb.Struct, stream grpc.ServerStream) error {
	filter, _ := in.AsMap()["id"].(string)
	resCh, unsubRes := s.pipe.Subscribe()
	defer unsubRes()
	progCh, unsubProg := s.pipe.SubscribeProgress()
	defer unsubProg()

	ctx := stream.Context()
	for {
		var ev map[string]any
		var jobID string
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-resCh:
			if !ok {
				return nil
			}
			jobID = res.Job.ID
			ev = map[string]any{"kind": "result", "job_id": jobID, "status": "completed"}
			if res.Error != nil {
				ev["status"] = "failed"
				ev["error"] = res.Error.Error()
			}
		case p, ok := <-progCh:
			if !ok {
				return nil
			}
			jobID = p.JobID
			ev = map[string]any{
				"kind":            "progress",
				"job_id":          p.JobID,
				"stage":           p.Stage,
				"pass":            float64(p.Pass),
				"level":           float64(p.Level),
				"aligned":         float64(p.Aligned),
				"skipped":         float64(p.Skipped),
				"mean_confidence": p.MeanConfidence,
				"max_delta":       p.MaxDelta,
			}
		}
		if filter != "" && jobID != filter {
			continue
		}
		msg, err := structpb.NewStruct(ev)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
		if filter != "" && ev["kind"] == "result" {
			return nil
		}
	}
}

func requireID(in *structpb.Struct) (string, error) {
	id, _ := in.AsMap()["id"].(string)
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "id is required")
	}
	return id, nil
}
