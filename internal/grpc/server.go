package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mr1hm/go-relief-fitness/internal/fitness"
	"github.com/mr1hm/go-relief-fitness/internal/metrics"
	"github.com/mr1hm/go-relief-fitness/internal/models"
	"github.com/mr1hm/go-relief-fitness/internal/predictor"
)

// Querier is the part of the fitness service the gRPC surface needs.
type Querier interface {
	Predict(ngo, district string) (fitness.Prediction, error)
	RankDistricts(ngo string, limit int) ([]fitness.Prediction, error)
	Model() (*predictor.Model, error)
}

type Server struct {
	svc         Querier
	broadcaster *Broadcaster
	grpcServer  *grpc.Server
}

func NewServer(svc Querier, broadcaster *Broadcaster) *Server {
	s := &Server{
		svc:         svc,
		broadcaster: broadcaster,
		grpcServer:  grpc.NewServer(grpc.ForceServerCodec(Codec())),
	}
	RegisterFitnessServiceServer(s.grpcServer, s)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop ends open model streams and then drains in-flight calls.
func (s *Server) Stop() {
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	s.grpcServer.GracefulStop()
}

func (s *Server) Predict(ctx context.Context, req *PredictRequest) (*fitness.Prediction, error) {
	if req.NGO == "" || req.District == "" {
		metrics.PredictionsTotal.WithLabelValues("grpc", "invalid").Inc()
		return nil, status.Error(codes.InvalidArgument, "ngo and district are required")
	}

	p, err := s.svc.Predict(req.NGO, req.District)
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues("grpc", "error").Inc()
		return nil, toStatus(err)
	}
	metrics.PredictionsTotal.WithLabelValues("grpc", "ok").Inc()
	return &p, nil
}

func (s *Server) RankDistricts(ctx context.Context, req *RankDistrictsRequest) (*RankDistrictsResponse, error) {
	if req.NGO == "" {
		return nil, status.Error(codes.InvalidArgument, "ngo is required")
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}

	ranked, err := s.svc.RankDistricts(req.NGO, int(req.Limit))
	if err != nil {
		return nil, toStatus(err)
	}
	return &RankDistrictsResponse{Predictions: ranked}, nil
}

func (s *Server) GetModel(ctx context.Context, req *GetModelRequest) (*predictor.Info, error) {
	m, err := s.svc.Model()
	if err != nil {
		return nil, toStatus(err)
	}
	info := m.Info()
	return &info, nil
}

func (s *Server) WatchModels(req *WatchModelsRequest, stream ModelStream) error {
	id, ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	slog.Info("client subscribed to model stream", "subscriber_id", id)

	if req.IncludeCurrent {
		if m, err := s.svc.Model(); err == nil {
			if err := stream.Send(&ModelEvent{Model: m.Info(), PublishedAt: m.CreatedAt}); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-stream.Context().Done():
			slog.Info("client disconnected from model stream", "subscriber_id", id)
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(e); err != nil {
				slog.Error("failed to send model event", "error", err, "subscriber_id", id)
				return err
			}
		}
	}
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, models.ErrUnknownEntity):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, models.ErrNoOverlap):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, models.ErrModelNotTrained):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}
