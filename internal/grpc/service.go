package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/mr1hm/go-relief-fitness/internal/fitness"
	"github.com/mr1hm/go-relief-fitness/internal/predictor"
)

const ServiceName = "fitness.v1.FitnessService"

const (
	predictMethod       = "/" + ServiceName + "/Predict"
	rankDistrictsMethod = "/" + ServiceName + "/RankDistricts"
	getModelMethod      = "/" + ServiceName + "/GetModel"
	watchModelsMethod   = "/" + ServiceName + "/WatchModels"
)

type PredictRequest struct {
	NGO      string `json:"ngo"`
	District string `json:"district"`
}

type RankDistrictsRequest struct {
	NGO   string `json:"ngo"`
	Limit int32  `json:"limit,omitempty"`
}

type RankDistrictsResponse struct {
	Predictions []fitness.Prediction `json:"predictions"`
}

type GetModelRequest struct{}

type WatchModelsRequest struct {
	// IncludeCurrent sends the active model, if any, before waiting for new ones.
	IncludeCurrent bool `json:"include_current,omitempty"`
}

type ModelEvent struct {
	Model       predictor.Info `json:"model"`
	PublishedAt time.Time      `json:"published_at"`
}

// FitnessServiceServer is the server API of fitness.v1.FitnessService.
type FitnessServiceServer interface {
	Predict(ctx context.Context, req *PredictRequest) (*fitness.Prediction, error)
	RankDistricts(ctx context.Context, req *RankDistrictsRequest) (*RankDistrictsResponse, error)
	GetModel(ctx context.Context, req *GetModelRequest) (*predictor.Info, error)
	WatchModels(req *WatchModelsRequest, stream ModelStream) error
}

// ModelStream is the server side of a WatchModels call.
type ModelStream interface {
	Send(*ModelEvent) error
	Context() context.Context
}

type modelStream struct {
	grpc.ServerStream
}

func (s *modelStream) Send(e *ModelEvent) error {
	return s.ServerStream.SendMsg(e)
}

func RegisterFitnessServiceServer(s grpc.ServiceRegistrar, srv FitnessServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FitnessServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
		{MethodName: "RankDistricts", Handler: rankDistrictsHandler},
		{MethodName: "GetModel", Handler: getModelHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchModels", Handler: watchModelsHandler, ServerStreams: true},
	},
	Metadata: "fitness/v1/fitness",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PredictRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FitnessServiceServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FitnessServiceServer).Predict(ctx, req.(*PredictRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func rankDistrictsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RankDistrictsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FitnessServiceServer).RankDistricts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rankDistrictsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FitnessServiceServer).RankDistricts(ctx, req.(*RankDistrictsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getModelHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetModelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FitnessServiceServer).GetModel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getModelMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FitnessServiceServer).GetModel(ctx, req.(*GetModelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchModelsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchModelsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FitnessServiceServer).WatchModels(in, &modelStream{stream})
}
