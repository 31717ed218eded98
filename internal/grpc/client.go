package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mr1hm/go-relief-fitness/internal/fitness"
	"github.com/mr1hm/go-relief-fitness/internal/predictor"
)

// Client calls fitness.v1.FitnessService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens a plaintext connection that speaks the service's JSON codec.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec())),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", addr, err)
	}
	return conn, nil
}

func (c *Client) Predict(ctx context.Context, ngo, district string) (*fitness.Prediction, error) {
	out := new(fitness.Prediction)
	if err := c.cc.Invoke(ctx, predictMethod, &PredictRequest{NGO: ngo, District: district}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RankDistricts(ctx context.Context, ngo string, limit int32) ([]fitness.Prediction, error) {
	out := new(RankDistrictsResponse)
	if err := c.cc.Invoke(ctx, rankDistrictsMethod, &RankDistrictsRequest{NGO: ngo, Limit: limit}, out); err != nil {
		return nil, err
	}
	return out.Predictions, nil
}

func (c *Client) GetModel(ctx context.Context) (*predictor.Info, error) {
	out := new(predictor.Info)
	if err := c.cc.Invoke(ctx, getModelMethod, &GetModelRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ModelWatcher receives model events from a WatchModels stream.
type ModelWatcher struct {
	stream grpc.ClientStream
}

func (w *ModelWatcher) Recv() (*ModelEvent, error) {
	e := new(ModelEvent)
	if err := w.stream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

// WatchModels opens a model event stream; cancel ctx to end it.
func (c *Client) WatchModels(ctx context.Context, includeCurrent bool) (*ModelWatcher, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], watchModelsMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchModelsRequest{IncludeCurrent: includeCurrent}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &ModelWatcher{stream: stream}, nil
}
