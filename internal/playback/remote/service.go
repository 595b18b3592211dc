// Package remote exposes a playback.Resolver over gRPC so that a renderer
// or headset process can drive tour navigation. Messages are
// google.protobuf.Struct values and the service descriptor is wired by
// hand, so no generated code is needed.
package remote

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/panotour/internal/monitoring"
	"github.com/banshee-data/panotour/internal/playback"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "panotour.Playback"

var logf = monitoring.Prefixed("gRPC")

// PlaybackServer is the server API of the playback service.
type PlaybackServer interface {
	Navigate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Step(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ActivateHotspot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	State(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unary(method string, call func(PlaybackServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	full := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PlaybackServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PlaybackServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the playback service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlaybackServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Navigate", Handler: unary("Navigate", PlaybackServer.Navigate)},
		{MethodName: "Step", Handler: unary("Step", PlaybackServer.Step)},
		{MethodName: "ActivateHotspot", Handler: unary("ActivateHotspot", PlaybackServer.ActivateHotspot)},
		{MethodName: "State", Handler: unary("State", PlaybackServer.State)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "panotour/playback",
}

// Register installs srv on s.
func Register(s *grpc.Server, srv PlaybackServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Ensure Server implements the service.
var _ PlaybackServer = (*Server)(nil)

// Server serves a Resolver.
type Server struct {
	resolver *playback.Resolver
}

// NewServer returns a service backed by r.
func NewServer(r *playback.Resolver) *Server {
	return &Server{resolver: r}
}

// Navigate loads the stop given by field "index".
func (s *Server) Navigate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	i, err := intField(in, "index")
	if err != nil {
		return nil, err
	}
	scene, err := s.resolver.NavigateTo(ctx, i)
	if err != nil {
		return nil, toStatus(err)
	}
	return sceneStruct(scene)
}

// Step moves by field "delta" stops.
func (s *Server) Step(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	d, err := intField(in, "delta")
	if err != nil {
		return nil, err
	}
	scene, err := s.resolver.Step(ctx, d)
	if err != nil {
		return nil, toStatus(err)
	}
	return sceneStruct(scene)
}

// ActivateHotspot follows hotspot field "hotspot" of the current stop.
func (s *Server) ActivateHotspot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	n, err := intField(in, "hotspot")
	if err != nil {
		return nil, err
	}
	scene, err := s.resolver.ActivateHotspot(ctx, n)
	if err != nil {
		return nil, toStatus(err)
	}
	return sceneStruct(scene)
}

// State reports the resolver state.
func (s *Server) State(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.resolver.State()
	m := map[string]any{
		"current": st.Current,
		"total":   st.Total,
		"pending": st.Pending,
	}
	if st.LastError != nil {
		m["lastError"] = st.LastError.Error()
	}
	if st.Scene != nil {
		m["scene"] = sceneMap(st.Scene)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode state: %v", err)
	}
	return out, nil
}

func intField(in *structpb.Struct, name string) (int, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "missing field %q", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "field %q must be an integer", name)
	}
	return int(n.NumberValue), nil
}

// toStatus maps resolver errors onto gRPC codes.
func toStatus(err error) error {
	var le *playback.LoadError
	switch {
	case errors.Is(err, playback.ErrOutOfRange), errors.Is(err, playback.ErrNoHotspot):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, playback.ErrSuperseded):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, playback.ErrNoScene):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &le):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	logf("unexpected error: %v", err)
	return status.Error(codes.Internal, err.Error())
}

func sceneMap(sc *playback.LoadedScene) map[string]any {
	hs := make([]any, len(sc.Hotspots))
	for i, h := range sc.Hotspots {
		hs[i] = map[string]any{
			"index":       h.Index,
			"targetScene": h.TargetScene,
			"position":    []any{h.World.X, h.World.Y, h.World.Z},
		}
	}
	m := map[string]any{
		"index":     sc.Index,
		"image":     sc.Stop.Image,
		"pcd":       sc.Stop.PCD,
		"aligned":   sc.Aligned,
		"filtered":  sc.Filtered,
		"pointSize": sc.PointSize,
		"hotspots":  hs,
		"panorama": map[string]any{
			"format": sc.Panorama.Format,
			"width":  sc.Panorama.Width,
			"height": sc.Panorama.Height,
		},
	}
	if sc.Cloud != nil {
		m["points"] = sc.Cloud.Len()
	}
	return m
}

func sceneStruct(sc *playback.LoadedScene) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(sceneMap(sc))
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode scene: %v", err))
	}
	return out, nil
}
