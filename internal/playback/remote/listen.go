package remote

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"

	"github.com/banshee-data/panotour/internal/playback"
)

// maxMsgSize leaves room for scenes with many hotspots.
const maxMsgSize = 16 * 1024 * 1024

// NewGRPCServer returns a grpc.Server with the playback service registered.
func NewGRPCServer(r *playback.Resolver, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}, opts...)
	s := grpc.NewServer(opts...)
	Register(s, NewServer(r))
	return s
}

// ListenAndServe serves the playback service on addr until ctx is
// cancelled, then stops gracefully.
func ListenAndServe(ctx context.Context, addr string, r *playback.Resolver) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s := NewGRPCServer(r)

	errCh := make(chan error, 1)
	go func() {
		logf("server listening on %s", lis.Addr())
		errCh <- s.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.GracefulStop()
	logf("server stopped")
	return nil
}
