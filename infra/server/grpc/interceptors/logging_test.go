package interceptors

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *stubStream) Context() context.Context { return s.ctx }

func TestStreamLoggerInterceptor(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	fallback := slog.New(slog.DiscardHandler)

	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}
	err := NewStreamLoggerInterceptor(base)(nil, &stubStream{ctx: context.Background()}, info,
		func(_ any, ss grpc.ServerStream) error {
			LoggerFromContext(ss.Context(), fallback).Info("WATCH_OPENED")
			return nil
		})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "grpc.method=/grpc.health.v1.Health/Watch")

	assert.Same(t, fallback, LoggerFromContext(context.Background(), fallback))
}

func TestRecoveryHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	intercept := recovery.UnaryServerInterceptor(RecoveryHandler(logger))
	_, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x"},
		func(context.Context, any) (any, error) { panic("boom") })

	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, buf.String(), "GRPC_HANDLER_PANIC")
}
