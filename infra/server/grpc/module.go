package grpcsrv

import (
	"context"
	"log/slog"
	"net"

	"github.com/webitel/im-coalescer-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("grpc_server",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, s *Server, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				lis, err := net.Listen("tcp", cfg.Service.GRPCAddr)
				if err != nil {
					return err
				}
				go func() {
					if err := s.Serve(lis); err != nil {
						logger.Error("GRPC_SERVER_FAILED", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				s.Stop(ctx)
				return nil
			},
		})
	}),
)
