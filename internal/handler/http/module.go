package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/handler/lp"
	"github.com/webitel/im-coalescer-service/internal/handler/ws"
	"github.com/webitel/im-coalescer-service/internal/service"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Config    *config.Config
	Logger    *slog.Logger
	Deliverer service.Deliverer
	Gatherer  prometheus.Gatherer `optional:"true"`
}

func NewFromParams(p Params) *Handler {
	var metrics http.Handler
	if p.Gatherer != nil {
		metrics = promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{})
	}
	return NewHandler(
		p.Deliverer,
		p.Logger,
		ws.NewWSHandler(p.Logger, p.Deliverer),
		lp.NewLPHandler(p.Deliverer, lp.DefaultPollTimeout),
		metrics,
	)
}

var Module = fx.Module("http-server",
	fx.Provide(NewFromParams),
	fx.Invoke(func(lc fx.Lifecycle, h *Handler, cfg *config.Config, logger *slog.Logger) {
		srv := &http.Server{
			Addr:              cfg.Service.HTTPAddr,
			Handler:           h.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				ln, err := net.Listen("tcp", srv.Addr)
				if err != nil {
					return err
				}
				go func() {
					if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("HTTP_SERVER_FAILED", "err", err)
					}
				}()
				logger.Info("HTTP_SERVER_STARTED", "addr", ln.Addr().String())
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
