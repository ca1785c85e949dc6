package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/api/handlers"
	"github.com/BaSui01/inkflow/internal/server"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API server",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "recover", Value: true, Usage: "Resume interrupted executions on startup"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer logger.Sync()

			logger.Info("Starting inkflow",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.Warn("shutdown finished with errors", zap.Error(err))
				}
			}()

			go app.reportDBStats(ctx, 15*time.Second)

			if c.Bool("recover") {
				go func() {
					n, err := app.coordinator.Recover(ctx)
					if err != nil {
						logger.Error("recover interrupted executions failed", zap.Error(err))
						return
					}
					logger.Info("interrupted executions resumed", zap.Int("count", n))
				}()
			}

			mgr := server.NewManager(app.handler(ctx), server.ConfigFromServer(cfg.Server), logger)
			if err := mgr.Run(ctx); err != nil {
				return err
			}
			logger.Info("inkflow stopped")
			return nil
		},
	}
}

// handler 构建路由与中间件链
func (a *application) handler(ctx context.Context) http.Handler {
	health := handlers.NewHealthHandler(a.logger)
	health.RegisterCheck(handlers.NewPingCheck("database", a.db.Ping))
	if a.redis != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", a.redis.Ping))
	}

	mux := http.NewServeMux()
	handlers.Routes{
		Health:      health,
		Documents:   handlers.NewDocumentHandler(a.coordinator, a.stores.Documents, a.logger),
		Checkpoints: handlers.NewCheckpointHandler(a.stores.Checkpoints, a.collector, a.logger),
		Executions:  handlers.NewExecutionHandler(a.coordinator, a.logger),
		Metrics:     promhttp.Handler(),
	}.Register(mux)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	return Chain(mux,
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(a.logger),
		RateLimiter(ctx, a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst, "/health", "/ready", "/metrics"),
		OTelTracing(),
		MetricsMiddleware(a.collector),
	)
}
