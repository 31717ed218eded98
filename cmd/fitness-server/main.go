package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-relief-fitness/internal/api"
	"github.com/mr1hm/go-relief-fitness/internal/config"
	"github.com/mr1hm/go-relief-fitness/internal/fitness"
	internalgrpc "github.com/mr1hm/go-relief-fitness/internal/grpc"
	"github.com/mr1hm/go-relief-fitness/internal/logging"
	"github.com/mr1hm/go-relief-fitness/internal/metrics"
	"github.com/mr1hm/go-relief-fitness/internal/observability"
	"github.com/mr1hm/go-relief-fitness/internal/pipeline"
	"github.com/mr1hm/go-relief-fitness/internal/repository"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)
	metrics.Init()
	observability.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.Endpoint)
	defer observability.ShutdownTracer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("relief-fitness server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// run serves HTTP and gRPC until ctx ends or either listener fails.
func run(ctx context.Context, cfg *config.Config) error {
	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	svc := fitness.NewService()
	if err := svc.Reload(ctx, db); err != nil {
		return fmt.Errorf("failed to load stored state: %w", err)
	}

	broadcaster := internalgrpc.NewBroadcaster()
	p := pipeline.New(db, cfg.PipelineOptions())
	p.Subscribe(svc)
	p.Subscribe(broadcaster)

	runner := pipeline.NewRunner(p, cfg.Pipeline.Interval, cfg.Pipeline.OnStart)
	runner.Start(ctx)
	defer runner.Stop()

	grpcServer := internalgrpc.NewServer(svc, broadcaster)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           newRouter(cfg, api.NewHandler(svc, db, p)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcServer.Start(fmt.Sprintf(":%d", cfg.GRPC.Port))
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		// model streams close first so GracefulStop is not held open by them
		grpcServer.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(cfg *config.Config, handler *api.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		api.RequestTiming(),
		cors.New(cors.Config{
			AllowOrigins:  []string{"*"},
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Origin", "Content-Type"},
			ExposeHeaders: []string{"Content-Length", "Retry-After", "X-RateLimit-Limit"},
		}),
		api.RateLimitMiddleware(cfg.Server.RateLimitRPS),
	)
	handler.RegisterRoutes(router)
	return router
}
