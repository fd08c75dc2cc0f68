package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/copyleftdev/cellfit/internal/config"
	apperrors "github.com/copyleftdev/cellfit/internal/errors"
	"github.com/copyleftdev/cellfit/internal/logging"
	"github.com/copyleftdev/cellfit/internal/metrics"
	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/server"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "cellfit-server",
		"version": version,
	})

	recorder := metrics.NewRecorder()
	pool := optimization.NewPool(cfg.Optimization.WorkerCount)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(apperrors.RecoveryMiddleware(serviceLogger))
	r.Use(middleware.Timeout(cfg.HTTP.WriteTimeout))

	srv := server.NewServer(cfg, serviceLogger,
		server.WithRecorder(recorder),
		server.WithPool(pool),
		server.WithZapLogger(logging.NewZapLogger(serviceLogger)),
	)
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address":     httpServer.Addr,
			"environment": cfg.Environment,
			"workers":     cfg.Optimization.WorkerCount,
			"max_jobs":    cfg.Optimization.MaxJobs,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{"error": err})
		}
	}()

	<-ctx.Done()
	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err})
	}

	// Running fits are cancelled here and keep their best result so far.
	if err := srv.Close(); err != nil {
		serviceLogger.Error("Error closing fits", map[string]interface{}{"error": err})
	}
	serviceLogger.Info("Server stopped")
}
