package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"katago_web/internal/adapters"
	"katago_web/internal/bootstrap"
	analysisDelivery "katago_web/internal/delivery/analysis"
	"katago_web/internal/engine"
	ownMiddleware "katago_web/internal/middleware"
	"katago_web/internal/repository"
	analysisUC "katago_web/internal/usecase/analysis"
)

func main() {
	logger := NewLogger()
	cfg, err := bootstrap.Setup(".env")
	if err != nil {
		logger.Error("Failed to setup configuration", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisAdapter := initRedis(ctx, logger, cfg)
	if redisAdapter != nil {
		defer redisAdapter.Close(ctx)
	}

	eng := engine.NewEngine(
		cfg.KatagoPath,
		cfg.KatagoModel,
		cfg.KatagoConfig,
		time.Duration(cfg.ResponseTimeoutSec)*time.Second,
		logger,
	)

	// A failed start is not fatal: the server comes up anyway and the engine
	// can be retried through POST /api/engine/start.
	if err := eng.Start(); err != nil {
		logger.Errorw("katago engine did not start", "error", err)
	}
	defer eng.Stop()

	analysisRepo := repository.NewAnalysisRepository(cfg, logger, eng, redisAdapter)
	recognizerRepo := repository.NewRecognizerRepository(cfg, logger)
	uc := analysisUC.NewAnalysisUseCase(analysisRepo, recognizerRepo, cfg.DefaultMaxVisits)
	handler := analysisDelivery.NewAnalysisHandler(*cfg, logger, uc)

	r := chi.NewRouter()
	router(r, handler, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go handleShutdown(srv, eng, cancel, logger)

	logger.Infof("Server is running on port %s", cfg.ServerPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}

func NewLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger.Sugar()
}

func router(r *chi.Mux, h *analysisDelivery.AnalysisHandler, cfg *bootstrap.Config) {
	if cfg.IsLocalCors {
		r.Use(ownMiddleware.CORS)
	}
	r.Use(middleware.Logger)

	r.Get("/api/status", h.HandleStatus)
	r.Post("/api/engine/start", h.HandleEngineStart)
	r.Post("/api/recognize", h.HandleRecognize)
	r.Get("/ws", h.HandleWS)

	r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
}

func initRedis(ctx context.Context, log *zap.SugaredLogger, cfg *bootstrap.Config) *adapters.AdapterRedis {
	if cfg.RedisUrl == "" {
		log.Info("REDIS_URL not set, analysis cache disabled")
		return nil
	}
	redisAdapter := adapters.NewAdapterRedis(cfg)
	if err := redisAdapter.Init(ctx); err != nil {
		log.Warnw("redis unavailable, analysis cache disabled", "error", err)
		return nil
	}
	log.Info("redis adapter initialized")
	return redisAdapter
}

func handleShutdown(srv *http.Server, eng *engine.Engine, cancelFunc context.CancelFunc, log *zap.SugaredLogger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server shutdown failed", "error", err)
	}

	eng.Stop()
	cancelFunc()
}
