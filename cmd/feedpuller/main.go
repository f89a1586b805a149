// Command feedpuller is the demo/operational binary wrapping the
// pulling and sequential packages behind an HTTP admin surface. It
// wires config → logger → optional Redis → events pipeline → pulling
// engine → sequential processor → admin router → graceful shutdown on
// OS signal.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfred-ai/feedpull/admin"
	"github.com/alfred-ai/feedpull/config"
	"github.com/alfred-ai/feedpull/events"
	"github.com/alfred-ai/feedpull/logger"
	"github.com/alfred-ai/feedpull/observability"
	"github.com/alfred-ai/feedpull/pulling"
	"github.com/alfred-ai/feedpull/redisclient"
	"github.com/alfred-ai/feedpull/sequential"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("feedpull starting")

	var sink events.Sink
	if cfg.RedisEnabled {
		rc, err := redisclient.New(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed — falling back to log sink")
			sink = events.NewLogSink(log)
		} else if err := rc.Ping(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed — falling back to log sink")
			sink = events.NewLogSink(log)
		} else {
			log.Info().Msg("redis connected — analytics events stream to feedpull:events")
			sink = events.NewRedisSink(rc.Raw(), "feedpull:events")
		}
	} else {
		sink = events.NewLogSink(log)
	}

	pipeline := events.NewPipeline(log, sink)
	pipeline.Start(context.Background())

	engineCfg := pulling.DefaultEngineConfig()
	engineCfg.TickInterval = cfg.TickInterval
	engineCfg.ResponseWorkers = cfg.ResponseWorkers
	engineCfg.GraceDuration = cfg.GracefulTimeout
	engineCfg.Dispatcher.RequestTimeout = cfg.DefaultTimeout

	metrics := observability.NewMetrics(log)

	engine := pulling.NewPullingEngine(log, engineCfg, pipeline)
	engine.SetMetrics(metrics)

	ctx, cancelEngine := context.WithCancel(context.Background())
	engine.Start(ctx)

	processor := sequential.NewProcessor(log, sequential.ProcessorConfig{
		ShardCount:     cfg.ShardCount,
		StallThreshold: cfg.StallThreshold,
	}, pipeline)
	processor.SetMetrics(metrics)

	router := admin.NewRouter(admin.Deps{
		Engine:   engine,
		Metrics:  metrics,
		Registry: engine.RegistrySize,
		Queue:    processor.Total,
	}, log)

	srv := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("admin surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	engine.Shutdown(cfg.GracefulTimeout)
	cancelEngine()
	pipeline.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("feedpull stopped gracefully")
	}
}
