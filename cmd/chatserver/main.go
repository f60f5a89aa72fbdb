// Command chatserver is the process entrypoint: it loads configuration,
// wires logging/metrics/admission, builds the chat core, starts the
// idle detector and the WebSocket transport, and waits for a shutdown
// signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/chat-core/internal/admission"
	"github.com/adred-codev/chat-core/internal/bridge"
	"github.com/adred-codev/chat-core/internal/chat"
	"github.com/adred-codev/chat-core/internal/config"
	"github.com/adred-codev/chat-core/internal/idle"
	"github.com/adred-codev/chat-core/internal/logging"
	"github.com/adred-codev/chat-core/internal/metrics"
	"github.com/adred-codev/chat-core/internal/transport"
)

func main() {
	bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	chatServer := chat.NewServer(cfg.GroupName, cfg.HistoryCapacity)

	var metr *metrics.Metrics
	if cfg.MetricsEnabled {
		metr = metrics.New()
		chatServer.Metr = metr
		stopSampler := make(chan struct{})
		defer close(stopSampler)
		go metr.RunSampler(cfg.MetricsInterval, stopSampler)
	}

	guard := admission.New(admission.Config{
		GlobalRate:  cfg.ConnRateLimitPerSec,
		GlobalBurst: cfg.ConnRateBurst,
		IPRate:      cfg.ConnRateLimitPerIPRate,
		IPBurst:     cfg.ConnRateLimitPerIPBurst,
		IPTTL:       5 * time.Minute,
	}, logger)
	defer guard.Close()

	var natsBridge *bridge.Bridge
	if cfg.NATSURL != "" {
		natsBridge, err = bridge.Connect(bridge.DefaultConfig(cfg.NATSURL), chatServer.Router, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats bridge")
		}
		if err := natsBridge.Subscribe(cfg.GroupName); err != nil {
			logger.Fatal().Err(err).Msg("failed to subscribe bridge to group channel")
		}
		chatServer.Router.SetForwarder(natsBridge)
		defer natsBridge.Close()
	}

	idleCtx, idleCancel := context.WithCancel(context.Background())
	detector := idle.New(chatServer.Registry, chatServer.Router, cfg.GroupName)
	detector.CheckPeriod = cfg.IdleCheckPeriod
	detector.Threshold = cfg.IdleThreshold
	if metr != nil {
		detector.Metr = metr
	}
	go detector.Run(idleCtx)
	defer idleCancel()

	srv := transport.New(transport.Config{
		Addr:         cfg.Addr,
		PingInterval: cfg.PingInterval,
		MaxFrameSize: cfg.MaxFrameSize,
	}, chatServer, guard, metr, logger)

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start transport")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutdown signal received")
	idleCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("error during transport shutdown")
	}

	logger.Info().Msg("shutdown complete")
}
