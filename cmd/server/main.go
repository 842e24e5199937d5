package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avroom/roomlink/internal/adapters/httpapi"
	"github.com/avroom/roomlink/internal/adapters/rtc"
	"github.com/avroom/roomlink/internal/config"
	"github.com/avroom/roomlink/internal/core"
	"github.com/avroom/roomlink/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	factory := rtc.NewFactory(rtc.Config{
		SignalURL:  cfg.SignalURL,
		AppID:      cfg.AppID,
		ICEServers: cfg.ICEServers,
	}, log.Logger)
	provider := rtc.NewProvider(cfg.MicRTPPort, cfg.ClientCodec, log.Logger)

	svc := session.NewService(factory, provider, session.Options{
		AppID:                cfg.AppID,
		ChannelPrefix:        cfg.ChannelPrefix,
		ClientMode:           cfg.ClientMode,
		ClientCodec:          cfg.ClientCodec,
		ReconnectBase:        cfg.ReconnectBase,
		ReconnectCap:         cfg.ReconnectCap,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}, core.RealClock(), log.Logger)

	openVideo := func(port int) (core.MediaSource, error) {
		if port <= 0 {
			port = cfg.VideoRTPPort
		}
		return rtc.NewUDPSource(core.TrackVideo, port)
	}

	r := httpapi.SetupRouter(cfg.Mode, svc, openVideo)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("roomlink session service started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := svc.Destroy(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("session teardown")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
