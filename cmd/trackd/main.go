// Package main provides the entrypoint for the trackd tracking agent.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/famloop/trackd/internal/agent"
	"github.com/famloop/trackd/internal/api"
	"github.com/famloop/trackd/internal/api/middleware"
	"github.com/famloop/trackd/internal/config"
	"github.com/famloop/trackd/internal/platform"
	"github.com/famloop/trackd/internal/queue"
	"github.com/famloop/trackd/internal/telemetry"
	"github.com/famloop/trackd/internal/uploader"
	"github.com/famloop/trackd/internal/wake"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "trackd"

	simulate := flag.Bool("simulate", false, "use the simulated location provider")
	autostart := flag.Bool("autostart", false, "start tracking immediately instead of waiting for the control API")
	flag.Parse()

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting trackd agent")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize HTTP metrics")
	}
	agentMetrics, err := telemetry.NewAgentMetrics(tp.Meter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize agent metrics")
	}

	// Open the offline queue
	repo, err := queue.OpenSQLite(ctx, cfg.QueuePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.QueuePath).Msg("failed to open offline queue")
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close offline queue")
		}
	}()
	log.Info().Str("path", cfg.QueuePath).Msg("offline queue opened")

	// Upload pipeline
	sender := uploader.NewClient(uploader.ClientConfig{
		BaseURL: cfg.UploadBaseURL,
		Token:   cfg.UploadToken,
	})
	scheduler := uploader.NewScheduler(uploader.SchedulerDeps{
		Config:     cfg.Scheduler,
		Repository: repo,
		Sender:     sender,
		Metrics:    agentMetrics,
		Logger:     log.With().Str("component", "uploader").Logger(),
	})

	// Location provider. Real deployments bind platform location services
	// here; this build ships the simulator for local runs and rigs.
	if !*simulate {
		log.Fatal().Msg("no platform location provider in this build, run with -simulate")
	}
	provider := &platform.SimulatedProvider{
		Path:        platform.CirclePath(-33.9249, 18.4241, 250, 36),
		SpeedMS:     1.4,
		MinInterval: time.Second,
	}

	// Optional legacy single-fix mirror for pre-batch server deployments.
	var mirror agent.FixMirror
	if cfg.LegacySessionCookie != "" {
		mirror = uploader.NewLegacyClient(uploader.LegacyClientConfig{
			BaseURL:       cfg.UploadBaseURL,
			SessionCookie: cfg.LegacySessionCookie,
			Source:        cfg.LegacySource,
			Logger:        log.With().Str("component", "legacy-uploader").Logger(),
		})
	}

	supervisor := agent.New(agent.Deps{
		Config:      cfg.Supervisor,
		Provider:    provider,
		Battery:     platform.StaticBattery{Percent: 100},
		Permissions: platform.AlwaysGranted{},
		Queue:       repo,
		Uploads:     scheduler,
		Mirror:      mirror,
		Zones:       cfg.Zones,
		Metrics:     agentMetrics,
		Logger:      log.With().Str("component", "supervisor").Logger(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go scheduler.Run(runCtx)

	// Wake listener, if a subscription is configured
	if cfg.WakeSubscription != "" {
		listener, listenErr := wake.NewListener(ctx, wake.ListenerConfig{
			ProjectID:        cfg.PubSubProjectID,
			SubscriptionName: cfg.WakeSubscription,
			Waker:            supervisor,
			Logger:           log.With().Str("component", "wake").Logger(),
		})
		if listenErr != nil {
			log.Fatal().Err(listenErr).Msg("failed to create wake listener")
		}
		defer func() {
			if closeErr := listener.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("failed to close wake listener")
			}
		}()
		go func() {
			if recvErr := listener.Start(runCtx); recvErr != nil && runCtx.Err() == nil {
				log.Error().Err(recvErr).Msg("wake listener stopped")
			}
		}()
	}

	if *autostart {
		if startErr := supervisor.Start(runCtx); startErr != nil {
			log.Fatal().Err(startErr).Msg("failed to start tracking")
		}
	}

	// Control API
	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     httpMetrics,
		Tracker:     supervisor,
		Queue:       repo,
		Uploads:     scheduler,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("control API listening")

		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatal().Err(serveErr).Msg("control API error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// Stop tracking first so the subscription and wake lock are released,
	// then stop the workers and the control API.
	supervisor.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control API forced to shutdown")
	}

	log.Info().Msg("agent stopped")
}
