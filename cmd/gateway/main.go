// Command gateway runs the local WebSocket gateway standalone, wired with
// in-memory fakes for every host-integration port.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yuvalhk/openclaw/internal/api"
	"github.com/yuvalhk/openclaw/internal/bus"
	"github.com/yuvalhk/openclaw/internal/config"
	"github.com/yuvalhk/openclaw/internal/dedupe"
	"github.com/yuvalhk/openclaw/internal/frame"
	"github.com/yuvalhk/openclaw/internal/gateway"
	"github.com/yuvalhk/openclaw/internal/httputil"
	"github.com/yuvalhk/openclaw/internal/ports"
	"github.com/yuvalhk/openclaw/internal/ports/fakes"
	"github.com/yuvalhk/openclaw/internal/presence"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}

func run() error {
	printSchema := flag.Bool("print-schema", false, "print the JSON Schema for request method params and exit")
	flag.Parse()

	if *printSchema {
		doc, err := frame.EmitSchemaDocument()
		if err != nil {
			return fmt.Errorf("emit schema: %w", err)
		}
		_, err = os.Stdout.Write(doc)
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if level, levelErr := zerolog.ParseLevel(cfg.LogLevel); levelErr == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("version", cfg.Version).
		Str("commit", cfg.Commit).
		Int("port", cfg.Port).
		Msg("starting gateway")

	if !cfg.RequiresAuth() {
		log.Warn().Msg("CLAWDIS_GATEWAY_TOKEN is unset; the gateway will accept unauthenticated connections")
	}

	dedupeCache := dedupe.New()
	dedupeCache.RunSweeper(time.Now)
	defer dedupeCache.Close()

	selfHost, err := os.Hostname()
	if err != nil {
		selfHost = "gateway"
	}
	presenceRegistry := presence.NewRegistry(selfHost, cfg.Version)
	presenceRegistry.Touch(time.Now())

	eventBus := bus.New()

	deps := gateway.Dependencies{
		Presence: presenceRegistry,
		Dedupe:   dedupeCache,
		Bus:      eventBus,
		Health:   fakes.StaticHealth{Report: ports.HealthReport{Healthy: true}},
		Status:   fakes.StaticStatus{Version: cfg.Version, Start: time.Now()},
		Delivery: &fakes.EchoDelivery{},
		Agent:    fakes.EchoAgent{},
		Queue:    &fakes.MemoryQueue{},
	}
	hub := gateway.NewHub(cfg, deps, log.Logger)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	app := fiber.New(fiber.Config{AppName: "openclaw-gateway"})
	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))

	gatewayHandler := api.NewGatewayHandler(hub)
	app.Get("/", gatewayHandler.Upgrade)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down gateway")
		hub.Shutdown()
		hubCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("gateway listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
