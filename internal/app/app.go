// Package app wires the server together: logging router, hub, tick loop, and
// the HTTP surface.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/hub"
	servernet "github.com/eda3/ecs-wasm-game3/internal/net"
	"github.com/eda3/ecs-wasm-game3/internal/observability"
	"github.com/eda3/ecs-wasm-game3/internal/telemetry"
	"github.com/eda3/ecs-wasm-game3/logging"
	loggingSinks "github.com/eda3/ecs-wasm-game3/logging/sinks"
)

// Config carries the process-level wiring knobs.
type Config struct {
	Addr   string
	Logger telemetry.Logger
}

// Run starts the server and blocks until the context is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	logConfig := logging.DefaultConfig()
	namedSinks := []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout)},
	}
	if path := os.Getenv("LOG_JSON_PATH"); path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open json log %q: %w", path, err)
		}
		defer file.Close()
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSON(file, logConfig.JSONFlushEvery),
		})
	}
	router, err := logging.NewRouter(nil, logConfig, namedSinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	hubCfg := hub.Config{
		TickRate:  hub.DefaultTickRate,
		Logger:    telemetryLogger,
		Metrics:   telemetry.NewCounters(),
		Publisher: router,
	}
	if raw := os.Getenv("TICK_RATE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			hubCfg.TickRate = value
		} else {
			telemetryLogger.Printf("invalid TICK_RATE=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("KEYFRAME_INTERVAL_TICKS"); raw != "" {
		if value, err := strconv.ParseUint(raw, 10, 64); err == nil {
			hubCfg.KeyframeInterval = value
		} else {
			telemetryLogger.Printf("invalid KEYFRAME_INTERVAL_TICKS=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("SESSION_TIMEOUT_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			hubCfg.InactivityTimeout = time.Duration(value) * time.Second
		} else {
			telemetryLogger.Printf("invalid SESSION_TIMEOUT_SECONDS=%q: %v", raw, err)
		}
	}
	if key := os.Getenv("RESUME_TOKEN_KEY"); key != "" {
		hubCfg.TokenKey = []byte(key)
	}

	h := hub.New(hubCfg)
	go h.Run(ctx)

	observabilityCfg := observability.Config{}
	if raw := os.Getenv("ENABLE_PPROF"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			observabilityCfg.EnablePprof = value
		} else {
			telemetryLogger.Printf("invalid ENABLE_PPROF=%q: %v", raw, err)
		}
	}

	handler := servernet.NewHTTPHandler(h, servernet.HTTPHandlerConfig{
		Logger:        telemetryLogger,
		TickRate:      hubCfg.TickRate,
		Observability: observabilityCfg,
	})

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	if env := os.Getenv("ADDR"); env != "" {
		addr = env
	}
	srv := &http.Server{Addr: addr, Handler: handler}
	telemetryLogger.Printf("server listening on %s", addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}
