// Package net assembles the server's HTTP surface: the websocket endpoint,
// health and diagnostics probes, and the protocol schema document.
package net

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/hub"
	"github.com/eda3/ecs-wasm-game3/internal/net/ws"
	"github.com/eda3/ecs-wasm-game3/internal/observability"
	"github.com/eda3/ecs-wasm-game3/internal/proto"
	"github.com/eda3/ecs-wasm-game3/internal/telemetry"
)

// HTTPHandlerConfig tunes the assembled handler.
type HTTPHandlerConfig struct {
	Logger        telemetry.Logger
	TickRate      int
	Observability observability.Config
}

// NewHTTPHandler builds the full route table over the given hub.
func NewHTTPHandler(h *hub.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	mux := nethttp.NewServeMux()

	wsHandler := ws.NewHandler(h, ws.HandlerConfig{Logger: cfg.Logger})
	mux.HandleFunc("/ws", wsHandler.Handle)

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		snapshot := h.Snapshot()
		payload := struct {
			Status     string          `json:"status"`
			ServerTime int64           `json:"server_time"`
			TickRate   int             `json:"tick_rate"`
			Hub        hub.Diagnostics `json:"hub"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   cfg.TickRate,
			Hub:        snapshot,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/schema", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		data, err := json.MarshalIndent(proto.BuildSchema(), "", "  ")
		if err != nil {
			httpError(w, "failed to encode schema", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.Observability.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(message))
}
