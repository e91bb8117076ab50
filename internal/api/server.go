// Package api exposes the daemon's operational surface: health, light and
// mapping state, metrics, and a live event feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-presence/internal/events"
	"github.com/technosupport/ts-presence/internal/isapi"
	"github.com/technosupport/ts-presence/internal/presence"
)

// StreamStatusSource reports the supervisor's connection status.
type StreamStatusSource interface {
	Status() isapi.Status
}

type Server struct {
	engine *presence.Engine
	stream StreamStatusSource
	feed   *events.Feed

	httpServer *http.Server
}

func NewServer(addr string, engine *presence.Engine, stream StreamStatusSource, feed *events.Feed) *Server {
	s := &Server{engine: engine, stream: stream, feed: feed}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/lights", s.handleLights)
		r.Get("/mapping", s.handleMapping)
		r.Get("/events/live", s.handleEventsLive)
	})
	return r
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		log.Printf("[INFO] api: listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] api: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Healthy bool         `json:"healthy"`
	Stream  isapi.Status `json:"stream"`
}

// handleHealth reports 503 once the stream supervisor has given up, so a
// probe can catch the alive-but-inert state after retry exhaustion.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.stream.Status()
	resp := healthResponse{
		Healthy: status.State != isapi.StateStopped,
		Stream:  status,
	}

	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleLights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.LightStates())
}

func (s *Server) handleMapping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Mapping())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] api: encode response: %v", err)
	}
}
