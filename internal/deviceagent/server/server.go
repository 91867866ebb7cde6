// Package server exposes probes, metrics and the failure record over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/devicelink/internal/deviceagent/failure"
	"github.com/autopeer-io/devicelink/internal/deviceagent/readiness"
	"github.com/autopeer-io/devicelink/internal/pkg/metrics"
	"github.com/autopeer-io/devicelink/pkg/log"
	"github.com/autopeer-io/devicelink/pkg/options"
)

// Ready is the set of conditions /readyz requires.
const Ready = readiness.NetworkAvailable | readiness.TimeSynchronized | readiness.BrokerConnected

// Failures exposes the accumulator read-only. Only an acknowledged publish
// clears it.
type Failures interface {
	Snapshot() failure.Record
}

// StateFunc returns the supervisor state for /readyz.
type StateFunc func() string

type Server struct {
	server *http.Server
}

type readyzResponse struct {
	Ready      bool   `json:"ready"`
	Conditions string `json:"conditions"`
	State      string `json:"state,omitempty"`
}

type failuresResponse struct {
	Count     uint32    `json:"count"`
	Mask      uint32    `json:"mask"`
	Errors    string    `json:"errors"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

func NewServer(opts *options.HttpOptions, gate *readiness.Gate, failures Failures, state StateFunc) *Server {
	return &Server{
		server: &http.Server{
			Addr:         opts.Addr,
			Handler:      NewRouter(gate, failures, state),
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		},
	}
}

// NewRouter builds the handler tree.
func NewRouter(gate *readiness.Gate, failures Failures, state StateFunc) *mux.Router {
	r := mux.NewRouter()

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		resp := readyzResponse{
			Ready:      gate.Has(Ready),
			Conditions: gate.Get().String(),
		}
		if state != nil {
			resp.State = state()
		}
		status := http.StatusOK
		if !resp.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/failures", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, toResponse(failures.Snapshot()))
	}).Methods(http.MethodGet)

	return r
}

func toResponse(rec failure.Record) failuresResponse {
	return failuresResponse{
		Count:     rec.Count,
		Mask:      uint32(rec.Mask),
		Errors:    rec.Mask.String(),
		UpdatedAt: rec.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to encode response")
	}
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
