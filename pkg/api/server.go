package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hashpath/foreman/pkg/cloud"
	"github.com/hashpath/foreman/pkg/log"
	"github.com/hashpath/foreman/pkg/metrics"
	"github.com/hashpath/foreman/pkg/telemetry"
	"github.com/hashpath/foreman/pkg/types"
)

// maxBodySize caps request bodies
const maxBodySize = 4 << 20

// Server is the cloud's HTTP surface for edges and operators
type Server struct {
	manager *cloud.Manager
	store   *telemetry.Store
	reader  *telemetry.Reader
	http    *http.Server
	logger  zerolog.Logger
}

// NewServer wires the manager and telemetry layers into an HTTP server
func NewServer(mgr *cloud.Manager, store *telemetry.Store) *Server {
	s := &Server{
		manager: mgr,
		store:   store,
		reader:  telemetry.NewReader(store),
		logger:  log.WithComponent("api"),
	}
	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())

	// operator surface
	mux.HandleFunc("POST /devices/register", s.handleDeviceRegister)
	mux.HandleFunc("POST /miners/{id}/secret", s.handleSecretUpload)

	// device surface, bearer token required
	mux.HandleFunc("GET /devices/{id}/pubkey", s.authed(s.handleDevicePubkey))
	mux.HandleFunc("POST /devices/{id}/heartbeat", s.authed(s.handleHeartbeat))
	mux.HandleFunc("GET /edge/secrets", s.authed(s.handleSecretsBulk))
	mux.HandleFunc("GET /edge/secrets/{miner_id}", s.authed(s.handleSecretSingle))
	mux.HandleFunc("GET /edge/status", s.authed(s.handleEdgeStatus))
	mux.HandleFunc("POST /edge/ack", s.authed(s.handleSecretAck))
	mux.HandleFunc("GET /edge/v1/commands/poll", s.authed(s.handleCommandPoll))
	mux.HandleFunc("POST /edge/v1/commands/{id}/ack", s.authed(s.handleCommandAck))
	mux.HandleFunc("POST /edge/scan", s.authed(s.handleScanCreate))
	mux.HandleFunc("POST /edge/scan/{id}/progress", s.authed(s.handleScanProgress))
	mux.HandleFunc("POST /edge/scan/{id}/results", s.authed(s.handleScanResults))
	mux.HandleFunc("POST /edge/telemetry", s.authed(s.handleTelemetryIngest))

	// read surface
	mux.HandleFunc("GET /telemetry/live", s.authed(s.handleTelemetryLive))
	mux.HandleFunc("GET /telemetry/history", s.authed(s.handleTelemetryHistory))
	mux.HandleFunc("GET /telemetry/summary", s.authed(s.handleTelemetrySummary))

	return s.instrument(mux)
}

// Handler exposes the routed handler for tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins serving on addr
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info().Str("addr", addr).Msg("http api listening")
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully drains in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// statusRecorder captures the response code for request metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, fmt.Sprintf("%d", rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type deviceHandler func(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice)

// authed resolves the bearer device token before dispatching. The token
// itself is never logged.
func (s *Server) authed(next deviceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		device, err := s.manager.AuthenticateDevice(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid device token")
			return
		}
		next(w, r, device)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}
