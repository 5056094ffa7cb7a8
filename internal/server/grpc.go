package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"PayLedger/internal/event"
	"PayLedger/internal/observability"
	"PayLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported for the engine.
const ServiceName = "payledger.Engine"

// Server wraps the gRPC server and the HTTP query gateway.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server

	grpcAddr string
	httpAddr string

	deps   Deps
	logger zerolog.Logger
}

// Deps holds everything the handlers read from. Metrics, Gatherer and
// Health may be nil.
type Deps struct {
	Query    *query.QueryService
	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// New creates a server with the standard health service and reflection
// registered. Services start as NOT_SERVING until SetServing is called.
func New(grpcAddr, httpAddr string, deps Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		deps:         deps,
		logger:       deps.Logger.With().Str("component", "server").Logger(),
	}
}

// SetServing flips the gRPC health status and the readiness flag together.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
	s.healthServer.SetServingStatus(ServiceName, status)
	if s.deps.Health != nil {
		s.deps.Health.SetReady(serving)
	}
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves gRPC on lis until ctx is cancelled.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// StartHTTPGateway serves the HTTP/JSON query API until ctx is cancelled.
func (s *Server) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the HTTP mux:
//
//	GET /v1/accounts[?locked=true]
//	GET /v1/accounts/{client}
//	GET /v1/transactions/{tx}
//	GET /v1/stats
//	/healthz, /readyz, /metrics
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		pattern string
		handler runtime.HandlerFunc
	}{
		{"/v1/accounts", s.listAccounts},
		{"/v1/accounts/{client}", s.getAccount},
		{"/v1/transactions/{tx}", s.getTransaction},
		{"/v1/stats", s.stats},
	}
	for _, r := range routes {
		if err := mux.HandlePath(http.MethodGet, r.pattern, r.handler); err != nil {
			return nil, fmt.Errorf("register %s: %w", r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.deps.Health != nil {
		httpMux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	if s.deps.Gatherer != nil {
		httpMux.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	httpMux.Handle("/", mux)

	return httpMux, nil
}

// ============================================================================
// Query handlers
// ============================================================================

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	lockedOnly := false
	if v := r.URL.Query().Get("locked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(w, "accounts", http.StatusBadRequest, fmt.Errorf("invalid locked: %q", v))
			return
		}
		lockedOnly = b
	}
	s.ok(w, "accounts", s.deps.Query.ListAccounts(lockedOnly))
}

func (s *Server) getAccount(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	client, err := strconv.ParseUint(params["client"], 10, 16)
	if err != nil {
		s.fail(w, "account", http.StatusBadRequest, fmt.Errorf("invalid client: %q", params["client"]))
		return
	}

	resp, err := s.deps.Query.GetAccount(event.ClientID(client))
	if err != nil {
		s.fail(w, "account", statusFor(err), err)
		return
	}
	s.ok(w, "account", resp)
}

func (s *Server) getTransaction(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	tx, err := strconv.ParseUint(params["tx"], 10, 32)
	if err != nil {
		s.fail(w, "transaction", http.StatusBadRequest, fmt.Errorf("invalid tx: %q", params["tx"]))
		return
	}

	resp, err := s.deps.Query.GetTransaction(event.TxID(tx))
	if err != nil {
		s.fail(w, "transaction", statusFor(err), err)
		return
	}
	s.ok(w, "transaction", resp)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	s.ok(w, "stats", s.deps.Query.Stats())
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Server) ok(w http.ResponseWriter, endpoint string, body interface{}) {
	s.count(endpoint, http.StatusOK)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) fail(w http.ResponseWriter, endpoint string, code int, err error) {
	s.count(endpoint, code)
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) count(endpoint string, code int) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
}

func statusFor(err error) int {
	if errors.Is(err, query.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
