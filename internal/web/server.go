package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vpn-session-monitor/internal/logging"
	"vpn-session-monitor/internal/status"
)

// StatusSource yields the last exported status document.
type StatusSource interface {
	Latest() (status.Document, bool)
}

// Server exposes Prometheus metrics and the live session list via HTTP.
type Server struct {
	Logger *logging.Logger

	Registry          *prometheus.Registry
	Status            StatusSource
	TelemetryPath     string
	ListenAddrs       []string
	MaxRequests       int
	DisableExpMetrics bool
}

// Handler builds the router:
//
//	<telemetry path>            Prometheus metrics
//	GET /api/sessions           last status document
//	GET /api/sessions/{iface}   same, restricted to one interface
//	GET /healthz                liveness
func (s *Server) Handler() http.Handler {
	if s.Registry == nil {
		s.Registry = prometheus.NewRegistry()
	}
	if s.TelemetryPath == "" {
		s.TelemetryPath = "/metrics"
	}

	handlerOpts := promhttp.HandlerOpts{}
	if s.MaxRequests > 0 {
		handlerOpts.MaxRequestsInFlight = s.MaxRequests
	}

	baseHandler := promhttp.HandlerFor(s.Registry, handlerOpts)
	var metricsHandler http.Handler = baseHandler

	// promhttp_ metrics are only registered if we wrap with InstrumentMetricHandler.
	if !s.DisableExpMetrics {
		metricsHandler = promhttp.InstrumentMetricHandler(s.Registry, baseHandler)
	}

	r := mux.NewRouter()
	r.Handle(s.TelemetryPath, metricsHandler)
	r.HandleFunc("/api/sessions", s.sessionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{iface}", s.sessionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if s.Status == nil {
		http.Error(w, "status not available", http.StatusServiceUnavailable)
		return
	}
	doc, ok := s.Status.Latest()
	if !ok {
		http.Error(w, "no status exported yet", http.StatusServiceUnavailable)
		return
	}

	if iface := mux.Vars(r)["iface"]; iface != "" {
		kept := make([]status.Session, 0, len(doc.Sessions))
		for _, sess := range doc.Sessions {
			if sess.Interface == iface {
				kept = append(kept, sess)
			}
		}
		doc.Sessions = kept
		doc.ActiveConnectionsCount = len(kept)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil && s.Logger != nil {
		s.Logger.Debug("write sessions response", "err", err)
	}
}

// Start launches HTTP servers for all configured listen addresses.
// It blocks until ctx is cancelled, then attempts a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	errCh := make(chan error, len(s.ListenAddrs))
	servers := make([]*http.Server, 0, len(s.ListenAddrs))

	for _, addr := range s.ListenAddrs {
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, srv)

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			shutdown(servers)
			return err
		}

		if s.Logger != nil {
			s.Logger.Info("http server started", "addr", ln.Addr().String(), "path", s.TelemetryPath)
		}

		go func(srv *http.Server, ln net.Listener) {
			err := srv.Serve(ln)
			if err == nil || errors.Is(err, http.ErrServerClosed) {
				errCh <- nil
				return
			}
			errCh <- err
		}(srv, ln)
	}

	// Wait for shutdown or first error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			shutdown(servers)
			return err
		}
		// If one server exits cleanly unexpectedly, continue and wait for ctx.
		<-ctx.Done()
	}

	shutdown(servers)
	return nil
}

func shutdown(servers []*http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
}
