package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solsol/solsol/internal/logger"
)

// Server serves /metrics for a prometheus gatherer.
type Server struct {
	srv    *http.Server
	logger *logger.Logger
}

// NewServer builds a server listening on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log,
	}
}

// Start serves in the background. Listen errors other than a clean close are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics endpoint listening", logger.Field{Key: "addr", Value: s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics endpoint failed", err)
		}
	}()
}

// Stop shuts the server down. It is registered as a finalize function.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
