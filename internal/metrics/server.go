package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes /metrics and /health on a dedicated address, separate
// from the main API router so scraping never competes with request
// traffic for a listener.
type Server struct {
	server *http.Server
	log    *zap.Logger
}

func NewServer(addr string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: ":" + addr, Handler: mux},
		log:    logger,
	}
}

// StartAsync starts the listener in a goroutine; a bind failure is
// logged rather than returned since nothing downstream awaits this call.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed && s.log != nil {
			s.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
