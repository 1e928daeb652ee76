package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

// SnapshotSource is anything that can hand out the current engine
// snapshot — satisfied by *internal/engine.Coordinator.
type SnapshotSource interface {
	Snapshot() types.Snapshot
}

// Server exposes the engine's snapshot-subscribe boundary over HTTP, for
// collaborators that are not in-process Go callbacks, alongside the
// Prometheus /metrics endpoint.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a Server bound to addr, serving:
//
//	GET /healthz   -> 200 once the engine has started searching
//	GET /snapshot  -> the current Snapshot as JSON
//	GET /metrics   -> Prometheus exposition format
func NewServer(addr string, src SnapshotSource, metrics *Metrics) *Server {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := src.Snapshot()
		if snap.Phase == types.PhaseParams {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	router.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(src.Snapshot())
	}).Methods(http.MethodGet)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
