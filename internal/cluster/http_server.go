package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fleetsim/internal/common"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HTTPServer exposes the cluster manager's read-only status surface.
type HTTPServer struct {
	server  *http.Server
	logger  *zap.Logger
	manager *Manager
}

// NewHTTPServer creates the status server for a cluster manager.
func NewHTTPServer(manager *Manager) *HTTPServer {
	return &HTTPServer{
		manager: manager,
		logger:  common.ComponentLogger("cluster-http"),
	}
}

// Router builds the HTTP route table. Exposed for tests.
func (s *HTTPServer) Router() *mux.Router {
	router := mux.NewRouter()

	v1 := router.PathPrefix("/ws/v1/cluster").Subrouter()
	v1.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	v1.HandleFunc("/nodes", s.handleNodes).Methods("GET")
	v1.HandleFunc("/nodes/{host}", s.handleNode).Methods("GET")

	return router
}

// Start serves the status API in the background.
func (s *HTTPServer) Start(port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("starting cluster status server", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("cluster status server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *HTTPServer) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("stopping cluster status server")
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := common.GetMetrics().Snapshot()

	response := struct {
		Strategy        string         `json:"strategy"`
		NumNodes        int            `json:"num_nodes"`
		AvailableMemory int64          `json:"available_memory_mb"`
		AvailableVCores int32          `json:"available_vcores"`
		Counters        common.Metrics `json:"counters"`
	}{
		Strategy:        s.manager.StrategyName(),
		NumNodes:        s.manager.NumClusterNodes(),
		AvailableMemory: s.manager.AvailableMemoryMB(),
		AvailableVCores: s.manager.AvailableVirtualCores(),
		Counters:        snapshot,
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": s.manager.Nodes(),
	})
}

func (s *HTTPServer) handleNode(w http.ResponseWriter, r *http.Request) {
	host := mux.Vars(r)["host"]

	for _, node := range s.manager.Nodes() {
		if node.ID.Host == host {
			writeJSON(w, http.StatusOK, node)
			return
		}
	}
	http.Error(w, "node not found", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
