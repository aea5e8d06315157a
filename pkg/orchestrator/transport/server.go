package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// defaultMemoryGraceFallback is how long a disconnected connection's
// MemoryStore is kept in the retained map when Config.MemoryGracePeriodS is
// not positive. Retained memory is only held and reaped: every accepted
// connection gets a fresh uuid and a fresh MemoryStore, so a reconnect does
// not resume a retained conversation.
const defaultMemoryGraceFallback = 30 * time.Second

// Server owns the /ws upgrade handler, the /metrics endpoint, and the
// registry of live (and recently-disconnected, grace-period) connections.
type Server struct {
	config    orchestrator.Config
	logger    orchestrator.Logger
	metrics   *Metrics
	providers func() Providers

	mu        sync.Mutex
	live      map[string]*Connection
	retained  map[string]*retainedMemory
}

type retainedMemory struct {
	memory *orchestrator.MemoryStore
	expiry time.Time
}

// NewServer builds a Server. providerFactory is called once per accepted
// connection so every connection gets independently-stateful provider
// instances where the underlying adapter requires it (e.g. streaming STT).
func NewServer(cfg orchestrator.Config, logger orchestrator.Logger, registry prometheus.Registerer, providerFactory func() Providers) *Server {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Server{
		config:    cfg,
		logger:    logger,
		metrics:   NewMetrics(registry),
		providers: providerFactory,
		live:      make(map[string]*Connection),
		retained:  make(map[string]*retainedMemory),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}

	id := uuid.NewString()
	connection := NewConnection(id, conn, s.providers(), s.config, s.logger, s.metrics)

	s.mu.Lock()
	s.live[id] = connection
	delete(s.retained, id)
	s.mu.Unlock()

	s.logger.Info("connection opened", "connectionID", id)

	err = connection.Serve(r.Context())

	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	s.retain(id, connection.memory)

	s.logger.Info("connection closed", "connectionID", id, "error", err)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// retain starts (or refreshes) the grace-period clock for a connection's
// memory after disconnect. handleWebsocket calls it once Serve returns.
func (s *Server) retain(connectionID string, memory *orchestrator.MemoryStore) {
	grace := time.Duration(s.config.MemoryGracePeriodS * float64(time.Second))
	if grace <= 0 {
		grace = defaultMemoryGraceFallback
	}

	s.mu.Lock()
	s.retained[connectionID] = &retainedMemory{memory: memory, expiry: time.Now().Add(grace)}
	s.mu.Unlock()
}

// reapExpired drops retained memory past its grace period. Intended to be
// driven by a periodic background call from the owning process.
func (s *Server) reapExpired(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	for id, r := range s.retained {
		if now.After(r.expiry) {
			delete(s.retained, id)
		}
	}
	s.mu.Unlock()
}

// RunGraceReaper periodically evicts expired retained-memory entries until
// ctx is cancelled. Callers run this as a background goroutine alongside
// the HTTP server.
func (s *Server) RunGraceReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapExpired(ctx)
		}
	}
}
