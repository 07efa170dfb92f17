package gateway

import (
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Hub is the in-memory Bus. Every registered connection owns a bounded
// queue; a connection that cannot keep up is dropped by closing its queue
// so that senders never wait on a slow reader.
type Hub struct {
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	conns  map[string]chan Message
	groups map[int64]mapset.Set[string]
}

var _ Bus = (*Hub)(nil)

func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Hub{
		logger:  logger,
		metrics: metrics,
		conns:   make(map[string]chan Message),
		groups:  make(map[int64]mapset.Set[string]),
	}
}

// Register creates the outbound queue of connID. The returned channel is
// closed on Unregister or when the connection is dropped.
func (h *Hub) Register(connID string, queue int) <-chan Message {
	if queue < 1 {
		queue = 1
	}
	ch := make(chan Message, queue)
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[connID]; ok {
		close(old)
	} else {
		h.metrics.Connections.Inc()
	}
	h.conns[connID] = ch
	return ch
}

func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(connID)
}

func (h *Hub) removeLocked(connID string) {
	ch, ok := h.conns[connID]
	if !ok {
		return
	}
	close(ch)
	delete(h.conns, connID)
	h.metrics.Connections.Dec()
	for id, g := range h.groups {
		g.Remove(connID)
		if g.Cardinality() == 0 {
			delete(h.groups, id)
		}
	}
}

func (h *Hub) Send(connID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendLocked(connID, msg)
}

func (h *Hub) sendLocked(connID string, msg Message) {
	ch, ok := h.conns[connID]
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
		h.logger.Warn("dropping slow connection", "conn", connID, "queue", cap(ch))
		h.metrics.Dropped.Inc()
		h.removeLocked(connID)
	}
}

func (h *Hub) Broadcast(fileID int64, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[fileID]
	if !ok {
		return
	}
	// sendLocked may drop members
	for _, connID := range g.ToSlice() {
		h.sendLocked(connID, msg)
	}
}

// Attach adds connID to the group of fileID. Unknown connections are ignored.
func (h *Hub) Attach(fileID int64, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	g, ok := h.groups[fileID]
	if !ok {
		g = mapset.NewThreadUnsafeSet[string]()
		h.groups[fileID] = g
	}
	g.Add(connID)
}

func (h *Hub) Detach(fileID int64, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.groups[fileID]; ok {
		g.Remove(connID)
		if g.Cardinality() == 0 {
			delete(h.groups, fileID)
		}
	}
}

// Members returns the connections attached to fileID.
func (h *Hub) Members(fileID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.groups[fileID]; ok {
		return g.ToSlice()
	}
	return nil
}
