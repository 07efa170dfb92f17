package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/astromechza/collab-ot/pkg/session"
	"github.com/astromechza/collab-ot/pkg/store"
)

// Gateway terminates protocol requests for all connections. Requests of one
// connection must be handled sequentially.
type Gateway struct {
	registry *session.Registry
	bus      Bus
	logger   *slog.Logger

	mu     sync.Mutex
	joined map[string]int64
}

func New(registry *session.Registry, bus Bus, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry: registry,
		bus:      bus,
		logger:   logger,
		joined:   make(map[string]int64),
	}
}

// Joined reports the file connID is attached to.
func (g *Gateway) Joined(connID string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.joined[connID]
	return id, ok
}

func (g *Gateway) Handle(ctx context.Context, connID string, req Request) {
	switch req.Type {
	case TypeJoin:
		g.join(ctx, connID, req)
	case TypeLeave:
		g.leave(connID, req)
	case TypeSubmit:
		g.submit(ctx, connID, req)
	default:
		g.bus.Send(connID, ErrorMessage(req.FileID, fmt.Sprintf("unknown message type %q", req.Type)))
	}
}

func (g *Gateway) join(ctx context.Context, connID string, req Request) {
	fileID, err := ParseFileID(req.FileID)
	if err != nil {
		g.bus.Send(connID, ErrorMessage(req.FileID, err.Error()))
		return
	}
	if prev, ok := g.Joined(connID); ok && prev != fileID {
		g.detach(connID, prev)
	}
	if _, err := g.registry.Join(ctx, fileID, connID); err != nil {
		g.logger.Warn("failed to join", "conn", connID, "file", fileID, "err", err)
		g.bus.Send(connID, ErrorMessage(fileID, joinFailure(err)))
		return
	}
	g.mu.Lock()
	g.joined[connID] = fileID
	g.mu.Unlock()
}

func joinFailure(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "file not found"
	case errors.Is(err, session.ErrClosed):
		return "server is shutting down"
	default:
		return "failed to open file"
	}
}

func (g *Gateway) leave(connID string, req Request) {
	fileID, err := ParseFileID(req.FileID)
	if err != nil {
		g.bus.Send(connID, ErrorMessage(req.FileID, err.Error()))
		return
	}
	if cur, ok := g.Joined(connID); !ok || cur != fileID {
		g.bus.Send(connID, ErrorMessage(fileID, "not joined to file"))
		return
	}
	g.detach(connID, fileID)
}

func (g *Gateway) detach(connID string, fileID int64) {
	g.mu.Lock()
	delete(g.joined, connID)
	g.mu.Unlock()
	g.bus.Detach(fileID, connID)
	g.registry.Leave(fileID, connID)
}

func (g *Gateway) submit(ctx context.Context, connID string, req Request) {
	fileID, err := ParseFileID(req.FileID)
	if err != nil {
		g.bus.Send(connID, ErrorMessage(req.FileID, err.Error()))
		return
	}
	baseVersion, err := ParseBaseVersion(req.BaseVersion)
	if err != nil {
		g.bus.Send(connID, ErrorMessage(fileID, err.Error()))
		return
	}
	if err := req.Components.Validate(); err != nil {
		g.bus.Send(connID, ErrorMessage(fileID, err.Error()))
		return
	}
	if err := ValidateClientID(req.ClientID); err != nil {
		g.bus.Send(connID, ErrorMessage(fileID, err.Error()))
		return
	}
	if cur, ok := g.Joined(connID); !ok || cur != fileID {
		g.bus.Send(connID, ErrorMessage(fileID, "not joined to file"))
		return
	}

	res, err := g.registry.Submit(ctx, fileID, connID, baseVersion, req.Components, req.ClientID)
	if err != nil {
		g.logger.Warn("failed to submit", "conn", connID, "file", fileID, "err", err)
		if errors.Is(err, session.ErrClosed) {
			g.bus.Send(connID, ErrorMessage(fileID, "server is shutting down"))
		} else {
			g.bus.Send(connID, ErrorMessage(fileID, "no open session for file"))
		}
		return
	}
	switch res.Status {
	case session.StatusResync:
		g.bus.Send(connID, ResyncMessage(fileID, res.Version))
	case session.StatusQueued:
		g.logger.Debug("submission queued", "conn", connID, "file", fileID, "base", baseVersion, "version", res.Version)
	}
}

// Disconnect releases everything held by a closed connection.
func (g *Gateway) Disconnect(connID string) {
	if fileID, ok := g.Joined(connID); ok {
		g.detach(connID, fileID)
	}
}
