package gateway

import (
	"github.com/astromechza/collab-ot/pkg/session"
)

// notifier turns session events into protocol messages on a Bus.
type notifier struct {
	bus Bus
}

// NewNotifier returns a session.Notifier publishing to bus.
func NewNotifier(bus Bus) session.Notifier {
	return &notifier{bus: bus}
}

func (n *notifier) Joined(connID string, snap session.Snapshot) {
	// attach first so the ready message precedes every later broadcast
	n.bus.Attach(snap.FileID, connID)
	n.bus.Send(connID, ReadyMessage(snap.FileID, snap.Version, snap.Content))
}

func (n *notifier) Applied(a session.Applied) {
	n.bus.Broadcast(a.FileID, AppliedMessage(a.FileID, a.Version, a.Components, a.ClientID))
}

func (n *notifier) Resync(fileID int64, connID string, version int) {
	n.bus.Send(connID, ResyncMessage(fileID, version))
}
