package gateway

// Bus delivers messages to connections and to per-file groups of
// connections. Implementations must not block the caller.
type Bus interface {
	Send(connID string, msg Message)
	Broadcast(fileID int64, msg Message)
	Attach(fileID int64, connID string)
	Detach(fileID int64, connID string)
}
