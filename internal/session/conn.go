package session

// Conn is the transport-side handle for one connected peer. The
// coordinator never touches sockets directly; the websocket layer adapts
// its clients to this interface, and tests drive the coordinator with
// in-memory fakes.
type Conn interface {
	// Send enqueues a message for delivery, best-effort. A false return
	// means the message was dropped (slow or closed peer); it never
	// blocks the caller. Fan-out frames arrive pre-encoded as a
	// json.RawMessage, encoded once per broadcast; anything else is
	// marshaled by the transport.
	Send(v any) bool

	// IsOpen reports whether the connection can still be written to.
	IsOpen() bool
}
