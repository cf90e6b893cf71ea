// Package relay maps trade ids to open progress stream connections and
// delivers response events to them. It is process-local state owned by the
// gateway: registrations die with the connection, never the underlying job.
package relay

import (
	"sync"
	"time"

	"github.com/sauliuspr-reya/reya-workers/internal/respond"
	"github.com/sauliuspr-reya/reya-workers/pkg/logging"
)

// Conn is an open client connection able to receive progress events.
type Conn interface {
	// Send writes one event to the client.
	Send(event respond.Event) error
	// Close terminates the connection.
	Close()
}

// Relay is the in-process registry of streaming subscriptions. At most one
// connection is registered per trade id.
type Relay struct {
	mu    sync.Mutex
	conns map[string]Conn

	// grace is how long a terminal event's payload gets to flush before
	// the connection is closed.
	grace  time.Duration
	logger *logging.Logger

	// OnCount, when set, is called with the registration count after
	// every change. Used to keep the active-streams gauge current.
	OnCount func(n int)
}

// New creates an empty relay.
func New(grace time.Duration, logger *logging.Logger) *Relay {
	return &Relay{
		conns:  make(map[string]Conn),
		grace:  grace,
		logger: logger,
	}
}

// Register stores a connection for a trade id. A prior registration for the
// same id is closed and replaced: last write wins.
func (r *Relay) Register(txID string, conn Conn) {
	r.mu.Lock()
	old := r.conns[txID]
	r.conns[txID] = conn
	n := len(r.conns)
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	r.notify(n)
	r.logger.Debug("Stream registered", "txId", txID)
}

// Deliver forwards an event to the registered connection, if any. Delivery
// with no registration is a no-op: the request may have been synchronous, or
// the client may have already disconnected. Terminal events schedule the
// connection's closure after the grace delay.
func (r *Relay) Deliver(event respond.Event) {
	r.mu.Lock()
	conn, ok := r.conns[event.TxID]
	r.mu.Unlock()

	if !ok {
		return
	}

	if err := conn.Send(event); err != nil {
		r.logger.Warn("Failed to deliver event to stream", "txId", event.TxID, "error", err)
		r.remove(event.TxID, conn)
		conn.Close()
		return
	}

	if event.Type.Terminal() {
		txID := event.TxID
		time.AfterFunc(r.grace, func() {
			if r.remove(txID, conn) {
				conn.Close()
			}
		})
	}
}

// OnDisconnect drops the registration when the client goes away before a
// terminal event. The underlying job keeps running.
func (r *Relay) OnDisconnect(txID string, conn Conn) {
	if r.remove(txID, conn) {
		r.logger.Debug("Stream disconnected", "txId", txID)
	}
}

// Shutdown closes every open connection and clears the registry.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	r.notify(0)
}

// Count returns the number of live registrations.
func (r *Relay) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// remove deletes the registration only if conn is still the registered one,
// so a replaced or re-registered stream is not torn down by a stale timer.
func (r *Relay) remove(txID string, conn Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[txID]
	if !ok || current != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, txID)
	n := len(r.conns)
	r.mu.Unlock()

	r.notify(n)
	return true
}

func (r *Relay) notify(n int) {
	if r.OnCount != nil {
		r.OnCount(n)
	}
}
