// internal/gateway/sse.go
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/sauliuspr-reya/reya-workers/internal/respond"
)

// sseConn is a live server-sent-events connection. It satisfies relay.Conn so
// the progress relay can push events at it and close it after the terminal
// event's grace delay.
type sseConn struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newSSEConn(w http.ResponseWriter, flusher http.Flusher) *sseConn {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseConn{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
}

// Send writes one progress event in SSE framing.
func (c *sseConn) Send(event respond.Event) error {
	return c.SendJSON(event)
}

// SendJSON writes an arbitrary payload as one SSE data frame. Used for the
// initial connected acknowledgment, which is not a lifecycle event.
func (c *sseConn) SendJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("stream closed")
	}

	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close terminates the stream. The handler blocked on Done unwinds, which
// ends the HTTP response.
func (c *sseConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Done is closed once the connection is terminated.
func (c *sseConn) Done() <-chan struct{} {
	return c.done
}
