package jupyter

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/google/go-dap"

	"github.com/vburojevic/kernelbridge/internal/dapio"
)

// DebugTransport carries DAP over the kernel: requests go out as
// debug_request on the control channel, debug_reply and iopub debug_event
// contents come back as DAP messages.
type DebugTransport struct {
	session   *Session
	in        chan json.RawMessage
	closed    chan struct{}
	closeOnce sync.Once
}

// DebugTransport returns the session's DAP transport, creating it on first use
func (s *Session) DebugTransport() *DebugTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debug == nil {
		s.debug = &DebugTransport{
			session: s,
			in:      make(chan json.RawMessage, 64),
			closed:  make(chan struct{}),
		}
	}
	return s.debug
}

// deliver queues a DAP payload; it blocks rather than drop so replies keep
// their order.
func (t *DebugTransport) deliver(content json.RawMessage) {
	select {
	case t.in <- content:
	case <-t.closed:
	}
}

// Send implements dapio.Transport
func (t *DebugTransport) Send(msg dap.Message) error {
	select {
	case <-t.closed:
		return io.ErrClosedPipe
	default:
	}
	return t.session.send("control", "debug_request", msg)
}

// Receive implements dapio.Transport
func (t *DebugTransport) Receive() (dap.Message, error) {
	select {
	case raw := <-t.in:
		return dapio.Decode(raw)
	case <-t.closed:
		return nil, io.EOF
	case <-t.session.done:
		return nil, io.EOF
	}
}

// Close detaches the transport from the session; the socket stays open
func (t *DebugTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.session.mu.Lock()
		if t.session.debug == t {
			t.session.debug = nil
		}
		t.session.mu.Unlock()
	})
	return nil
}

var _ dapio.Transport = (*DebugTransport)(nil)
