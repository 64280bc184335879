package dapio

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/go-dap"
)

// Transport carries whole DAP messages in both directions
type Transport interface {
	Send(msg dap.Message) error
	// Receive blocks until the next message arrives or the transport closes
	Receive() (dap.Message, error)
	Close() error
}

// StreamTransport frames messages with Content-Length headers over a byte stream
type StreamTransport struct {
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer
	wmu    sync.Mutex
}

// NewStreamTransport wraps rw; if rw is an io.Closer it is closed by Close
func NewStreamTransport(rw io.ReadWriter) *StreamTransport {
	t := &StreamTransport{
		r: bufio.NewReader(rw),
		w: rw,
	}
	if c, ok := rw.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// Send writes one framed message
func (t *StreamTransport) Send(msg dap.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return dap.WriteBaseMessage(t.w, b)
}

// Receive reads and decodes one framed message
func (t *StreamTransport) Receive() (dap.Message, error) {
	b, err := dap.ReadBaseMessage(t.r)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// Close closes the underlying stream if it supports closing
func (t *StreamTransport) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
