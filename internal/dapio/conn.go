package dapio

import (
	"context"
	"errors"
	"sync"

	"github.com/google/go-dap"
	"go.uber.org/zap"
)

// ErrClosed is returned by Request once the connection has stopped
var ErrClosed = errors.New("dap connection closed")

// Interceptor observes DAP traffic. OnSend sees requests before they reach
// the adapter; OnReceive sees responses and events before waiters do. Both
// are called in delivery order and must not block on the connection.
type Interceptor interface {
	OnSend(msg dap.Message)
	OnReceive(msg dap.Message)
}

// Requester issues a request and waits for its response
type Requester interface {
	Request(ctx context.Context, req dap.RequestMessage) (dap.Message, error)
}

// pendingTable correlates responses to requests by seq
type pendingTable struct {
	mu      sync.Mutex
	waiters map[int]chan dap.Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[int]chan dap.Message)}
}

func (p *pendingTable) add(seq int) chan dap.Message {
	ch := make(chan dap.Message, 1)
	p.mu.Lock()
	p.waiters[seq] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingTable) remove(seq int) {
	p.mu.Lock()
	delete(p.waiters, seq)
	p.mu.Unlock()
}

// resolve hands msg to the waiter for requestSeq; reports whether one existed
func (p *pendingTable) resolve(requestSeq int, msg dap.Message) bool {
	p.mu.Lock()
	ch, ok := p.waiters[requestSeq]
	delete(p.waiters, requestSeq)
	p.mu.Unlock()
	if ok {
		ch <- msg
	}
	return ok
}

func (p *pendingTable) has(requestSeq int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.waiters[requestSeq]
	return ok
}

// await blocks until the response for seq arrives, ctx ends or done closes
func (p *pendingTable) await(ctx context.Context, seq int, ch chan dap.Message, done <-chan struct{}) (dap.Message, error) {
	select {
	case resp := <-ch:
		if err := responseError(resp); err != nil {
			return resp, err
		}
		return resp, nil
	case <-ctx.Done():
		p.remove(seq)
		return nil, ctx.Err()
	case <-done:
		p.remove(seq)
		return nil, ErrClosed
	}
}

// Conn is a DAP client over a Transport
type Conn struct {
	transport Transport
	logger    *zap.Logger
	pending   *pendingTable

	mu           sync.Mutex
	seq          int
	interceptors []Interceptor
	eventSubs    map[int]func(dap.EventMessage)
	nextSub      int
	err          error

	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewConn creates a connection; call Start to begin reading
func NewConn(t Transport, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		transport: t,
		logger:    logger,
		pending:   newPendingTable(),
		eventSubs: make(map[int]func(dap.EventMessage)),
		done:      make(chan struct{}),
	}
}

// AddInterceptor registers an interceptor; register before Start
func (c *Conn) AddInterceptor(i Interceptor) {
	c.mu.Lock()
	c.interceptors = append(c.interceptors, i)
	c.mu.Unlock()
}

// OnEvent subscribes to events and returns an unsubscribe func
func (c *Conn) OnEvent(fn func(dap.EventMessage)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.eventSubs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.eventSubs, id)
		c.mu.Unlock()
	}
}

// Start runs the read loop in a goroutine
func (c *Conn) Start() {
	c.startOnce.Do(func() { go c.readLoop() })
}

// Done is closed when the read loop exits
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that stopped the read loop
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Request assigns a seq to req, sends it and waits for the matching response
func (c *Conn) Request(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	c.mu.Lock()
	c.seq++
	r := req.GetRequest()
	r.Seq = c.seq
	r.Type = "request"
	interceptors := append([]Interceptor(nil), c.interceptors...)
	c.mu.Unlock()

	ch := c.pending.add(r.Seq)
	for _, i := range interceptors {
		i.OnSend(req)
	}
	if err := c.transport.Send(req); err != nil {
		c.pending.remove(r.Seq)
		return nil, err
	}
	return c.pending.await(ctx, r.Seq, ch, c.done)
}

// Close stops the connection
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.transport.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		msg, err := c.transport.Receive()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			c.logger.Debug("dap read loop stopped", zap.Error(err))
			return
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg dap.Message) {
	c.mu.Lock()
	interceptors := append([]Interceptor(nil), c.interceptors...)
	c.mu.Unlock()

	for _, i := range interceptors {
		i.OnReceive(msg)
	}

	switch KindOf(msg) {
	case KindResponse:
		if !c.pending.resolve(RequestSeqOf(msg), msg) {
			c.logger.Debug("dap response without waiter",
				zap.String("command", CommandOf(msg)), zap.Int("request_seq", RequestSeqOf(msg)))
		}
	case KindEvent:
		ev, ok := msg.(dap.EventMessage)
		if !ok {
			return
		}
		c.mu.Lock()
		subs := make([]func(dap.EventMessage), 0, len(c.eventSubs))
		for _, fn := range c.eventSubs {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		for _, fn := range subs {
			fn(ev)
		}
	default:
		c.logger.Debug("dap message ignored", zap.String("kind", KindOf(msg).String()), zap.String("command", CommandOf(msg)))
	}
}
