package dapio

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/go-dap"
	"go.uber.org/zap"
)

// injectedSeqBase keeps requests issued by the proxy itself out of the
// client's seq space.
const injectedSeqBase = 1 << 30

// Proxy forwards DAP traffic between a client (the editor) and an adapter,
// letting interceptors observe every message and letting local code issue
// its own requests whose responses are not forwarded to the client.
type Proxy struct {
	client  Transport
	adapter Transport
	logger  *zap.Logger
	pending *pendingTable

	mu           sync.Mutex
	seq          int
	interceptors []Interceptor

	done      chan struct{}
	closeOnce sync.Once
}

// NewProxy creates a proxy between client and adapter
func NewProxy(client, adapter Transport, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		client:  client,
		adapter: adapter,
		logger:  logger,
		pending: newPendingTable(),
		seq:     injectedSeqBase,
		done:    make(chan struct{}),
	}
}

// AddInterceptor registers an interceptor; register before Run
func (p *Proxy) AddInterceptor(i Interceptor) {
	p.mu.Lock()
	p.interceptors = append(p.interceptors, i)
	p.mu.Unlock()
}

func (p *Proxy) snapshotInterceptors() []Interceptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Interceptor(nil), p.interceptors...)
}

// Run pumps messages until either side closes or ctx ends
func (p *Proxy) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- p.pumpClient() }()
	go func() { errCh <- p.pumpAdapter() }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Close shuts both transports
func (p *Proxy) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.client.Close()
		p.adapter.Close()
	})
}

// Request injects a request toward the adapter and waits for its response
func (p *Proxy) Request(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	p.mu.Lock()
	p.seq++
	r := req.GetRequest()
	r.Seq = p.seq
	r.Type = "request"
	p.mu.Unlock()

	ch := p.pending.add(r.Seq)
	for _, i := range p.snapshotInterceptors() {
		i.OnSend(req)
	}
	if err := p.adapter.Send(req); err != nil {
		p.pending.remove(r.Seq)
		return nil, err
	}
	return p.pending.await(ctx, r.Seq, ch, p.done)
}

func (p *Proxy) pumpClient() error {
	for {
		msg, err := p.client.Receive()
		if err != nil {
			return err
		}
		if KindOf(msg) == KindRequest {
			for _, i := range p.snapshotInterceptors() {
				i.OnSend(msg)
			}
		}
		if err := p.adapter.Send(msg); err != nil {
			return err
		}
	}
}

func (p *Proxy) pumpAdapter() error {
	for {
		msg, err := p.adapter.Receive()
		if err != nil {
			return err
		}
		for _, i := range p.snapshotInterceptors() {
			i.OnReceive(msg)
		}
		if KindOf(msg) == KindResponse {
			seq := RequestSeqOf(msg)
			if p.pending.resolve(seq, msg) {
				continue
			}
			// The client never sent this seq; its waiter gave up.
			if seq >= injectedSeqBase {
				p.logger.Debug("dropping late response",
					zap.Int("request_seq", seq), zap.String("command", CommandOf(msg)))
				continue
			}
		}
		if err := p.client.Send(msg); err != nil {
			return err
		}
	}
}
