package jupyter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

// ErrSocketClosed is returned when writing to a closed kernel socket
var ErrSocketClosed = errors.New("kernel socket closed")

// SessionManager creates and attaches kernel sessions on one server
type SessionManager struct {
	client   *Client
	dialer   *websocket.Dialer
	username string
	logger   *zap.Logger
}

// NewSessionManager creates a session manager for client
func NewSessionManager(client *Client, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		client:   client,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		username: "kbridge",
		logger:   logger,
	}
}

// Client returns the REST client
func (m *SessionManager) Client() *Client { return m.client }

// StartNew creates a session with a new kernel and opens its channels
func (m *SessionManager) StartNew(ctx context.Context, opts SessionOptions) (*Session, error) {
	model, err := m.client.CreateSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	if model.Kernel.ID == "" {
		return nil, fmt.Errorf("session %s has no kernel", model.ID)
	}
	s, err := m.open(ctx, *model, true)
	if err != nil {
		// Do not leak the kernel we just asked for.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.client.DeleteSession(cleanupCtx, model.ID)
		return nil, err
	}
	return s, nil
}

// ConnectTo attaches to a running kernel without starting a new one
func (m *SessionManager) ConnectTo(ctx context.Context, kernelID string) (*Session, error) {
	kernel, err := m.client.GetKernel(ctx, kernelID)
	if err != nil {
		return nil, err
	}
	return m.open(ctx, SessionModel{Kernel: *kernel}, false)
}

func (m *SessionManager) open(ctx context.Context, model SessionModel, owned bool) (*Session, error) {
	clientID := uuid.NewString()
	wsURL := m.client.websocketURL(path.Join("api", "kernels", model.Kernel.ID, "channels"),
		url.Values{"session_id": {clientID}})

	conn, _, err := m.dialer.DialContext(ctx, wsURL, m.client.authHeader())
	if err != nil {
		return nil, fmt.Errorf("kernel channels %s: %w", model.Kernel.ID, err)
	}

	s := &Session{
		client:    m.client,
		model:     model,
		clientID:  clientID,
		username:  m.username,
		owned:     owned,
		conn:      conn,
		status:    domain.ParseKernelStatus(model.Kernel.ExecutionState),
		listeners: make(map[int]func(domain.KernelStatus)),
		done:      make(chan struct{}),
		logger: m.logger.With(
			zap.String("kernel_id", model.Kernel.ID),
			zap.String("client_id", clientID),
		),
	}
	go s.readLoop()

	// Any request makes the kernel publish busy/idle on iopub.
	if err := s.send("shell", "kernel_info_request", map[string]any{}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Session is a live kernel session: the channels socket plus kernel identity
type Session struct {
	client   *Client
	model    SessionModel
	clientID string
	username string
	owned    bool
	logger   *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	status    domain.KernelStatus
	listeners map[int]func(domain.KernelStatus)
	nextID    int
	debug     *DebugTransport

	done      chan struct{}
	readErr   error
	closeOnce sync.Once
}

// ID returns the server session id (empty for attached kernels)
func (s *Session) ID() string { return s.model.ID }

// KernelID returns the kernel id
func (s *Session) KernelID() string { return s.model.Kernel.ID }

// ClientID returns the websocket client id
func (s *Session) ClientID() string { return s.clientID }

// Path returns the session's notebook path
func (s *Session) Path() string { return s.model.Path }

// Owned reports whether this process created the kernel
func (s *Session) Owned() bool { return s.owned }

// Status returns the last reported kernel status
func (s *Session) Status() domain.KernelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed when the channels socket stops
func (s *Session) Done() <-chan struct{} { return s.done }

// OnStatusChanged registers fn for status transitions and returns an
// unsubscribe func. Callbacks run on the socket reader goroutine in the order
// the kernel reported them.
func (s *Session) OnStatusChanged(fn func(domain.KernelStatus)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Restart restarts the kernel in place
func (s *Session) Restart(ctx context.Context) error {
	return s.client.RestartKernel(ctx, s.KernelID())
}

// Interrupt interrupts the kernel
func (s *Session) Interrupt(ctx context.Context) error {
	return s.client.InterruptKernel(ctx, s.KernelID())
}

// Shutdown stops the kernel if this process created it, then closes the socket
func (s *Session) Shutdown(ctx context.Context) error {
	var err error
	if s.owned {
		if s.model.ID != "" {
			err = s.client.DeleteSession(ctx, s.model.ID)
		} else {
			err = s.client.DeleteKernel(ctx, s.KernelID())
		}
	}
	s.setStatus(domain.StatusDead)
	return errors.Join(err, s.Close())
}

// Close closes the channels socket without touching the kernel
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
		<-s.done
	})
	return err
}

// send writes a message on the given channel
func (s *Session) send(channel, msgType string, content any) error {
	msg, err := newMessage(channel, msgType, s.clientID, s.username, content)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSocketClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *Session) readLoop() {
	defer close(s.done)
	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			s.logger.Debug("kernel socket closed", zap.Error(err))
			return
		}
		s.handle(&msg)
	}
}

func (s *Session) handle(msg *Message) {
	switch msg.Header.MsgType {
	case "status":
		var content statusContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			s.logger.Debug("bad status message", zap.Error(err))
			return
		}
		s.setStatus(domain.ParseKernelStatus(content.ExecutionState))
	case "debug_reply", "debug_event":
		s.mu.Lock()
		dt := s.debug
		s.mu.Unlock()
		if dt != nil {
			dt.deliver(msg.Content)
		}
	}
}

func (s *Session) setStatus(status domain.KernelStatus) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	fns := make([]func(domain.KernelStatus), 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	s.logger.Debug("kernel status", zap.String("status", string(status)))
	for _, fn := range fns {
		fn(status)
	}
}
