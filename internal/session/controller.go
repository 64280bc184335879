// Package session supervises the kernel session behind one notebook: it
// connects, waits for idle, pre-warms a spare session for restarts and
// tracks which kernel is current.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vburojevic/kernelbridge/internal/backingfile"
	"github.com/vburojevic/kernelbridge/internal/deps"
	"github.com/vburojevic/kernelbridge/internal/domain"
	"github.com/vburojevic/kernelbridge/internal/jupyter"
	"github.com/vburojevic/kernelbridge/internal/metrics"
)

// State is the controller's connection state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdleWait
	StateConnected
	StateRestarting
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdleWait:
		return "idle-wait"
	case StateConnected:
		return "connected"
	case StateRestarting:
		return "restarting"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StatusChange is delivered to status observers
type StatusChange struct {
	Session    KernelSession
	Connection domain.KernelConnectionMetadata
	Remote     bool
	Status     domain.KernelStatus
}

// Options configures a Controller
type Options struct {
	Manager      SessionManager
	BackingFiles BackingFiles
	Deps         DependencyGate

	RootDir    string
	WorkingDir string

	// PrewarmRestart keeps a spare session ready for Restart
	PrewarmRestart bool
	// LaunchTimeout bounds the idle wait of restart sessions
	LaunchTimeout time.Duration

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics metrics.Recorder
}

// Controller owns the current kernel session for one notebook
type Controller struct {
	manager      SessionManager
	backingFiles BackingFiles
	deps         DependencyGate
	rootDir      string
	workingDir   string
	prewarm      bool
	launch       time.Duration
	clock        clock.Clock
	logger       *zap.Logger
	metrics      metrics.Recorder

	mu            sync.Mutex
	conn          domain.KernelConnectionMetadata
	state         State
	current       KernelSession
	remote        bool
	unsubscribe   func()
	restart       *pendingRestart
	disposed      bool
	nextListener  int
	stateFns      map[int]func(State)
	statusFns     map[int]func(StatusChange)
	listenerOrder []int
}

// NewController creates a controller for conn. Nothing is started until Connect.
func NewController(conn domain.KernelConnectionMetadata, opts Options) *Controller {
	c := &Controller{
		manager:      opts.Manager,
		backingFiles: opts.BackingFiles,
		deps:         opts.Deps,
		rootDir:      opts.RootDir,
		workingDir:   opts.WorkingDir,
		prewarm:      opts.PrewarmRestart,
		launch:       opts.LaunchTimeout,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		conn:         conn,
		stateFns:     make(map[int]func(State)),
		statusFns:    make(map[int]func(StatusChange)),
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.Noop{}
	}
	if c.launch <= 0 {
		c.launch = 60 * time.Second
	}
	return c
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connection returns the current connection metadata
func (c *Controller) Connection() domain.KernelConnectionMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Current returns the current session, or nil
func (c *Controller) Current() KernelSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// IsRemote reports whether the current session runs on a remote server
func (c *Controller) IsRemote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// OnStateChanged registers fn for state transitions. The returned func
// unregisters it.
func (c *Controller) OnStateChanged(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.addListenerLocked()
	c.stateFns[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.stateFns, id)
		c.removeListenerLocked(id)
		c.mu.Unlock()
	}
}

// OnStatusChanged registers fn for kernel status changes of the current
// session, including the status of a newly promoted session. Callbacks run on
// the session's reader goroutine and must not call Shutdown or Dispose.
func (c *Controller) OnStatusChanged(fn func(StatusChange)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.addListenerLocked()
	c.statusFns[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.statusFns, id)
		c.removeListenerLocked(id)
		c.mu.Unlock()
	}
}

func (c *Controller) addListenerLocked() int {
	id := c.nextListener
	c.nextListener++
	c.listenerOrder = append(c.listenerOrder, id)
	return id
}

func (c *Controller) removeListenerLocked(id int) {
	c.listenerOrder = lo.Without(c.listenerOrder, id)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s || (c.state == StateDisposed && s != StateDisposed) {
		c.mu.Unlock()
		return
	}
	c.state = s
	var fns []func(State)
	for _, id := range c.listenerOrder {
		if fn, ok := c.stateFns[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()

	c.logger.Debug("session state", zap.String("state", s.String()))
	for _, fn := range fns {
		fn(s)
	}
}

// forwardStatus delivers a status change if s is still the current session
func (c *Controller) forwardStatus(s KernelSession, status domain.KernelStatus) {
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		return
	}
	change := StatusChange{Session: s, Connection: c.conn, Remote: c.remote, Status: status}
	var fns []func(StatusChange)
	for _, id := range c.listenerOrder {
		if fn, ok := c.statusFns[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

// promote makes s the current session and moves the status listener to it.
// It returns the previous session.
func (c *Controller) promote(s KernelSession, conn domain.KernelConnectionMetadata) KernelSession {
	c.mu.Lock()
	old := c.current
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.current = s
	c.conn = conn
	c.remote = !conn.IsLocal()
	c.unsubscribe = s.OnStatusChanged(func(status domain.KernelStatus) {
		c.forwardStatus(s, status)
	})
	c.mu.Unlock()

	c.logger.Info("kernel session current",
		zap.String("kernel_id", s.KernelID()),
		zap.String("client_id", s.ClientID()),
		zap.String("connection", conn.ID))
	c.forwardStatus(s, s.Status())
	return old
}

func (c *Controller) checkDisposed(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return &SessionDisposedError{Op: op}
	}
	return nil
}

// Connect creates the primary session and waits until its kernel is idle
func (c *Controller) Connect(ctx context.Context, timeout time.Duration) error {
	if err := c.checkDisposed("connect"); err != nil {
		return err
	}
	if c.Current() != nil {
		return nil
	}
	conn := c.Connection()

	c.setState(StateConnecting)
	s, err := c.startSession(ctx, conn, false)
	if err != nil {
		c.setState(StateDisconnected)
		return c.classify(conn, err)
	}

	c.setState(StateIdleWait)
	if err := c.waitForIdle(ctx, s, timeout); err != nil {
		c.discard(s)
		c.setState(StateDisconnected)
		return c.classify(conn, err)
	}

	if err := c.checkDisposed("connect"); err != nil {
		c.discard(s)
		return err
	}
	c.promote(s, conn)
	c.setState(StateConnected)
	c.startRestartSession()
	return nil
}

// CreateNewKernelSession starts a session for conn and waits for idle. An
// idle-wait timeout is returned as is; other failures are wrapped in
// InvalidKernelConnectionError.
func (c *Controller) CreateNewKernelSession(ctx context.Context, conn domain.KernelConnectionMetadata, timeout time.Duration, disableUI bool) (KernelSession, error) {
	s, err := c.newKernelSession(ctx, conn, timeout, disableUI)
	if err != nil {
		if s != nil {
			c.discard(s)
		}
		return nil, err
	}
	return s, nil
}

// newKernelSession is CreateNewKernelSession without cleanup: on an idle-wait
// failure it returns the half-created session with the error.
func (c *Controller) newKernelSession(ctx context.Context, conn domain.KernelConnectionMetadata, timeout time.Duration, disableUI bool) (KernelSession, error) {
	if err := c.checkDisposed("create session"); err != nil {
		return nil, err
	}
	s, err := c.startSession(ctx, conn, disableUI)
	if err != nil {
		return nil, c.classify(conn, err)
	}
	if err := c.waitForIdle(ctx, s, timeout); err != nil {
		return s, c.classify(conn, err)
	}
	return s, nil
}

// classify keeps timeouts, cancellation, disposal and dependency errors
// distinct and wraps everything else as an invalid kernel.
func (c *Controller) classify(conn domain.KernelConnectionMetadata, err error) error {
	var (
		idleErr *IdleWaitTimeoutError
		depErr  *deps.DependencyNotInstalledError
		invalid *InvalidKernelConnectionError
	)
	switch {
	case errors.As(err, &idleErr), errors.As(err, &depErr), errors.As(err, &invalid):
		return err
	case errors.Is(err, ErrSessionDisposed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &InvalidKernelConnectionError{Connection: conn, Err: err}
}

// startSession attaches to a live kernel or creates a new session. A
// cancelled ctx returns immediately; a session that arrives later is shut down.
func (c *Controller) startSession(ctx context.Context, conn domain.KernelConnectionMetadata, disableUI bool) (KernelSession, error) {
	type result struct {
		s   KernelSession
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		if conn.Kind == domain.KindLiveRemoteKernel {
			if conn.LiveKernel == nil {
				r.err = errors.New("live kernel connection without kernel id")
			} else {
				r.s, r.err = c.manager.ConnectTo(ctx, conn.LiveKernel.ID)
			}
		} else {
			r.s, r.err = c.createSession(ctx, conn, disableUI)
		}
		ch <- r
	}()

	select {
	case r := <-ch:
		c.metrics.SessionCreated(ctx, conn.ID, r.err)
		return r.s, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.s != nil {
				c.discard(r.s)
			}
		}()
		return nil, ctx.Err()
	}
}

// createSession provisions the backing file, runs the dependency gate for
// local interpreters and asks the server for a new session.
func (c *Controller) createSession(ctx context.Context, conn domain.KernelConnectionMetadata, disableUI bool) (KernelSession, error) {
	var bf *backingfile.BackingFile
	if c.backingFiles != nil {
		var err error
		bf, err = c.backingFiles.Create(ctx, c.rootDir, c.workingDir, conn.IsLocal())
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		if bf == nil || c.checkDisposed("cleanup") != nil {
			return
		}
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := bf.Dispose(cleanupCtx); err != nil {
			c.logger.Debug("backing file cleanup failed", zap.String("path", bf.Path), zap.Error(err))
		}
	}()

	if conn.IsLocal() && conn.Interpreter != nil && c.deps != nil {
		if err := c.deps.InstallMissing(ctx, *conn.Interpreter, disableUI); err != nil {
			return nil, err
		}
	}

	name := uuid.NewString()
	p := name + ".ipynb"
	if bf != nil {
		p = bf.Path
	}
	s, err := c.manager.StartNew(ctx, jupyter.SessionOptions{
		Path:       p,
		Name:       name,
		KernelName: conn.KernelName(),
		Type:       "notebook",
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("kernel session started",
		zap.String("session_id", s.ID()),
		zap.String("kernel_id", s.KernelID()),
		zap.Bool("remote", !conn.IsLocal()))
	return s, nil
}

// WaitForIdle blocks until the current kernel reports idle
func (c *Controller) WaitForIdle(ctx context.Context, timeout time.Duration) error {
	s := c.Current()
	if s == nil {
		return ErrNotConnected
	}
	return c.waitForIdle(ctx, s, timeout)
}

func (c *Controller) waitForIdle(ctx context.Context, s KernelSession, timeout time.Duration) error {
	idle := make(chan struct{}, 1)
	dead := make(chan struct{}, 1)
	unsubscribe := s.OnStatusChanged(func(status domain.KernelStatus) {
		switch status {
		case domain.StatusIdle:
			select {
			case idle <- struct{}{}:
			default:
			}
		case domain.StatusDead:
			select {
			case dead <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	switch s.Status() {
	case domain.StatusIdle:
		return nil
	case domain.StatusDead:
		return fmt.Errorf("kernel %s died before becoming idle", s.KernelID())
	}

	timer := c.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-idle:
		return nil
	case <-dead:
		return fmt.Errorf("kernel %s died before becoming idle", s.KernelID())
	case <-s.Done():
		if s.Status() == domain.StatusIdle {
			return nil
		}
		return fmt.Errorf("kernel %s connection closed before becoming idle", s.KernelID())
	case <-timer.C:
		c.metrics.IdleWaitTimeout(ctx)
		return &IdleWaitTimeoutError{KernelID: s.KernelID(), Timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// discard shuts down a session that never became current
func (c *Controller) discard(s KernelSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		c.logger.Debug("failed to shut down discarded session",
			zap.String("kernel_id", s.KernelID()), zap.Error(err))
	}
}

// Restart restarts the kernel. Remote sessions restart in place; otherwise
// the pre-warmed session is promoted and the old one shut down.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.checkDisposed("restart"); err != nil {
		return err
	}
	c.mu.Lock()
	cur, remote, conn := c.current, c.remote, c.conn
	c.mu.Unlock()
	if cur == nil {
		return ErrNotConnected
	}

	c.setState(StateRestarting)
	if remote || !c.prewarm {
		err := cur.Restart(ctx)
		if err == nil {
			err = c.waitForIdle(ctx, cur, c.launch)
		}
		c.setState(stateAfterRestart(cur, err))
		return err
	}
	// The current session stays in place unless the spare is promoted.
	defer c.setState(StateConnected)

	p := c.takeRestart()
	if p == nil {
		c.startRestartSession()
		if p = c.takeRestart(); p == nil {
			return ErrNotConnected
		}
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		// Keep the spare for the next attempt.
		c.putRestart(p)
		return ctx.Err()
	}
	if p.err != nil {
		return p.err
	}

	if err := c.checkDisposed("restart"); err != nil {
		c.discard(p.session)
		return err
	}
	old := c.promote(p.session, conn)
	c.startRestartSession()
	if old != nil {
		if err := old.Shutdown(ctx); err != nil {
			c.logger.Warn("failed to shut down previous session",
				zap.String("kernel_id", old.KernelID()), zap.Error(err))
		}
	}
	return nil
}

// stateAfterRestart maps an in-place restart outcome to a controller state.
// A failed restart is only reported as connected while the kernel still
// answers.
func stateAfterRestart(s KernelSession, err error) State {
	if err == nil {
		return StateConnected
	}
	switch s.Status() {
	case domain.StatusIdle, domain.StatusBusy:
		return StateConnected
	}
	return StateDisconnected
}

// ChangeKernel switches to another kernel connection. The new session is
// created before the old one is shut down.
func (c *Controller) ChangeKernel(ctx context.Context, conn domain.KernelConnectionMetadata, timeout time.Duration) error {
	if err := c.checkDisposed("change kernel"); err != nil {
		return err
	}
	prev := c.State()
	c.setState(StateConnecting)
	s, err := c.CreateNewKernelSession(ctx, conn, timeout, false)
	if err != nil {
		c.setState(prev)
		return err
	}

	c.cancelRestart()
	old := c.promote(s, conn)
	c.setState(StateConnected)
	c.startRestartSession()
	if old != nil {
		if err := old.Shutdown(ctx); err != nil {
			c.logger.Warn("failed to shut down previous session",
				zap.String("kernel_id", old.KernelID()), zap.Error(err))
		}
	}
	return nil
}

// Interrupt interrupts the current kernel
func (c *Controller) Interrupt(ctx context.Context) error {
	if err := c.checkDisposed("interrupt"); err != nil {
		return err
	}
	s := c.Current()
	if s == nil {
		return ErrNotConnected
	}
	return s.Interrupt(ctx)
}

// Shutdown stops the spare and current sessions
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancelRestart()

	c.mu.Lock()
	cur := c.current
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.current = nil
	c.mu.Unlock()

	var err error
	if cur != nil {
		err = cur.Shutdown(ctx)
	}
	c.setState(StateDisconnected)
	return err
}

// Dispose shuts everything down. Later calls to Connect, Restart and the
// like fail with SessionDisposedError.
func (c *Controller) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.Shutdown(ctx)
	c.setState(StateDisposed)

	c.mu.Lock()
	c.stateFns = make(map[int]func(State))
	c.statusFns = make(map[int]func(StatusChange))
	c.listenerOrder = nil
	c.mu.Unlock()
	return err
}
