package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/vburojevic/kernelbridge/internal/domain"
	"github.com/vburojevic/kernelbridge/internal/jupyter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// eventLog records session lifecycle calls in order
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeSession struct {
	id       string
	kernelID string
	log      *eventLog

	mu        sync.Mutex
	status    domain.KernelStatus
	listeners map[int]func(domain.KernelStatus)
	next      int
	done      chan struct{}
	closeOnce sync.Once

	restarts   int
	restartErr error
	interrupts int
	shutdowns  int
}

func newFakeSession(n int, status domain.KernelStatus, log *eventLog) *fakeSession {
	return &fakeSession{
		id:        fmt.Sprintf("s%d", n),
		kernelID:  fmt.Sprintf("k%d", n),
		log:       log,
		status:    status,
		listeners: make(map[int]func(domain.KernelStatus)),
		done:      make(chan struct{}),
	}
}

func (f *fakeSession) ID() string            { return f.id }
func (f *fakeSession) KernelID() string      { return f.kernelID }
func (f *fakeSession) ClientID() string      { return "client-" + f.kernelID }
func (f *fakeSession) Done() <-chan struct{} { return f.done }

func (f *fakeSession) Status() domain.KernelStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSession) OnStatusChanged(fn func(domain.KernelStatus)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeSession) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeSession) set(status domain.KernelStatus) {
	f.mu.Lock()
	if f.status == status {
		f.mu.Unlock()
		return
	}
	f.status = status
	var fns []func(domain.KernelStatus)
	for i := 0; i < f.next; i++ {
		if fn, ok := f.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(status)
	}
}

func (f *fakeSession) Restart(context.Context) error {
	f.mu.Lock()
	f.restarts++
	err := f.restartErr
	f.mu.Unlock()
	if err != nil {
		f.set(domain.StatusDead)
		return err
	}
	f.set(domain.StatusRestarting)
	f.set(domain.StatusIdle)
	return nil
}

func (f *fakeSession) Interrupt(context.Context) error {
	f.mu.Lock()
	f.interrupts++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Shutdown(context.Context) error {
	f.mu.Lock()
	f.shutdowns++
	f.mu.Unlock()
	f.log.add("shutdown:%s", f.kernelID)
	f.set(domain.StatusDead)
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeSession) shutdownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

type fakeManager struct {
	log *eventLog

	mu       sync.Mutex
	n        int
	sessions []*fakeSession
	opts     []jupyter.SessionOptions
	attached []string
	// statusFor decides the initial status of the nth session (1-based)
	statusFor func(n int) domain.KernelStatus
	// failFor makes StartNew fail for the nth call
	failFor func(n int) bool
	// gate blocks StartNew until closed
	gate chan struct{}
}

func newFakeManager() *fakeManager {
	return &fakeManager{log: &eventLog{}}
}

func (m *fakeManager) StartNew(ctx context.Context, opts jupyter.SessionOptions) (KernelSession, error) {
	m.mu.Lock()
	m.n++
	n := m.n
	m.opts = append(m.opts, opts)
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	m.log.add("start:k%d", n)
	if m.failFor != nil && m.failFor(n) {
		return nil, errors.New("kernel process exited")
	}
	status := domain.StatusIdle
	if m.statusFor != nil {
		status = m.statusFor(n)
	}
	s := newFakeSession(n, status, m.log)
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeManager) ConnectTo(ctx context.Context, kernelID string) (KernelSession, error) {
	m.mu.Lock()
	m.n++
	n := m.n
	m.attached = append(m.attached, kernelID)
	m.mu.Unlock()
	s := newFakeSession(n, domain.StatusIdle, m.log)
	s.kernelID = kernelID
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeManager) starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

func (m *fakeManager) session(i int) *fakeSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[i]
}

func (m *fakeManager) options() []jupyter.SessionOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jupyter.SessionOptions(nil), m.opts...)
}
