package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/kernelbridge/internal/backingfile"
	"github.com/vburojevic/kernelbridge/internal/deps"
	"github.com/vburojevic/kernelbridge/internal/domain"
	"github.com/vburojevic/kernelbridge/internal/jupyter"
)

var pythonConn = domain.NewPythonKernelConnection(domain.Interpreter{Path: "/usr/bin/python3"})

func newController(t *testing.T, m *fakeManager, mutate func(*Options)) *Controller {
	t.Helper()
	opts := Options{Manager: m, LaunchTimeout: time.Second}
	if mutate != nil {
		mutate(&opts)
	}
	c := NewController(pythonConn, opts)
	t.Cleanup(func() { _ = c.Dispose() })
	return c
}

func recordStates(c *Controller) func() []State {
	var mu sync.Mutex
	var states []State
	c.OnStateChanged(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	return func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), states...)
	}
}

func TestConnectAfterDisposeFails(t *testing.T) {
	c := newController(t, newFakeManager(), nil)
	require.NoError(t, c.Dispose())

	err := c.Connect(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrSessionDisposed)
	var disposed *SessionDisposedError
	assert.True(t, errors.As(err, &disposed))
	assert.Equal(t, StateDisposed, c.State())
}

func TestConnectReachesConnected(t *testing.T) {
	m := newFakeManager()
	c := newController(t, m, nil)
	states := recordStates(c)

	require.NoError(t, c.Connect(context.Background(), time.Second))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, []State{StateConnecting, StateIdleWait, StateConnected}, states())
	assert.False(t, c.IsRemote())

	opts := m.options()
	require.Len(t, opts, 1)
	assert.Equal(t, "python3", opts[0].KernelName)
	assert.Equal(t, opts[0].Name+".ipynb", opts[0].Path)
	assert.Equal(t, "notebook", opts[0].Type)
}

func TestConnectWaitsForIdle(t *testing.T) {
	m := newFakeManager()
	m.statusFor = func(int) domain.KernelStatus { return domain.StatusStarting }
	c := newController(t, m, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background(), 10*time.Second) }()

	require.Eventually(t, func() bool { return c.State() == StateIdleWait }, time.Second, time.Millisecond)
	m.session(0).set(domain.StatusBusy)
	m.session(0).set(domain.StatusIdle)

	require.NoError(t, <-errCh)
	assert.Equal(t, StateConnected, c.State())
}

func TestConnectIdleTimeoutIsNotWrapped(t *testing.T) {
	mock := clock.NewMock()
	m := newFakeManager()
	m.statusFor = func(int) domain.KernelStatus { return domain.StatusBusy }
	c := newController(t, m, func(o *Options) { o.Clock = mock })

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background(), 5*time.Second) }()

	var err error
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case err = <-errCh:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)

	var idleErr *IdleWaitTimeoutError
	require.True(t, errors.As(err, &idleErr), "got %v", err)
	var invalid *InvalidKernelConnectionError
	assert.False(t, errors.As(err, &invalid))
	assert.Equal(t, "k1", idleErr.KernelID)
	assert.Equal(t, 1, m.session(0).shutdownCount())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestCreateNewKernelSessionWrapsStartFailure(t *testing.T) {
	m := newFakeManager()
	m.failFor = func(int) bool { return true }
	c := newController(t, m, nil)

	_, err := c.CreateNewKernelSession(context.Background(), pythonConn, time.Second, true)
	var invalid *InvalidKernelConnectionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, pythonConn.ID, invalid.Connection.ID)
	assert.Contains(t, invalid.Unwrap().Error(), "kernel process exited")
}

func TestCreateNewKernelSessionDeadKernelIsInvalid(t *testing.T) {
	m := newFakeManager()
	m.statusFor = func(int) domain.KernelStatus { return domain.StatusDead }
	c := newController(t, m, nil)

	_, err := c.CreateNewKernelSession(context.Background(), pythonConn, time.Second, true)
	var invalid *InvalidKernelConnectionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, 1, m.session(0).shutdownCount())
}

func TestLiveKernelAttachesInsteadOfStarting(t *testing.T) {
	m := newFakeManager()
	conn := domain.NewLiveKernelConnection("http://hub", domain.LiveKernel{ID: "kernel-42", Name: "python3"})
	c := NewController(conn, Options{Manager: m, PrewarmRestart: true})
	defer c.Dispose()

	require.NoError(t, c.Connect(context.Background(), time.Second))
	assert.Equal(t, []string{"kernel-42"}, m.attached)
	assert.Empty(t, m.options())
	assert.True(t, c.IsRemote())
	assert.Equal(t, "kernel-42", c.Current().KernelID())
}

func TestRemoteKernelSpecMarkedRemoteAndRestartsInPlace(t *testing.T) {
	m := newFakeManager()
	conn := domain.NewRemoteKernelSpecConnection("http://hub", domain.KernelSpec{Name: "python3"})
	c := NewController(conn, Options{Manager: m, PrewarmRestart: true})
	defer c.Dispose()

	require.NoError(t, c.Connect(context.Background(), time.Second))
	assert.True(t, c.IsRemote())

	require.NoError(t, c.Restart(context.Background()))
	s := m.session(0)
	assert.Same(t, s, c.Current())
	assert.Equal(t, 1, s.restarts)
	// no spare is pre-warmed for remote sessions
	assert.Equal(t, 1, m.starts())
}

func TestRestartSessionNeverExceedsThreeAttempts(t *testing.T) {
	m := newFakeManager()
	m.statusFor = func(n int) domain.KernelStatus {
		if n == 1 {
			return domain.StatusIdle
		}
		return domain.StatusDead
	}
	c := newController(t, m, func(o *Options) { o.PrewarmRestart = true })

	require.NoError(t, c.Connect(context.Background(), time.Second))
	require.Eventually(t, func() bool { return len(m.log.all()) == 7 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []string{
		"start:k1",
		"start:k2", "shutdown:k2",
		"start:k3", "shutdown:k3",
		"start:k4", "shutdown:k4",
	}, m.log.all())
	assert.Equal(t, 4, m.starts())

	err := c.Restart(context.Background())
	var invalid *InvalidKernelConnectionError
	assert.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Equal(t, "k1", c.Current().KernelID())
	assert.Equal(t, StateConnected, c.State())
}

func TestRestartSessionRecoversAfterFailures(t *testing.T) {
	m := newFakeManager()
	m.failFor = func(n int) bool { return n == 2 || n == 3 }
	c := newController(t, m, func(o *Options) { o.PrewarmRestart = true })

	require.NoError(t, c.Connect(context.Background(), time.Second))
	require.NoError(t, c.Restart(context.Background()))
	assert.Equal(t, "k4", c.Current().KernelID())
}

func TestRestartPromotesSpareAndShutsDownOld(t *testing.T) {
	m := newFakeManager()
	c := newController(t, m, func(o *Options) { o.PrewarmRestart = true })

	var mu sync.Mutex
	var seen []string
	c.OnStatusChanged(func(ch StatusChange) {
		mu.Lock()
		seen = append(seen, ch.Session.KernelID()+":"+string(ch.Status))
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background(), time.Second))
	old := m.session(0)

	require.NoError(t, c.Restart(context.Background()))
	assert.Equal(t, "k2", c.Current().KernelID())
	assert.Equal(t, 1, old.shutdownCount())
	assert.Zero(t, old.listenerCount(), "status listener must move to the new session")

	// next spare is pre-warmed
	require.Eventually(t, func() bool { return m.starts() == 3 }, time.Second, time.Millisecond)

	// events from the old session are no longer forwarded
	old.set(domain.StatusBusy)
	m.session(1).set(domain.StatusBusy)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"k1:idle", "k2:idle", "k2:busy"}, seen)
}

func TestChangeKernelCreatesNewBeforeShuttingDownOld(t *testing.T) {
	m := newFakeManager()
	c := newController(t, m, nil)
	require.NoError(t, c.Connect(context.Background(), time.Second))

	other := domain.NewLocalKernelSpecConnection(domain.KernelSpec{Name: "ir"}, nil)
	require.NoError(t, c.ChangeKernel(context.Background(), other, time.Second))

	assert.Equal(t, []string{"start:k1", "start:k2", "shutdown:k1"}, m.log.all())
	assert.Equal(t, other.ID, c.Connection().ID)
	assert.Equal(t, "ir", m.options()[1].KernelName)
	assert.Equal(t, StateConnected, c.State())
}

func TestInterruptAndNotConnected(t *testing.T) {
	m := newFakeManager()
	c := newController(t, m, nil)
	assert.ErrorIs(t, c.Interrupt(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, c.Restart(context.Background()), ErrNotConnected)

	require.NoError(t, c.Connect(context.Background(), time.Second))
	require.NoError(t, c.Interrupt(context.Background()))
	assert.Equal(t, 1, m.session(0).interrupts)
}

func TestCancelledConnectDiscardsLateSession(t *testing.T) {
	m := newFakeManager()
	m.gate = make(chan struct{})
	c := newController(t, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(ctx, time.Second) }()

	require.Eventually(t, func() bool { return m.starts() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, StateDisconnected, c.State())

	close(m.gate)
	require.Eventually(t, func() bool {
		return len(m.log.all()) == 2 && m.log.all()[1] == "shutdown:k1"
	}, time.Second, time.Millisecond)
	assert.Nil(t, c.Current())
}

func TestShutdownStopsSpareAndCurrent(t *testing.T) {
	m := newFakeManager()
	c := newController(t, m, func(o *Options) { o.PrewarmRestart = true })
	require.NoError(t, c.Connect(context.Background(), time.Second))
	require.Eventually(t, func() bool { return m.starts() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, StateDisconnected, c.State())
	assert.Nil(t, c.Current())
	require.Eventually(t, func() bool {
		return m.session(0).shutdownCount() == 1 && m.session(1).shutdownCount() == 1
	}, time.Second, time.Millisecond)
}

type memContents struct {
	mu      sync.Mutex
	files   map[string]bool
	counter int
}

func (mc *memContents) NewUntitled(_ context.Context, dir, _ string) (*jupyter.ContentsModel, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.counter++
	p := "Untitled.ipynb"
	if dir != "" {
		p = dir + "/Untitled.ipynb"
	}
	mc.files[p] = true
	return &jupyter.ContentsModel{Name: "Untitled.ipynb", Path: p}, nil
}

func (mc *memContents) Rename(_ context.Context, from, to string) (*jupyter.ContentsModel, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.files, from)
	mc.files[to] = true
	return &jupyter.ContentsModel{Path: to}, nil
}

func (mc *memContents) Delete(_ context.Context, p string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.files, p)
	return nil
}

func (mc *memContents) count() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.files)
}

type refusingGate struct{ calls int }

func (g *refusingGate) InstallMissing(_ context.Context, interp domain.Interpreter, _ bool) error {
	g.calls++
	return &deps.DependencyNotInstalledError{Interpreter: interp.Path, Package: "ipykernel", Response: deps.ResponseCancel}
}

func TestBackingFileUsedAndDeleted(t *testing.T) {
	m := newFakeManager()
	contents := &memContents{files: map[string]bool{}}
	c := newController(t, m, func(o *Options) {
		o.BackingFiles = backingfile.NewManager(contents, nil)
		o.RootDir = "/work"
		o.WorkingDir = "/work/nb"
	})

	require.NoError(t, c.Connect(context.Background(), time.Second))
	opts := m.options()
	require.Len(t, opts, 1)
	assert.True(t, strings.HasPrefix(opts[0].Path, "nb/t-"), opts[0].Path)
	assert.Zero(t, contents.count())
}

func TestDependencyFailureIsTypedAndCleansUp(t *testing.T) {
	m := newFakeManager()
	contents := &memContents{files: map[string]bool{}}
	gate := &refusingGate{}
	c := newController(t, m, func(o *Options) {
		o.BackingFiles = backingfile.NewManager(contents, nil)
		o.Deps = gate
	})

	err := c.Connect(context.Background(), time.Second)
	var depErr *deps.DependencyNotInstalledError
	require.True(t, errors.As(err, &depErr), "got %v", err)
	assert.Equal(t, deps.ResponseCancel, depErr.Response)
	var invalid *InvalidKernelConnectionError
	assert.False(t, errors.As(err, &invalid))
	assert.Zero(t, m.starts())
	assert.Zero(t, contents.count())
	assert.Equal(t, 1, gate.calls)
}

func TestRemoteConnectionSkipsDependencyGate(t *testing.T) {
	m := newFakeManager()
	gate := &refusingGate{}
	conn := domain.NewRemoteKernelSpecConnection("http://hub", domain.KernelSpec{Name: "python3"})
	c := NewController(conn, Options{Manager: m, Deps: gate})
	defer c.Dispose()

	require.NoError(t, c.Connect(context.Background(), time.Second))
	assert.Zero(t, gate.calls)
}

func TestFailedInPlaceRestartIsNotReportedConnected(t *testing.T) {
	m := newFakeManager()
	conn := domain.NewRemoteKernelSpecConnection("http://hub", domain.KernelSpec{Name: "python3"})
	c := NewController(conn, Options{Manager: m})
	defer c.Dispose()

	require.NoError(t, c.Connect(context.Background(), time.Second))
	states := recordStates(c)

	m.session(0).mu.Lock()
	m.session(0).restartErr = errors.New("restart refused")
	m.session(0).mu.Unlock()

	require.EqualError(t, c.Restart(context.Background()), "restart refused")
	assert.Equal(t, []State{StateRestarting, StateDisconnected}, states())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestInPlaceRestartReportsConnected(t *testing.T) {
	m := newFakeManager()
	conn := domain.NewRemoteKernelSpecConnection("http://hub", domain.KernelSpec{Name: "python3"})
	c := NewController(conn, Options{Manager: m})
	defer c.Dispose()

	require.NoError(t, c.Connect(context.Background(), time.Second))
	states := recordStates(c)
	require.NoError(t, c.Restart(context.Background()))
	assert.Equal(t, []State{StateRestarting, StateConnected}, states())
}

func TestUnsubscribeReleasesListenerSlot(t *testing.T) {
	c := newController(t, newFakeManager(), nil)
	before := len(c.listenerOrder)

	for i := 0; i < 100; i++ {
		c.OnStateChanged(func(State) {})()
		c.OnStatusChanged(func(StatusChange) {})()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, before, len(c.listenerOrder))
	assert.Empty(t, c.stateFns)
	assert.Empty(t, c.statusFns)
}
