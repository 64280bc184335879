// Package variables reconstructs the kernel's variable list from Debug
// Adapter Protocol traffic and answers paged variable queries by evaluating
// helper functions in the debuggee.
package variables

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-dap"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vburojevic/kernelbridge/internal/dapio"
	"github.com/vburojevic/kernelbridge/internal/domain"
	"github.com/vburojevic/kernelbridge/internal/metrics"
)

// DebugSession is the debug session evaluations are sent through
type DebugSession interface {
	dapio.Requester
	ID() string
}

// DebugMode selects when a notebook stop refreshes variables
type DebugMode int

const (
	// ModeEverything refreshes on every stop
	ModeEverything DebugMode = iota
	// ModeCell refreshes only when stopped inside the cell being debugged
	ModeCell
)

// hiddenNames are never shown regardless of type
var hiddenNames = map[string]bool{"In": true, "Out": true, "exit": true, "quit": true}

// Options configures a Bridge
type Options struct {
	Logger          *zap.Logger
	Clock           clock.Clock
	Metrics         metrics.Recorder
	ExcludeTypes    []string
	RefreshDebounce time.Duration

	// Notebook drives stackTrace/scopes/variables itself on every stop
	Notebook bool
	Mode     DebugMode
	// MatchSource reports whether a frame source is the cell being debugged
	MatchSource func(*dap.Source) bool
}

// Bridge implements dapio.Interceptor
type Bridge struct {
	logger      *zap.Logger
	clock       clock.Clock
	metrics     metrics.Recorder
	exclude     map[string]bool
	debounce    time.Duration
	notebook    bool
	mode        DebugMode
	matchSource func(*dap.Source) bool

	mu          sync.Mutex
	session     DebugSession
	active      bool
	variables   []domain.VariableRecord
	generation  uint64
	currentRef  int
	legitSeqs   map[int]struct{}
	topFrameID  int
	importedDF  map[string]struct{}
	importedVar map[string]struct{}

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextID      int

	flights  singleflight.Group
	refresh  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	spawnMu  sync.Mutex
	closed   bool
	workers  sync.WaitGroup
	notifier chan struct{}
	closing  sync.Once
}

// NewBridge creates a bridge. Close releases its goroutines.
func NewBridge(opts Options) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		logger:      opts.Logger,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		exclude:     lo.SliceToMap(opts.ExcludeTypes, func(t string) (string, bool) { return t, true }),
		debounce:    opts.RefreshDebounce,
		notebook:    opts.Notebook,
		mode:        opts.Mode,
		matchSource: opts.MatchSource,
		legitSeqs:   make(map[int]struct{}),
		importedDF:  make(map[string]struct{}),
		importedVar: make(map[string]struct{}),
		listeners:   make(map[int]func()),
		refresh:     make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		notifier:    make(chan struct{}),
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.clock == nil {
		b.clock = clock.New()
	}
	if b.metrics == nil {
		b.metrics = metrics.Noop{}
	}
	go b.notifyLoop()
	return b
}

// Close stops background work
func (b *Bridge) Close() {
	b.closing.Do(func() {
		b.spawnMu.Lock()
		b.closed = true
		b.spawnMu.Unlock()
		b.cancel()
		b.workers.Wait()
		<-b.notifier
	})
}

// Attach sets the debug session used for evaluation
func (b *Bridge) Attach(s DebugSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = s
}

// Detach forgets the session and its variables
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = nil
	b.active = false
	b.variables = nil
	b.generation++
	b.topFrameID = 0
}

// Active reports whether a session is attached and has been initialized
func (b *Bridge) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active && b.session != nil
}

// Snapshot returns a copy of the current variable list
func (b *Bridge) Snapshot() []domain.VariableRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.VariableRecord(nil), b.variables...)
}

// OnSend implements dapio.Interceptor
func (b *Bridge) OnSend(msg dap.Message) {
	req, ok := msg.(*dap.VariablesRequest)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.Arguments.VariablesReference == b.currentRef {
		b.legitSeqs[req.Seq] = struct{}{}
	}
}

// OnReceive implements dapio.Interceptor
func (b *Bridge) OnReceive(msg dap.Message) {
	switch m := msg.(type) {
	case *dap.InitializeResponse:
		if m.Success {
			b.mu.Lock()
			b.active = true
			b.mu.Unlock()
		}
	case *dap.ScopesResponse:
		b.onScopes(m)
	case *dap.VariablesResponse:
		b.onVariables(m)
	case *dap.StackTraceResponse:
		if len(m.Body.StackFrames) > 0 {
			b.mu.Lock()
			b.topFrameID = m.Body.StackFrames[0].Id
			b.mu.Unlock()
		}
	case *dap.StoppedEvent:
		if b.notebook {
			b.spawn(func(ctx context.Context) { b.handleNotebookStop(ctx, m.Body.ThreadId) })
		}
	case *dap.TerminatedEvent:
		b.onTerminated()
	}
}

func (b *Bridge) onScopes(m *dap.ScopesResponse) {
	if len(m.Body.Scopes) == 0 {
		return
	}
	ref := m.Body.Scopes[0].VariablesReference
	b.mu.Lock()
	defer b.mu.Unlock()
	if ref != b.currentRef {
		b.currentRef = ref
		b.legitSeqs = make(map[int]struct{})
	}
}

func (b *Bridge) onVariables(m *dap.VariablesResponse) {
	b.mu.Lock()
	if _, ok := b.legitSeqs[m.RequestSeq]; !ok {
		b.mu.Unlock()
		b.logger.Debug("ignoring variables response", zap.Int("request_seq", m.RequestSeq))
		return
	}
	delete(b.legitSeqs, m.RequestSeq)
	b.variables = b.convert(m.Body.Variables)
	b.generation++
	size := len(b.variables)
	b.mu.Unlock()

	b.metrics.SnapshotRefreshed(b.ctx, size)
	b.fireRefresh()
}

func (b *Bridge) onTerminated() {
	b.mu.Lock()
	b.variables = nil
	b.generation++
	b.topFrameID = 0
	b.active = false
	if b.session != nil {
		delete(b.importedDF, b.session.ID())
		delete(b.importedVar, b.session.ID())
	}
	b.mu.Unlock()
	b.fireRefresh()
}

// convert filters raw DAP variables into shallow records
func (b *Bridge) convert(vars []dap.Variable) []domain.VariableRecord {
	return lo.FilterMap(vars, func(v dap.Variable, _ int) (domain.VariableRecord, bool) {
		if v.Name == "" || v.Type == "" || v.Value == "" {
			return domain.VariableRecord{}, false
		}
		if b.exclude[v.Type] || strings.HasPrefix(v.Name, "_") || hiddenNames[v.Name] || v.Type == "NoneType" {
			return domain.VariableRecord{}, false
		}
		return domain.VariableRecord{
			Name:                 v.Name,
			Type:                 v.Type,
			Value:                v.Value,
			Truncated:            true,
			SupportsDataExplorer: domain.DataViewableTypes[v.Type],
			FrameID:              v.VariablesReference,
			EvaluateName:         v.EvaluateName,
		}, true
	})
}

// spawn runs fn on a tracked goroutine so the DAP pump is never blocked
func (b *Bridge) spawn(fn func(ctx context.Context)) bool {
	b.spawnMu.Lock()
	defer b.spawnMu.Unlock()
	if b.closed {
		return false
	}
	b.workers.Add(1)
	go func() {
		defer b.workers.Done()
		fn(b.ctx)
	}()
	return true
}

// handleNotebookStop walks stackTrace -> scopes -> variables for the stopped
// thread. Scopes are only fetched when the top frame is in the debugged cell
// unless the mode is ModeEverything.
func (b *Bridge) handleNotebookStop(ctx context.Context, threadID int) {
	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()
	if sess == nil {
		return
	}
	logger := b.logger.With(zap.String("session_id", sess.ID()), zap.Int("thread_id", threadID))

	resp, err := sess.Request(ctx, &dap.StackTraceRequest{
		Request:   dap.Request{Command: "stackTrace"},
		Arguments: dap.StackTraceArguments{ThreadId: threadID, StartFrame: 0, Levels: 1},
	})
	if err != nil {
		logger.Debug("stackTrace failed", zap.Error(err))
		return
	}
	st, ok := resp.(*dap.StackTraceResponse)
	if !ok || len(st.Body.StackFrames) == 0 {
		return
	}
	top := st.Body.StackFrames[0]

	var scopes []dap.Scope
	if b.mode == ModeEverything || (b.matchSource != nil && b.matchSource(top.Source)) {
		resp, err := sess.Request(ctx, &dap.ScopesRequest{
			Request:   dap.Request{Command: "scopes"},
			Arguments: dap.ScopesArguments{FrameId: top.Id},
		})
		if err != nil {
			logger.Debug("scopes failed", zap.Error(err))
			return
		}
		if sr, ok := resp.(*dap.ScopesResponse); ok {
			scopes = sr.Body.Scopes
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, scope := range scopes {
		ref := scope.VariablesReference
		g.Go(func() error {
			_, err := sess.Request(gctx, &dap.VariablesRequest{
				Request:   dap.Request{Command: "variables"},
				Arguments: dap.VariablesArguments{VariablesReference: ref},
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		logger.Debug("variables failed", zap.Error(err))
	}
	b.fireRefresh()
}
