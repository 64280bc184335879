package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vburojevic/kernelbridge/internal/backingfile"
	"github.com/vburojevic/kernelbridge/internal/deps"
	"github.com/vburojevic/kernelbridge/internal/domain"
	"github.com/vburojevic/kernelbridge/internal/filter"
	"github.com/vburojevic/kernelbridge/internal/jupyter"
	"github.com/vburojevic/kernelbridge/internal/metrics"
	"github.com/vburojevic/kernelbridge/internal/output"
	"github.com/vburojevic/kernelbridge/internal/session"
)

// ConnectCmd starts (or attaches to) a kernel session and streams its status
type ConnectCmd struct {
	KernelName   string        `short:"k" default:"python3" help:"Kernelspec name to start"`
	KernelID     string        `help:"Attach to a running kernel instead of starting one"`
	Interpreter  string        `help:"Python interpreter to derive the kernel from (checks that ipykernel is installed)"`
	WorkingDir   string        `help:"Directory the backing notebook is placed relative to (default: cwd)"`
	Once         bool          `help:"Exit once the kernel first reports idle"`
	RestartAfter time.Duration `help:"Restart the kernel once after this long"`
	Output       string        `short:"o" help:"Write events to this NDJSON file instead of stdout"`
	Rotate       bool          `help:"Start a new output file for every kernel session"`
	Resume       bool          `help:"Attach to the kernel the previous connect used on this server, if still running"`
	Dedupe       bool          `help:"Collapse repeated identical status events"`
	DedupeWindow time.Duration `help:"With --dedupe, collapse repeats seen within this window instead of only consecutive ones"`
	InstallDeps  bool          `help:"Install missing kernel dependencies without asking"`
}

// metricsObserver forwards dependency gate outcomes to the recorder
type metricsObserver struct {
	rec metrics.Recorder
}

func (o metricsObserver) DependencyPrompted(ctx context.Context) { o.rec.DependencyPrompted(ctx) }

func (o metricsObserver) DependencyResolved(ctx context.Context, r deps.Response) {
	o.rec.DependencyResolved(ctx, r.String())
}

// Run executes the connect command
func (c *ConnectCmd) Run(globals *Globals) error {
	if err := validateConnectFlags(globals, c); err != nil {
		return err
	}
	cfg := globals.Config
	logger := globals.Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rec, shutdownMetrics := setupMetrics(ctx, globals)
	defer shutdownMetrics()

	client, err := jupyter.NewClient(globals.Server, globals.Token, jupyter.WithLogger(logger))
	if err != nil {
		return outputErrorCommon(globals, "INVALID_SERVER", err.Error(), "pass --server http://host:port")
	}

	statePath, err := defaultResumeStatePath(globals.Server)
	if err != nil {
		logger.Debug("resume state unavailable", zap.Error(err))
	}

	conn, err := c.connection(ctx, globals, client, statePath)
	if err != nil {
		return outputError(globals, err)
	}
	globals.Debug("connecting to %s (%s)", conn.DisplayName(), conn.Kind)

	workingDir := c.WorkingDir
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	ctrl := session.NewController(conn, session.Options{
		Manager:        session.NewJupyterManager(jupyter.NewSessionManager(client, logger)),
		BackingFiles:   backingfile.NewManager(client, logger),
		Deps:           c.dependencyGate(globals, rec, logger),
		RootDir:        cfg.Server.RootDir,
		WorkingDir:     workingDir,
		PrewarmRestart: cfg.Session.PrewarmRestart,
		LaunchTimeout:  cfg.Session.LaunchTimeout,
		Logger:         logger,
		Metrics:        rec,
	})
	defer ctrl.Dispose()

	tracker := session.NewTracker(nil)
	sink := newEventSink(globals, c.Output, c.Rotate)
	defer sink.Close()
	slog := newSessionLogger(logger, tracker.CurrentSession)

	var dedupe *filter.DedupeFilter
	if c.Dedupe {
		dedupe = filter.NewDedupeFilter(nil, c.DedupeWindow)
	}

	dead := make(chan struct{}, 1)
	unsubscribe := ctrl.OnStatusChanged(func(ch session.StatusChange) {
		if change := tracker.Observe(ch); change != nil {
			if change.EndSession != nil {
				sink.SessionEnded(change.EndSession)
			}
			if err := sink.SessionStarted(change.StartSession); err != nil {
				slog.Debug("session_start not written", zap.Error(err))
			}
			if dedupe != nil {
				dedupe.Reset()
			}
			c.saveState(statePath, globals.Server, ch, logger)
		}
		if ch.Status == domain.StatusDead {
			select {
			case dead <- struct{}{}:
			default:
			}
		}
		if globals.Quiet && (ch.Status == domain.StatusBusy || ch.Status == domain.StatusIdle) {
			return
		}
		if dedupe != nil && !dedupe.Check(ch.Session.KernelID()+"/"+string(ch.Status)).ShouldEmit {
			return
		}
		sink.Status(domain.NewStatusEvent(tracker.CurrentSession(), ch.Session.KernelID(), ch.Status))
	})
	defer unsubscribe()

	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.Session.LaunchTimeout+cfg.Session.IdleTimeout)
	err = ctrl.Connect(connectCtx, cfg.Session.IdleTimeout)
	cancelConnect()
	if err != nil {
		return c.fail(sink, err)
	}
	sink.write(func(w output.Writer) error {
		return w.WriteReady(&output.Ready{Command: "connect", Server: client.BaseURL(), Timestamp: time.Now().UTC().Format(time.RFC3339)})
	})

	if !c.Once {
		err = c.wait(ctx, ctrl, dead)
	}
	if end := tracker.GetFinalSummary(); end != nil {
		sink.SessionEnded(end)
	}
	if err != nil {
		return c.fail(sink, err)
	}
	return nil
}

// wait blocks until the user interrupts or the kernel dies, running the
// optional restart along the way.
func (c *ConnectCmd) wait(ctx context.Context, ctrl *session.Controller, dead <-chan struct{}) error {
	var restartC <-chan time.Time
	if c.RestartAfter > 0 {
		t := time.NewTimer(c.RestartAfter)
		defer t.Stop()
		restartC = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-dead:
			return errKernelDied
		case <-restartC:
			restartC = nil
			if err := ctrl.Restart(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

var errKernelDied = errors.New("kernel died")

func (c *ConnectCmd) fail(sink *eventSink, err error) error {
	code, hint := classifyError(err)
	if errors.Is(err, errKernelDied) {
		code, hint = "KERNEL_DEAD", "restart with kbridge connect"
	}
	sink.Error(code, err.Error(), hint)
	return err
}

// connection resolves the kernel to start or attach to
func (c *ConnectCmd) connection(ctx context.Context, globals *Globals, client *jupyter.Client, statePath string) (domain.KernelConnectionMetadata, error) {
	kernelID := c.KernelID
	resumed := false
	if c.Resume && statePath != "" {
		if st, err := loadResumeState(statePath); err == nil && st != nil && st.KernelID != "" {
			kernelID = st.KernelID
			resumed = true
		}
	}

	if kernelID != "" {
		k, err := client.GetKernel(ctx, kernelID)
		switch {
		case err == nil:
			return domain.NewLiveKernelConnection(client.BaseURL(), domain.LiveKernel{
				ID:             k.ID,
				Name:           k.Name,
				ExecutionState: k.ExecutionState,
			}), nil
		case !resumed:
			return domain.KernelConnectionMetadata{}, err
		}
		globals.Debug("kernel %s from resume state is gone, starting a new one: %v", kernelID, err)
	}

	if c.Interpreter != "" {
		return domain.NewPythonKernelConnection(domain.Interpreter{Path: c.Interpreter}), nil
	}
	spec := domain.KernelSpec{Name: c.KernelName}
	if globals.Config.Server.LocalLaunch {
		return domain.NewLocalKernelSpecConnection(spec, nil), nil
	}
	return domain.NewRemoteKernelSpecConnection(client.BaseURL(), spec), nil
}

func (c *ConnectCmd) dependencyGate(globals *Globals, rec metrics.Recorder, logger *zap.Logger) *deps.Service {
	opts := []deps.Option{deps.WithObserver(metricsObserver{rec: rec}), deps.WithLogger(logger)}
	if c.InstallDeps || globals.Config.Dependencies.AutoInstall {
		opts = append(opts, deps.WithPrompter(deps.AutoConfirm{}))
	}
	return deps.NewService(globals.Config.Dependencies.Package, deps.ExecChecker{}, deps.PipInstaller{}, opts...)
}

func (c *ConnectCmd) saveState(path, server string, ch session.StatusChange, logger *zap.Logger) {
	if path == "" {
		return
	}
	st := &resumeState{
		SchemaVersion: output.SchemaVersion,
		Server:        server,
		KernelID:      ch.Session.KernelID(),
		KernelName:    ch.Connection.KernelName(),
		Connection:    ch.Connection.ID,
	}
	if err := saveResumeState(path, st); err != nil {
		logger.Debug("resume state not saved", zap.Error(err))
	}
}

// setupMetrics starts the OTLP exporter when enabled; failures fall back to Noop
func setupMetrics(ctx context.Context, globals *Globals) (metrics.Recorder, func()) {
	cfg := globals.Config.Metrics
	rec, shutdown, err := metrics.Setup(ctx, metrics.Config{
		Enabled:  cfg.Enabled,
		Endpoint: cfg.Endpoint,
		Insecure: cfg.Insecure,
	}, Version)
	if err != nil {
		globals.Logger().Warn("metrics disabled", zap.Error(err))
		return metrics.Noop{}, func() {}
	}
	return rec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			globals.Logger().Debug("metrics shutdown", zap.Error(err))
		}
	}
}
