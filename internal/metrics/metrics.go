// Package metrics records session and variable lifecycle counters.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder receives lifecycle measurements
type Recorder interface {
	SessionCreated(ctx context.Context, connection string, err error)
	RestartAttempt(ctx context.Context, attempt int, err error)
	IdleWaitTimeout(ctx context.Context)
	DependencyPrompted(ctx context.Context)
	DependencyResolved(ctx context.Context, response string)
	SnapshotRefreshed(ctx context.Context, size int)
}

// Noop discards everything
type Noop struct{}

func (Noop) SessionCreated(context.Context, string, error) {}
func (Noop) RestartAttempt(context.Context, int, error)    {}
func (Noop) IdleWaitTimeout(context.Context)                {}
func (Noop) DependencyPrompted(context.Context)             {}
func (Noop) DependencyResolved(context.Context, string)     {}
func (Noop) SnapshotRefreshed(context.Context, int)         {}

// OTel records to OpenTelemetry instruments
type OTel struct {
	sessionCreates  metric.Int64Counter
	restartAttempts metric.Int64Counter
	idleTimeouts    metric.Int64Counter
	depPrompts      metric.Int64Counter
	depResolved     metric.Int64Counter
	snapshots       metric.Int64Counter
	snapshotSize    metric.Int64Histogram
}

// New creates the instruments on meter
func New(meter metric.Meter) (*OTel, error) {
	var (
		r   OTel
		err error
	)
	if r.sessionCreates, err = meter.Int64Counter(
		"kbridge_session_creates_total",
		metric.WithDescription("Kernel session creation attempts"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, fmt.Errorf("creating session counter: %w", err)
	}
	if r.restartAttempts, err = meter.Int64Counter(
		"kbridge_restart_session_attempts_total",
		metric.WithDescription("Restart session pre-warm attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("creating restart counter: %w", err)
	}
	if r.idleTimeouts, err = meter.Int64Counter(
		"kbridge_idle_wait_timeouts_total",
		metric.WithDescription("Kernels that did not report idle in time"),
	); err != nil {
		return nil, fmt.Errorf("creating idle timeout counter: %w", err)
	}
	if r.depPrompts, err = meter.Int64Counter(
		"kbridge_dependency_prompts_total",
		metric.WithDescription("Dependency install prompts shown"),
	); err != nil {
		return nil, fmt.Errorf("creating prompt counter: %w", err)
	}
	if r.depResolved, err = meter.Int64Counter(
		"kbridge_dependency_checks_total",
		metric.WithDescription("Dependency checks that found the package missing, by outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating dependency counter: %w", err)
	}
	if r.snapshots, err = meter.Int64Counter(
		"kbridge_variable_snapshots_total",
		metric.WithDescription("Variable snapshots replaced from debugger traffic"),
	); err != nil {
		return nil, fmt.Errorf("creating snapshot counter: %w", err)
	}
	if r.snapshotSize, err = meter.Int64Histogram(
		"kbridge_variable_snapshot_size",
		metric.WithDescription("Variables per snapshot"),
		metric.WithUnit("{variable}"),
	); err != nil {
		return nil, fmt.Errorf("creating snapshot histogram: %w", err)
	}
	return &r, nil
}

func outcome(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("outcome", "error")
	}
	return attribute.String("outcome", "ok")
}

func (r *OTel) SessionCreated(ctx context.Context, connection string, err error) {
	r.sessionCreates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("connection", connection), outcome(err)))
}

func (r *OTel) RestartAttempt(ctx context.Context, attempt int, err error) {
	r.restartAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("attempt", attempt), outcome(err)))
}

func (r *OTel) IdleWaitTimeout(ctx context.Context) {
	r.idleTimeouts.Add(ctx, 1)
}

func (r *OTel) DependencyPrompted(ctx context.Context) {
	r.depPrompts.Add(ctx, 1)
}

func (r *OTel) DependencyResolved(ctx context.Context, response string) {
	r.depResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("response", response)))
}

func (r *OTel) SnapshotRefreshed(ctx context.Context, size int) {
	r.snapshots.Add(ctx, 1)
	r.snapshotSize.Record(ctx, int64(size))
}

var (
	_ Recorder = Noop{}
	_ Recorder = (*OTel)(nil)
)
