package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

// maxRestartAttempts bounds restart session creation
const maxRestartAttempts = 3

type restartPhase int

const (
	restartIdle restartPhase = iota
	restartAttempting
	restartSucceeded
	restartFailed
)

// restartMachine creates a spare session:
// Idle -> Attempting(1..3) -> Succeeded | Failed.
// A failed attempt shuts down its half-created session before the next one.
type restartMachine struct {
	phase   restartPhase
	attempt int
	session KernelSession
	err     error
}

// step advances the machine by one transition
func (m *restartMachine) step(ctx context.Context, c *Controller, conn domain.KernelConnectionMetadata) {
	switch m.phase {
	case restartIdle:
		m.phase = restartAttempting
		m.attempt = 1
	case restartAttempting:
		s, err := c.newKernelSession(ctx, conn, c.launch, true)
		c.metrics.RestartAttempt(ctx, m.attempt, err)
		if err == nil {
			m.session = s
			m.phase = restartSucceeded
			return
		}
		c.logger.Debug("restart session attempt failed",
			zap.Int("attempt", m.attempt), zap.String("connection", conn.ID), zap.Error(err))
		if s != nil {
			c.discard(s)
		}
		m.err = err
		if m.attempt >= maxRestartAttempts || ctx.Err() != nil {
			m.phase = restartFailed
			return
		}
		m.attempt++
	}
}

func (m *restartMachine) settled() bool {
	return m.phase == restartSucceeded || m.phase == restartFailed
}

// runRestartMachine drives a restart machine to completion
func (c *Controller) runRestartMachine(ctx context.Context, conn domain.KernelConnectionMetadata) (KernelSession, error) {
	var m restartMachine
	for !m.settled() {
		m.step(ctx, c, conn)
	}
	if m.phase == restartFailed {
		return nil, m.err
	}
	return m.session, nil
}

// pendingRestart is a spare session being created in the background
type pendingRestart struct {
	done    chan struct{}
	cancel  context.CancelFunc
	session KernelSession
	err     error
}

// startRestartSession pre-warms a spare session for local kernels
func (c *Controller) startRestartSession() {
	c.mu.Lock()
	if !c.prewarm || c.remote || c.disposed || c.restart != nil || c.current == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	ctx, cancel := context.WithCancel(context.Background())
	p := &pendingRestart{done: make(chan struct{}), cancel: cancel}
	c.restart = p
	c.mu.Unlock()

	go func() {
		defer close(p.done)
		p.session, p.err = c.runRestartMachine(ctx, conn)
		if p.err != nil {
			c.logger.Warn("failed to pre-warm restart session", zap.Error(p.err))
		}
	}()
}

// takeRestart removes and returns the pending spare
func (c *Controller) takeRestart() *pendingRestart {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.restart
	c.restart = nil
	return p
}

// putRestart hands a spare back unless another one was started meanwhile
func (c *Controller) putRestart(p *pendingRestart) {
	c.mu.Lock()
	if c.restart == nil && !c.disposed {
		c.restart = p
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.dropRestart(p)
}

// cancelRestart stops the pending spare and shuts down its session
func (c *Controller) cancelRestart() {
	if p := c.takeRestart(); p != nil {
		c.dropRestart(p)
	}
}

func (c *Controller) dropRestart(p *pendingRestart) {
	p.cancel()
	<-p.done
	if p.session != nil {
		c.discard(p.session)
	}
}
