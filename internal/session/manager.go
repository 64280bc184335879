package session

import (
	"context"

	"github.com/vburojevic/kernelbridge/internal/backingfile"
	"github.com/vburojevic/kernelbridge/internal/domain"
	"github.com/vburojevic/kernelbridge/internal/jupyter"
)

// KernelSession is a live kernel session the controller supervises
type KernelSession interface {
	ID() string
	KernelID() string
	ClientID() string
	Status() domain.KernelStatus
	OnStatusChanged(fn func(domain.KernelStatus)) func()
	Done() <-chan struct{}
	Restart(ctx context.Context) error
	Interrupt(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// SessionManager starts new sessions or attaches to running kernels
type SessionManager interface {
	StartNew(ctx context.Context, opts jupyter.SessionOptions) (KernelSession, error)
	ConnectTo(ctx context.Context, kernelID string) (KernelSession, error)
}

// BackingFiles creates backing files for new sessions
type BackingFiles interface {
	Create(ctx context.Context, rootDir, workingDir string, localLaunch bool) (*backingfile.BackingFile, error)
}

// DependencyGate installs missing kernel dependencies for an interpreter
type DependencyGate interface {
	InstallMissing(ctx context.Context, interp domain.Interpreter, disableUI bool) error
}

// JupyterManager adapts a jupyter.SessionManager
type JupyterManager struct {
	m *jupyter.SessionManager
}

// NewJupyterManager wraps m
func NewJupyterManager(m *jupyter.SessionManager) *JupyterManager {
	return &JupyterManager{m: m}
}

// StartNew implements SessionManager
func (j *JupyterManager) StartNew(ctx context.Context, opts jupyter.SessionOptions) (KernelSession, error) {
	s, err := j.m.StartNew(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ConnectTo implements SessionManager
func (j *JupyterManager) ConnectTo(ctx context.Context, kernelID string) (KernelSession, error) {
	s, err := j.m.ConnectTo(ctx, kernelID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var _ KernelSession = (*jupyter.Session)(nil)
