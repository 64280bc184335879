// Package deps gates kernel startup on the interpreter having the kernel
// launcher package installed.
package deps

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

// Response is the outcome of a dependency check
type Response int

const (
	// ResponseOK means the dependencies are present or were installed
	ResponseOK Response = iota
	// ResponseCancel means the user declined the install
	ResponseCancel
	// ResponseFailed means the install ran and failed
	ResponseFailed
)

func (r Response) String() string {
	switch r {
	case ResponseOK:
		return "ok"
	case ResponseCancel:
		return "cancel"
	case ResponseFailed:
		return "failed"
	default:
		return fmt.Sprintf("response(%d)", int(r))
	}
}

// DependencyNotInstalledError is returned when the kernel package is missing
// and was not installed
type DependencyNotInstalledError struct {
	Interpreter string
	Package     string
	Response    Response
}

func (e *DependencyNotInstalledError) Error() string {
	return fmt.Sprintf("%s is not installed for %s (%s)", e.Package, e.Interpreter, e.Response)
}

// Checker reports whether the kernel package is importable
type Checker interface {
	IsInstalled(ctx context.Context, interp domain.Interpreter, pkg string) (bool, error)
}

// Prompter asks the user whether to install pkg
type Prompter interface {
	ConfirmInstall(ctx context.Context, interp domain.Interpreter, pkg string) (bool, error)
}

// Installer installs pkg into the interpreter
type Installer interface {
	Install(ctx context.Context, interp domain.Interpreter, pkg string) error
}

// Observer is notified of prompts and install outcomes
type Observer interface {
	DependencyPrompted(ctx context.Context)
	DependencyResolved(ctx context.Context, r Response)
}

// Service runs at most one check per interpreter path at a time
type Service struct {
	pkg       string
	checker   Checker
	prompter  Prompter
	installer Installer
	observer  Observer
	logger    *zap.Logger

	group singleflight.Group
}

// Option configures a Service
type Option func(*Service)

// WithPrompter sets the prompter; without one every install is declined
// unless auto-install is used.
func WithPrompter(p Prompter) Option { return func(s *Service) { s.prompter = p } }

// WithObserver sets the outcome observer
func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService creates a dependency gate for pkg
func NewService(pkg string, checker Checker, installer Installer, opts ...Option) *Service {
	s := &Service{
		pkg:       pkg,
		checker:   checker,
		installer: installer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Package returns the package this service guards
func (s *Service) Package() string { return s.pkg }

// InstallMissing makes sure the package is installed for interp. Concurrent
// callers for the same interpreter path share one check and its result.
// disableUI skips the prompt and treats it as declined.
func (s *Service) InstallMissing(ctx context.Context, interp domain.Interpreter, disableUI bool) error {
	ch := s.group.DoChan(interp.Path, func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		return s.check(context.WithoutCancel(ctx), interp, disableUI), nil
	})

	var r Response
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		r = res.Val.(Response)
	}
	if r != ResponseOK {
		return &DependencyNotInstalledError{Interpreter: interp.Path, Package: s.pkg, Response: r}
	}
	return nil
}

func (s *Service) check(ctx context.Context, interp domain.Interpreter, disableUI bool) Response {
	logger := s.logger.With(zap.String("interpreter", interp.Path), zap.String("package", s.pkg))

	ok, err := s.checker.IsInstalled(ctx, interp, s.pkg)
	if err != nil {
		logger.Debug("dependency check failed", zap.Error(err))
	}
	if ok {
		return ResponseOK
	}

	r := s.promptAndInstall(ctx, interp, disableUI, logger)
	if s.observer != nil {
		s.observer.DependencyResolved(ctx, r)
	}
	return r
}

func (s *Service) promptAndInstall(ctx context.Context, interp domain.Interpreter, disableUI bool, logger *zap.Logger) Response {
	if disableUI || s.prompter == nil {
		logger.Info("dependency missing, prompting disabled")
		return ResponseCancel
	}
	if s.observer != nil {
		s.observer.DependencyPrompted(ctx)
	}
	confirmed, err := s.prompter.ConfirmInstall(ctx, interp, s.pkg)
	if err != nil || !confirmed {
		return ResponseCancel
	}

	if err := s.installer.Install(ctx, interp, s.pkg); err != nil {
		logger.Warn("dependency install failed", zap.Error(err))
		return ResponseFailed
	}
	ok, err := s.checker.IsInstalled(ctx, interp, s.pkg)
	if err != nil || !ok {
		logger.Warn("dependency still missing after install", zap.Error(err))
		return ResponseFailed
	}
	return ResponseOK
}
