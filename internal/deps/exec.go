package deps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

// ExecChecker checks for a package by importing it with the interpreter
type ExecChecker struct{}

// IsInstalled runs `python -c "import <pkg>"`
func (ExecChecker) IsInstalled(ctx context.Context, interp domain.Interpreter, pkg string) (bool, error) {
	cmd := exec.CommandContext(ctx, interp.Path, "-c", "import "+moduleName(pkg))
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// PipInstaller installs packages with pip
type PipInstaller struct{}

// Install runs `python -m pip install -U <pkg>`
func (PipInstaller) Install(ctx context.Context, interp domain.Interpreter, pkg string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, interp.Path, "-m", "pip", "install", "-U", pkg)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pip install %s: %w: %s", pkg, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// AutoConfirm approves every install without asking
type AutoConfirm struct{}

// ConfirmInstall implements Prompter
func (AutoConfirm) ConfirmInstall(context.Context, domain.Interpreter, string) (bool, error) {
	return true, nil
}

// moduleName maps a distribution name to its import name
func moduleName(pkg string) string {
	if i := strings.IndexAny(pkg, "=<>[ "); i >= 0 {
		pkg = pkg[:i]
	}
	return strings.ReplaceAll(pkg, "-", "_")
}
