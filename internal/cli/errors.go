package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/vburojevic/kernelbridge/internal/backingfile"
	"github.com/vburojevic/kernelbridge/internal/deps"
	"github.com/vburojevic/kernelbridge/internal/jupyter"
	"github.com/vburojevic/kernelbridge/internal/session"
	"github.com/vburojevic/kernelbridge/internal/variables"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so callers always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Stdout != nil {
		globals.Writer().WriteError(code, message, hint...)
	}
	return errors.New(message)
}

// outputError reports err with a code and hint derived from its type
func outputError(globals *Globals, err error) error {
	code, hint := classifyError(err)
	outputErrorCommon(globals, code, err.Error(), hint)
	return err
}

func classifyError(err error) (code, hint string) {
	var (
		idle    *session.IdleWaitTimeoutError
		invalid *session.InvalidKernelConnectionError
		dep     *deps.DependencyNotInstalledError
		create  *backingfile.CreationError
		httpErr *jupyter.HTTPError
		chunk   *variables.ChunkSizeError
	)
	switch {
	case errors.As(err, &idle):
		return "IDLE_TIMEOUT", "raise session.idle_timeout or check the kernel logs"
	case errors.As(err, &dep):
		if dep.Response == deps.ResponseCancel {
			return "DEPENDENCY_DECLINED", fmt.Sprintf("install %s or set dependencies.auto_install", dep.Package)
		}
		return "DEPENDENCY_MISSING", fmt.Sprintf("run: %s -m pip install %s", dep.Interpreter, dep.Package)
	case errors.As(err, &create):
		return "BACKING_FILE_FAILED", "check write access to server.root_dir on the Jupyter server"
	case errors.As(err, &httpErr) && (httpErr.StatusCode == 401 || httpErr.StatusCode == 403):
		return "UNAUTHORIZED", "pass --token or set server.token"
	case errors.As(err, &invalid):
		return "INVALID_KERNEL", "pick another kernel with --kernel-name or --interpreter"
	case errors.As(err, &httpErr):
		return "SERVER_ERROR", "check that the Jupyter server is reachable at --server"
	case errors.Is(err, session.ErrSessionDisposed):
		return "SESSION_DISPOSED", ""
	case errors.Is(err, variables.ErrDebuggerInactive):
		return "DEBUGGER_INACTIVE", "start a debug session first"
	case errors.As(err, &chunk):
		return "CHUNK_TOO_LARGE", fmt.Sprintf("request at most %d rows", variables.MaxRowChunk)
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT", "raise session.launch_timeout"
	case errors.Is(err, context.Canceled):
		return "CANCELLED", ""
	}
	return "ERROR", ""
}
