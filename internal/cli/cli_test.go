package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/kernelbridge/internal/backingfile"
	"github.com/vburojevic/kernelbridge/internal/config"
	"github.com/vburojevic/kernelbridge/internal/deps"
	"github.com/vburojevic/kernelbridge/internal/jupyter"
	"github.com/vburojevic/kernelbridge/internal/jupyter/jupytertest"
	"github.com/vburojevic/kernelbridge/internal/session"
	"github.com/vburojevic/kernelbridge/internal/variables"
)

// testGlobals creates a Globals struct with captured stdout/stderr
func testGlobals(format string) (*Globals, *bytes.Buffer, *bytes.Buffer) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	return &Globals{
		Format: format,
		Level:  "warn",
		Stdout: stdout,
		Stderr: stderr,
		Config: config.Default(),
	}, stdout, stderr
}

// decodeLines splits NDJSON output into objects
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]interface{}
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

// --- Config Command Tests ---

func TestConfigShowCmd_Run(t *testing.T) {
	t.Run("outputs config in text format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		require.NoError(t, (&ConfigShowCmd{}).Run(globals))

		out := stdout.String()
		assert.Contains(t, out, "Current Configuration:")
		assert.Contains(t, out, "format:")
		assert.Contains(t, out, "page_size: 100")
		assert.Contains(t, out, "token: (none)")
	})

	t.Run("outputs config in NDJSON format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		globals.Config.Server.Token = "secret"
		require.NoError(t, (&ConfigShowCmd{}).Run(globals))

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.Equal(t, "config", result["type"])
		assert.Equal(t, "ndjson", result["format"])
		server := result["server"].(map[string]interface{})
		assert.Equal(t, true, server["token_set"])
		assert.NotContains(t, stdout.String(), "secret")
	})
}

func TestConfigPathCmd_Run(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		require.NoError(t, (&ConfigPathCmd{}).Run(globals))
		out := stdout.String()
		assert.True(t, strings.Contains(out, "Config file:") || strings.Contains(out, "No configuration file found"))
	})

	t.Run("ndjson", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		require.NoError(t, (&ConfigPathCmd{}).Run(globals))
		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.Equal(t, "config_path", result["type"])
		assert.Contains(t, result, "found")
	})
}

func TestConfigGenerateCmd_Run(t *testing.T) {
	globals, stdout, _ := testGlobals("text")
	require.NoError(t, (&ConfigGenerateCmd{}).Run(globals))

	out := stdout.String()
	assert.True(t, strings.HasPrefix(out, "# kbridge configuration file"))
	assert.Contains(t, out, "format: ndjson")
	assert.Contains(t, out, "level: warn")
}

// --- Schema / Version ---

func TestSchemaCmd_FiltersTypes(t *testing.T) {
	globals, stdout, _ := testGlobals("ndjson")
	require.NoError(t, (&SchemaCmd{Type: []string{"status", " Variables "}}).Run(globals))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &doc))
	assert.Equal(t, "kbridge Output Schemas", doc["title"])
	defs := doc["definitions"].(map[string]interface{})
	assert.Len(t, defs, 2)
	assert.Contains(t, defs, "status")
	assert.Contains(t, defs, "variables")
}

func TestVersionCmd_Run(t *testing.T) {
	t.Run("ndjson", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		require.NoError(t, (&VersionCmd{}).Run(globals))
		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.Equal(t, "version", result["type"])
		assert.Equal(t, Version, result["version"])
	})

	t.Run("text", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		require.NoError(t, (&VersionCmd{}).Run(globals))
		assert.Contains(t, stdout.String(), "kbridge version")
	})
}

// --- Kernels ---

func TestKernelsCmd_Run(t *testing.T) {
	srv := jupytertest.New("")
	defer srv.Close()
	py := srv.AddKernel("python3")
	srv.AddKernel("ir")

	t.Run("ndjson filtered by name", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		globals.Server = srv.URL
		require.NoError(t, (&KernelsCmd{Name: "python3"}).Run(globals))

		lines := decodeLines(t, stdout)
		require.Len(t, lines, 1)
		assert.Equal(t, "kernel", lines[0]["type"])
		assert.Equal(t, py, lines[0]["id"])
		assert.Equal(t, "idle", lines[0]["execution_state"])
	})

	t.Run("text table", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		globals.Server = srv.URL
		require.NoError(t, (&KernelsCmd{}).Run(globals))
		out := stdout.String()
		assert.Contains(t, out, py)
		assert.Contains(t, out, "ir")
	})

	t.Run("unreachable server reports an error event", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		globals.Server = "http://127.0.0.1:1"
		require.Error(t, (&KernelsCmd{}).Run(globals))
		lines := decodeLines(t, stdout)
		require.Len(t, lines, 1)
		assert.Equal(t, "error", lines[0]["type"])
	})
}

// --- Connect ---

func TestConnectCmd_AttachOnce(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	srv := jupytertest.New("")
	defer srv.Close()
	id := srv.AddKernel("python3")

	globals, stdout, _ := testGlobals("ndjson")
	globals.Server = srv.URL
	globals.Config.Session.PrewarmRestart = false
	globals.Config.Session.IdleTimeout = 5 * time.Second
	globals.Config.Session.LaunchTimeout = 5 * time.Second

	require.NoError(t, (&ConnectCmd{KernelName: "python3", KernelID: id, Once: true}).Run(globals))

	lines := decodeLines(t, stdout)
	types := make([]string, 0, len(lines))
	for _, l := range lines {
		types = append(types, l["type"].(string))
	}
	require.NotEmpty(t, types)
	assert.Equal(t, "session_start", types[0])
	assert.Contains(t, types, "status")
	assert.Contains(t, types, "ready")
	assert.Equal(t, "session_end", types[len(types)-1])
	assert.Equal(t, id, lines[0]["kernel_id"])

	path, err := defaultResumeStatePath(srv.URL)
	require.NoError(t, err)
	st, err := loadResumeState(path)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, id, st.KernelID)
}

func TestConnectCmd_UnknownKernel(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	srv := jupytertest.New("")
	defer srv.Close()

	globals, stdout, _ := testGlobals("ndjson")
	globals.Server = srv.URL
	require.Error(t, (&ConnectCmd{KernelName: "python3", KernelID: "missing", Once: true}).Run(globals))

	lines := decodeLines(t, stdout)
	require.Len(t, lines, 1)
	assert.Equal(t, "error", lines[0]["type"])
	assert.Equal(t, "SERVER_ERROR", lines[0]["code"])
}

// --- Error classification ---

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{&session.IdleWaitTimeoutError{KernelID: "k", Timeout: time.Second}, "IDLE_TIMEOUT"},
		{&deps.DependencyNotInstalledError{Interpreter: "/usr/bin/python3", Package: "ipykernel", Response: deps.ResponseCancel}, "DEPENDENCY_DECLINED"},
		{&backingfile.CreationError{Dir: "/srv", Err: errors.New("denied")}, "BACKING_FILE_FAILED"},
		{&jupyter.HTTPError{Method: "GET", URL: "u", StatusCode: 403}, "UNAUTHORIZED"},
		{&jupyter.HTTPError{Method: "GET", URL: "u", StatusCode: 500}, "SERVER_ERROR"},
		{&session.InvalidKernelConnectionError{Err: errors.New("dead")}, "INVALID_KERNEL"},
		{fmt.Errorf("restart: %w", session.ErrSessionDisposed), "SESSION_DISPOSED"},
		{variables.ErrDebuggerInactive, "DEBUGGER_INACTIVE"},
		{&variables.ChunkSizeError{Requested: 5000}, "CHUNK_TOO_LARGE"},
		{context.DeadlineExceeded, "TIMEOUT"},
		{context.Canceled, "CANCELLED"},
		{errors.New("other"), "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			code, _ := classifyError(tt.err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestOutputErrorTextFormat(t *testing.T) {
	globals, stdout, _ := testGlobals("text")
	err := outputErrorCommon(globals, "BAD", "went wrong", "try again")
	require.EqualError(t, err, "went wrong")
	assert.Contains(t, stdout.String(), "went wrong")
}
