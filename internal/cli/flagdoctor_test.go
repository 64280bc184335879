package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateGlobalsQuietText(t *testing.T) {
	g, _, stderr := testGlobals("text")
	g.Quiet = true
	err := validateGlobals(g)
	require.Error(t, err)
	require.Empty(t, stderr.String())
}

func TestValidateConnectFlags(t *testing.T) {
	cases := []struct {
		name string
		cmd  ConnectCmd
		ok   bool
	}{
		{"defaults", ConnectCmd{}, true},
		{"kernel id and interpreter", ConnectCmd{KernelID: "k", Interpreter: "/usr/bin/python3"}, false},
		{"kernel id and resume", ConnectCmd{KernelID: "k", Resume: true}, false},
		{"once and restart", ConnectCmd{Once: true, RestartAfter: time.Second}, false},
		{"rotate without output", ConnectCmd{Rotate: true}, false},
		{"rotate with output", ConnectCmd{Rotate: true, Output: "events.ndjson"}, true},
		{"dedupe window without dedupe", ConnectCmd{DedupeWindow: time.Minute}, false},
		{"negative dedupe window", ConnectCmd{Dedupe: true, DedupeWindow: -time.Second}, false},
		{"dedupe window", ConnectCmd{Dedupe: true, DedupeWindow: time.Minute}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, stdout, _ := testGlobals("ndjson")
			err := validateConnectFlags(g, &tc.cmd)
			if tc.ok {
				require.NoError(t, err)
				require.Empty(t, stdout.String())
				return
			}
			require.Error(t, err)
			require.Contains(t, stdout.String(), `"code":"INVALID_FLAGS"`)
		})
	}
}

func TestValidateProxyFlags(t *testing.T) {
	g, _, _ := testGlobals("ndjson")
	require.Error(t, validateProxyFlags(g, &DapProxyCmd{}))
	require.Error(t, validateProxyFlags(g, &DapProxyCmd{Adapter: "a:1", KernelID: "k"}))
	require.Error(t, validateProxyFlags(g, &DapProxyCmd{Adapter: "a:1", Notebook: true, Mode: "cell"}))
	require.Error(t, validateProxyFlags(g, &DapProxyCmd{Adapter: "a:1", Mode: "everything"}))
	require.NoError(t, validateProxyFlags(g, &DapProxyCmd{Adapter: "a:1", Notebook: true, Mode: "cell", CellPath: "/tmp/c.py"}))
	require.NoError(t, validateProxyFlags(g, &DapProxyCmd{KernelID: "k"}))
	require.Error(t, validateProxyFlags(g, &DapProxyCmd{KernelID: "k", DedupeWindow: time.Second}))
	require.NoError(t, validateProxyFlags(g, &DapProxyCmd{KernelID: "k", Dedupe: true, DedupeWindow: time.Second}))
}

func TestValidateProxyMode(t *testing.T) {
	g, stdout, _ := testGlobals("ndjson")
	require.Error(t, validateProxyFlags(g, &DapProxyCmd{Adapter: "a:1", Notebook: true, Mode: "sometimes"}))
	require.Contains(t, stdout.String(), "unknown --mode")
}
