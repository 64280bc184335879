package cli

import (
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
)

var testVars = kong.Vars{
	"config_format": "ndjson",
	"config_level":  "warn",
	"config_server": "http://localhost:8888",
}

func TestConnectFlagsParse(t *testing.T) {
	var c CLI
	parser, err := kong.New(&c, testVars)
	require.NoError(t, err)

	_, err = parser.Parse([]string{
		"connect",
		"-k", "ir",
		"--working-dir", "nb",
		"--restart-after", "90s",
		"-o", "out.ndjson",
		"--rotate",
		"--dedupe",
		"--dedupe-window", "2m",
	})
	require.NoError(t, err)

	require.Equal(t, "ir", c.Connect.KernelName)
	require.Equal(t, "nb", c.Connect.WorkingDir)
	require.Equal(t, 90*time.Second, c.Connect.RestartAfter)
	require.Equal(t, "out.ndjson", c.Connect.Output)
	require.True(t, c.Connect.Rotate)
	require.True(t, c.Connect.Dedupe)
	require.Equal(t, 2*time.Minute, c.Connect.DedupeWindow)
	require.Equal(t, "http://localhost:8888", c.Server)
}

func TestDapProxyFlagsParse(t *testing.T) {
	var c CLI
	parser, err := kong.New(&c, testVars)
	require.NoError(t, err)

	_, err = parser.Parse([]string{
		"dap-proxy",
		"--adapter", "127.0.0.1:5679",
		"--notebook",
		"--mode", "cell",
		"--cell-path", "cell-1.py",
		"-p", "^df",
		"-x", "tmp",
		"-w", "type=DataFrame",
		"--sort", "type",
		"--descending",
	})
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:5679", c.DapProxy.Adapter)
	require.True(t, c.DapProxy.Notebook)
	require.Equal(t, "cell", c.DapProxy.Mode)
	require.Equal(t, "^df", c.DapProxy.Pattern)
	require.Contains(t, c.DapProxy.Exclude, "tmp")
	require.Contains(t, c.DapProxy.Where, "type=DataFrame")
	require.Equal(t, "type", c.DapProxy.Sort)
	require.True(t, c.DapProxy.Descending)
}

func TestFormatEnumRejected(t *testing.T) {
	var c CLI
	parser, err := kong.New(&c, testVars)
	require.NoError(t, err)
	_, err = parser.Parse([]string{"-f", "xml", "version"})
	require.Error(t, err)
}

func TestCompletionIndexFromModel(t *testing.T) {
	var c CLI
	parser, err := kong.New(&c, testVars)
	require.NoError(t, err)

	idx := buildCompletionIndex(parser.Model.Node)
	require.Contains(t, idx.Commands[""], "dap-proxy")
	require.Contains(t, idx.Commands["config"], "generate")
	require.Contains(t, idx.Flags["connect"], "--kernel-id")
	require.Equal(t, []string{"ndjson", "text"}, idx.Enums["--format"])
	require.Equal(t, []string{"ndjson", "text"}, idx.Enums["-f"])

	for _, shell := range []string{"bash", "zsh", "fish"} {
		globals, stdout, _ := testGlobals("ndjson")
		require.NoError(t, (&CompletionCmd{Shell: shell}).Run(globals, nil))
		require.Contains(t, stdout.String(), "kbridge")
	}
}
