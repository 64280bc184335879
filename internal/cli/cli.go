// Package cli implements the kbridge commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/vburojevic/kernelbridge/internal/config"
	"github.com/vburojevic/kernelbridge/internal/output"
)

// Version and Commit are set at build time
var (
	Version = "dev"
	Commit  = "none"
)

// CLI is the root kong model
type CLI struct {
	Format  string `short:"f" default:"${config_format}" enum:"ndjson,text" help:"Output format (ndjson, text)"`
	Level   string `short:"l" default:"${config_level}" enum:"debug,info,warn,error" help:"Log level for stderr diagnostics"`
	Quiet   bool   `short:"q" help:"Suppress non-essential events"`
	Verbose bool   `short:"v" help:"Debug logging on stderr"`
	Server  string `default:"${config_server}" help:"Jupyter server URL"`
	Token   string `help:"Jupyter server token (default from config or JUPYTER_TOKEN)"`

	Connect    ConnectCmd    `cmd:"" help:"Start or attach to a kernel session and stream its status"`
	DapProxy   DapProxyCmd   `cmd:"" name:"dap-proxy" help:"Proxy a debug adapter and stream the variable list"`
	Kernels    KernelsCmd    `cmd:"" help:"List kernels running on the server"`
	Config     ConfigCmd     `cmd:"" help:"Show or generate configuration"`
	Schema     SchemaCmd     `cmd:"" help:"JSON Schema for NDJSON output"`
	Completion CompletionCmd `cmd:"" help:"Generate shell completions"`
	Version    VersionCmd    `cmd:"" help:"Show version"`
}

// Globals is shared by every command
type Globals struct {
	Format  string
	Level   string
	Quiet   bool
	Verbose bool
	Server  string
	Token   string
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config

	logger *zap.Logger
}

// NewGlobalsWithConfig merges parsed flags over the loaded configuration
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	g := &Globals{
		Format:  c.Format,
		Level:   c.Level,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Server:  c.Server,
		Token:   c.Token,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	if g.Server == "" {
		g.Server = cfg.Server.URL
	}
	if g.Token == "" {
		g.Token = cfg.Server.Token
	}
	return g
}

// DefaultFormat picks text for an interactive terminal unless the format was
// configured explicitly.
func DefaultFormat(cfg *config.Config, out *os.File) string {
	if config.ConfigFile() != "" || os.Getenv("KBRIDGE_FORMAT") != "" {
		return cfg.Format
	}
	if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
		return "text"
	}
	return cfg.Format
}

// Logger returns the diagnostics logger, building it on first use
func (g *Globals) Logger() *zap.Logger {
	if g.logger == nil {
		g.logger = newLogger(g)
	}
	return g.logger
}

// Debug logs a formatted debug line when --verbose is set
func (g *Globals) Debug(format string, args ...interface{}) {
	if !g.Verbose {
		return
	}
	g.Logger().Sugar().Debugf(format, args...)
}

// Writer returns the event writer for the selected format
func (g *Globals) Writer() output.Writer {
	return newWriter(g.Format, g.Stdout)
}

func newWriter(format string, w io.Writer) output.Writer {
	if format == "text" {
		return output.NewTextWriter(w)
	}
	return output.NewNDJSONWriter(w)
}

// VersionCmd prints the build version
type VersionCmd struct{}

// VersionOutput is the NDJSON version event
type VersionOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	GoInstall     string `json:"go_install"`
}

const goInstallCmd = "go install github.com/vburojevic/kernelbridge/cmd/kbridge@latest"

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(VersionOutput{
			Type:          "version",
			SchemaVersion: output.SchemaVersion,
			Version:       Version,
			Commit:        Commit,
			GoInstall:     goInstallCmd,
		})
	}
	fmt.Fprintf(globals.Stdout, "kbridge version %s (%s)\n", Version, Commit)
	fmt.Fprintf(globals.Stdout, "upgrade: %s\n", goInstallCmd)
	return nil
}
