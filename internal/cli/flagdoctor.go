package cli

import (
	"fmt"
	"time"
)

// validateGlobals rejects global flag combinations that make no sense
func validateGlobals(globals *Globals) error {
	// quiet + text is confusing; steer to ndjson
	if globals != nil && globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	return nil
}

// validateConnectFlags centralizes connect flag combinations
func validateConnectFlags(globals *Globals, c *ConnectCmd) error {
	if err := validateGlobals(globals); err != nil {
		return err
	}
	if c.KernelID != "" && c.Interpreter != "" {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--kernel-id cannot be combined with --interpreter", "attach with --kernel-id or start with --interpreter, not both")
	}
	if c.KernelID != "" && c.Resume {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--resume cannot be combined with --kernel-id", "drop --resume")
	}
	if c.Once && c.RestartAfter > 0 {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--once exits before --restart-after can fire", "drop --once or --restart-after")
	}
	if err := validateDedupeWindow(globals, c.Dedupe, c.DedupeWindow); err != nil {
		return err
	}
	if c.Rotate && c.Output == "" {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--rotate requires --output", "add --output events.ndjson")
	}
	return nil
}

// validateProxyFlags centralizes dap-proxy flag combinations
func validateProxyFlags(globals *Globals, c *DapProxyCmd) error {
	if err := validateGlobals(globals); err != nil {
		return err
	}
	if (c.Adapter == "") == (c.KernelID == "") {
		return outputErrorCommon(globals, "INVALID_FLAGS", "exactly one of --adapter or --kernel-id is required", "use --adapter host:port for a TCP adapter or --kernel-id for a Jupyter kernel")
	}
	if c.Mode != "" && c.Mode != "everything" && c.Mode != "cell" {
		return outputErrorCommon(globals, "INVALID_FLAGS", fmt.Sprintf("unknown --mode %q", c.Mode), "use everything or cell")
	}
	if c.Mode == "cell" && c.CellPath == "" {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--mode cell requires --cell-path", "add --cell-path or use --mode everything")
	}
	if c.Mode != "" && !c.Notebook {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--mode only applies with --notebook", "add --notebook")
	}
	return validateDedupeWindow(globals, c.Dedupe, c.DedupeWindow)
}

func validateDedupeWindow(globals *Globals, dedupe bool, window time.Duration) error {
	if window < 0 {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--dedupe-window must not be negative", "use a duration such as 30s")
	}
	if window > 0 && !dedupe {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--dedupe-window requires --dedupe", "add --dedupe")
	}
	return nil
}
