package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/vburojevic/kernelbridge/internal/cli"
	"github.com/vburojevic/kernelbridge/internal/config"
)

const quickStart = `kbridge - Jupyter kernel sessions and debugger variables for tools and agents

Quick start:
  kbridge kernels                          List running kernels
  kbridge connect -k python3               Start a kernel and stream its status
  kbridge dap-proxy --kernel-id ID         Proxy a kernel debugger and stream variables

For help:
  kbridge --help                           All commands and flags
  kbridge schema                           JSON Schema for every output type
`

func main() {
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config values become flag defaults; explicit flags still win
	vars := kong.Vars{
		"config_format": cli.DefaultFormat(cfg, os.Stdout),
		"config_level":  cfg.Level,
		"config_server": cfg.Server.URL,
	}

	ctx := kong.Parse(&c,
		kong.Name("kbridge"),
		kong.Description("kbridge: manage Jupyter kernel sessions and bridge debugger variables as NDJSON"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	if err := ctx.Run(globals); err != nil {
		os.Exit(1)
	}
}
