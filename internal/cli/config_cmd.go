package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vburojevic/kernelbridge/internal/config"
	"github.com/vburojevic/kernelbridge/internal/output"
)

// ConfigCmd groups the configuration commands
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is used"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample config file"`
}

// ConfigShowCmd prints the effective configuration
type ConfigShowCmd struct{}

// Run executes config show
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]interface{}{
			"type":          "config",
			"schemaVersion": output.SchemaVersion,
			"path":          config.ConfigFile(),
			"format":        cfg.Format,
			"level":         cfg.Level,
			"server": map[string]interface{}{
				"url":          cfg.Server.URL,
				"token_set":    cfg.Server.Token != "",
				"root_dir":     cfg.Server.RootDir,
				"local_launch": cfg.Server.LocalLaunch,
			},
			"session": map[string]interface{}{
				"launch_timeout":  cfg.Session.LaunchTimeout.String(),
				"idle_timeout":    cfg.Session.IdleTimeout.String(),
				"prewarm_restart": cfg.Session.PrewarmRestart,
			},
			"variables": map[string]interface{}{
				"exclude_types":    cfg.Variables.ExcludeTypes,
				"page_size":        cfg.Variables.PageSize,
				"refresh_debounce": cfg.Variables.RefreshDebounce.String(),
			},
			"dependencies": map[string]interface{}{
				"auto_install": cfg.Dependencies.AutoInstall,
				"package":      cfg.Dependencies.Package,
			},
			"metrics": map[string]interface{}{
				"enabled":  cfg.Metrics.Enabled,
				"endpoint": cfg.Metrics.Endpoint,
			},
		})
	}

	w := globals.Stdout
	fmt.Fprintln(w, "Current Configuration:")
	if path := config.ConfigFile(); path != "" {
		fmt.Fprintf(w, "  file: %s\n", path)
	}
	fmt.Fprintf(w, "  format: %s\n", cfg.Format)
	fmt.Fprintf(w, "  level: %s\n", cfg.Level)
	fmt.Fprintln(w, "Server:")
	fmt.Fprintf(w, "  url: %s\n", cfg.Server.URL)
	fmt.Fprintf(w, "  token: %s\n", map[bool]string{true: "(set)", false: "(none)"}[cfg.Server.Token != ""])
	fmt.Fprintf(w, "  root_dir: %s\n", cfg.Server.RootDir)
	fmt.Fprintf(w, "  local_launch: %t\n", cfg.Server.LocalLaunch)
	fmt.Fprintln(w, "Session:")
	fmt.Fprintf(w, "  launch_timeout: %s\n", cfg.Session.LaunchTimeout)
	fmt.Fprintf(w, "  idle_timeout: %s\n", cfg.Session.IdleTimeout)
	fmt.Fprintf(w, "  prewarm_restart: %t\n", cfg.Session.PrewarmRestart)
	fmt.Fprintln(w, "Variables:")
	fmt.Fprintf(w, "  exclude_types: %s\n", strings.Join(cfg.Variables.ExcludeTypes, ";"))
	fmt.Fprintf(w, "  page_size: %d\n", cfg.Variables.PageSize)
	fmt.Fprintf(w, "  refresh_debounce: %s\n", cfg.Variables.RefreshDebounce)
	fmt.Fprintln(w, "Dependencies:")
	fmt.Fprintf(w, "  auto_install: %t\n", cfg.Dependencies.AutoInstall)
	fmt.Fprintf(w, "  package: %s\n", cfg.Dependencies.Package)
	return nil
}

// ConfigPathCmd prints the config file location
type ConfigPathCmd struct{}

// Run executes config path
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]interface{}{
			"type":          "config_path",
			"schemaVersion": output.SchemaVersion,
			"path":          path,
			"found":         path != "",
		})
	}
	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found (searched .kbridge.yaml, .kbridge.yml, kbridge.yaml in cwd and home)")
		return nil
	}
	fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return nil
}

// ConfigGenerateCmd prints a sample configuration
type ConfigGenerateCmd struct{}

const sampleConfig = `# kbridge configuration file
# Save as .kbridge.yaml in your project or home directory

format: ndjson
level: warn

server:
  url: http://localhost:8888
  token: ""
  root_dir: ""
  local_launch: true

session:
  launch_timeout: 60s
  idle_timeout: 60s
  prewarm_restart: true

variables:
  exclude_types: [module, function, builtin_function_or_method, instance, _Feature, type, ufunc]
  page_size: 100
  refresh_debounce: 0s

dependencies:
  auto_install: false
  package: ipykernel

metrics:
  enabled: false
  endpoint: localhost:4317
  insecure: true
`

// Run executes config generate
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	_, err := fmt.Fprint(globals.Stdout, sampleConfig)
	return err
}
