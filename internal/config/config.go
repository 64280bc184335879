package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Level   string `mapstructure:"level"`
	Quiet   bool   `mapstructure:"quiet"`
	Verbose bool   `mapstructure:"verbose"`

	Server       ServerConfig       `mapstructure:"server"`
	Session      SessionConfig      `mapstructure:"session"`
	Variables    VariablesConfig    `mapstructure:"variables"`
	Dependencies DependenciesConfig `mapstructure:"dependencies"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig describes the Jupyter server sessions are created on
type ServerConfig struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	RootDir     string `mapstructure:"root_dir"`
	LocalLaunch bool   `mapstructure:"local_launch"`
}

// SessionConfig holds session lifecycle timeouts
type SessionConfig struct {
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	PrewarmRestart bool          `mapstructure:"prewarm_restart"`
}

// VariablesConfig holds variable explorer settings
type VariablesConfig struct {
	ExcludeTypes    []string      `mapstructure:"exclude_types"`
	PageSize        int           `mapstructure:"page_size"`
	RefreshDebounce time.Duration `mapstructure:"refresh_debounce"`
}

// DependenciesConfig controls kernel dependency installation
type DependenciesConfig struct {
	AutoInstall bool   `mapstructure:"auto_install"`
	Package     string `mapstructure:"package"`
}

// MetricsConfig controls the OTLP metrics exporter
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// DefaultExcludeTypes are variable types hidden from the variable explorer
var DefaultExcludeTypes = []string{
	"module",
	"function",
	"builtin_function_or_method",
	"instance",
	"_Feature",
	"type",
	"ufunc",
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "ndjson",
		Level:   "warn",
		Quiet:   false,
		Verbose: false,
		Server: ServerConfig{
			URL:         "http://localhost:8888",
			LocalLaunch: true,
		},
		Session: SessionConfig{
			LaunchTimeout:  60 * time.Second,
			IdleTimeout:    60 * time.Second,
			PrewarmRestart: true,
		},
		Variables: VariablesConfig{
			ExcludeTypes: append([]string(nil), DefaultExcludeTypes...),
			PageSize:     100,
		},
		Dependencies: DependenciesConfig{
			Package: "ipykernel",
		},
	}
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")

	// Search paths, lowest precedence first
	v.AddConfigPath("/etc/kbridge/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "kbridge"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")

	if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kbridge")
	}

	v.SetEnvPrefix("KBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("format", "KBRIDGE_FORMAT")
	v.BindEnv("level", "KBRIDGE_LEVEL")
	v.BindEnv("quiet", "KBRIDGE_QUIET")
	v.BindEnv("verbose", "KBRIDGE_VERBOSE")
	v.BindEnv("server.url", "KBRIDGE_SERVER_URL", "JUPYTER_SERVER_URL")
	v.BindEnv("server.token", "KBRIDGE_SERVER_TOKEN", "JUPYTER_TOKEN")

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	setDefaults(v, cfg)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFile returns the path to the config file that would be loaded
func ConfigFile() string {
	return findConfigFile()
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("format", cfg.Format)
	v.SetDefault("level", cfg.Level)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("server.url", cfg.Server.URL)
	v.SetDefault("server.local_launch", cfg.Server.LocalLaunch)
	v.SetDefault("session.launch_timeout", cfg.Session.LaunchTimeout)
	v.SetDefault("session.idle_timeout", cfg.Session.IdleTimeout)
	v.SetDefault("session.prewarm_restart", cfg.Session.PrewarmRestart)
	v.SetDefault("variables.exclude_types", cfg.Variables.ExcludeTypes)
	v.SetDefault("variables.page_size", cfg.Variables.PageSize)
	v.SetDefault("dependencies.package", cfg.Dependencies.Package)
}

// findConfigFile looks for .kbridge.yaml / .kbridge.yml / kbridge.yaml in the
// current directory, then the home directory.
func findConfigFile() string {
	names := []string{".kbridge.yaml", ".kbridge.yml", "kbridge.yaml"}
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}
	for _, dir := range dirs {
		for _, name := range names {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
		}
	}
	return ""
}
