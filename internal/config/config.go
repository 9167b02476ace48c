// Package config resolves server settings from flags, IFACELSP_*
// environment variables and an optional config file, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ifacelsp/internal/iface"
)

const (
	// AppName names the config directory and the environment prefix.
	AppName = "ifacelsp"
	// ConfigFileName is the config file name without extension.
	ConfigFileName = "config"
	// EnvPrefix prefixes environment overrides, e.g. IFACELSP_MAX_INFLIGHT.
	EnvPrefix = "IFACELSP"
)

// Config holds the resolved settings for the interface server.
type Config struct {
	InterfacesDir  string        `mapstructure:"interfaces-dir"`
	InterfaceExt   string        `mapstructure:"interface-ext"`
	BackendCommand string        `mapstructure:"backend-command"`
	BackendArgs    []string      `mapstructure:"backend-args"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown-grace"`
	MaxInflight    int64         `mapstructure:"max-inflight"`
	WatchManifests bool          `mapstructure:"watch-manifests"`
	LogLevel       string        `mapstructure:"log-level"`
	Trace          bool          `mapstructure:"trace"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		InterfacesDir:  iface.DefaultDir(),
		InterfaceExt:   iface.DefaultExt,
		ShutdownGrace:  2 * time.Second,
		WatchManifests: true,
		LogLevel:       "info",
	}
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("interfaces-dir", d.InterfacesDir)
	v.SetDefault("interface-ext", d.InterfaceExt)
	v.SetDefault("backend-command", d.BackendCommand)
	v.SetDefault("backend-args", []string{})
	v.SetDefault("shutdown-grace", d.ShutdownGrace)
	v.SetDefault("max-inflight", d.MaxInflight)
	v.SetDefault("watch-manifests", d.WatchManifests)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("trace", d.Trace)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags declares the flags understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "config file (default $XDG_CONFIG_HOME/ifacelsp/config.toml)")
	fs.String("interfaces-dir", d.InterfacesDir, "directory generated interfaces are written to")
	fs.String("interface-ext", d.InterfaceExt, "file extension of generated interfaces")
	fs.String("backend-command", "", "analysis backend executable")
	fs.StringSlice("backend-args", nil, "arguments passed to the backend executable")
	fs.Duration("shutdown-grace", d.ShutdownGrace, "time the backend gets to exit before it is killed")
	fs.Int64("max-inflight", 0, "maximum concurrent backend requests (0 = unbounded)")
	fs.Bool("watch-manifests", d.WatchManifests, "reload ifacelsp.toml manifests when they change")
	fs.String("log-level", d.LogLevel, "log level (debug|info|warn|error)")
	fs.Bool("trace", false, "log per-request timings")
}

// Load merges flags, environment and the config file into a Config.
// Only flags that were set on the command line override other sources.
func Load(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(f.Name, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	path := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	file, err := readConfigFile(v, path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.File = file
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, path string) (string, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", path, err)
		}
		return v.ConfigFileUsed(), nil
	}
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, AppName))
	}
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.InterfacesDir) == "" {
		return errors.New("interfaces-dir must not be empty")
	}
	if strings.Trim(c.InterfaceExt, ". ") == "" {
		return errors.New("interface-ext must not be empty")
	}
	if strings.ContainsAny(c.InterfaceExt, `/\`) {
		return fmt.Errorf("interface-ext %q must not contain path separators", c.InterfaceExt)
	}
	if c.MaxInflight < 0 {
		return fmt.Errorf("max-inflight must be >= 0, got %d", c.MaxInflight)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown-grace must be >= 0, got %s", c.ShutdownGrace)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	return nil
}
