// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package main

import (
	"errors"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/ioengine/ioengine/internal/sandbox"
	"github.com/ioengine/ioengine/internal/xdg"
)

// Default values for the shared flags.
const (
	defaultLogFormat = "text"
	defaultLogLevel  = "info"
)

// Config is the CLI configuration: the config file overlaid with flags.
type Config struct {
	LogFormat    string `koanf:"log-format" validate:"oneof=json text"`
	LogLevel     string `koanf:"log-level" validate:"oneof=debug info warn warning error"`
	PackagesDir  string `koanf:"packages-dir"`
	MetricsAddr  string `koanf:"metrics-addr" validate:"omitempty,hostname_port"`
	FullStdlib   bool   `koanf:"full-stdlib"`
	CompileCache int    `koanf:"compile-cache" validate:"gte=0"`
}

// validate is shared; building a validator caches struct metadata.
var validate = validator.New()

// addConfigFlags registers the flags that Config reads.
func addConfigFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "config file path (default: XDG_CONFIG_HOME/ioengine/config.yaml if present)")
	flags.String("log-format", defaultLogFormat, "log format (json or text)")
	flags.String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("packages-dir", "", "packages directory (default: XDG_DATA_HOME/ioengine/packages)")
	flags.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	flags.Bool("full-stdlib", false, "open the os and io Lua libraries (trusted code only)")
	flags.Int("compile-cache", sandbox.DefaultCacheSize, "number of compiled chunks to cache (0 = disabled)")
}

// loadConfig reads the config file named by --config, or the XDG default
// when it exists, then applies flags the user set explicitly.
func loadConfig(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, explicit, err := configPath(flags)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil || explicit {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.In("config").With("path", path).Wrapf(err, "load config file")
			}
		}
	}

	// Unchanged flags only fill keys the file did not set.
	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, oops.In("config").Wrapf(err, "load flags")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is valid.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return oops.In("config").
				With("field", fe.Field()).
				With("value", fe.Value()).
				Errorf("invalid configuration: %s fails %q", fe.Field(), fe.Tag())
		}
		return oops.In("config").Wrapf(err, "invalid configuration")
	}
	return nil
}

func configPath(flags *pflag.FlagSet) (path string, explicit bool, err error) {
	if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
		return f.Value.String(), true, nil
	}
	path, err = xdg.ConfigFile()
	if err != nil {
		return "", false, err
	}
	return path, false, nil
}

// packagesDir resolves the packages directory, falling back to the XDG default.
func (cfg *Config) packagesDir() (string, error) {
	if cfg.PackagesDir != "" {
		return cfg.PackagesDir, nil
	}
	return xdg.PackagesDir()
}
