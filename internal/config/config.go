// Package config loads the sandboxd configuration from an optional
// YAML file merged with SANDBOXD_* environment variables. Every key
// has a working default; a bare `sandboxd serve` needs nothing but a
// reachable Docker daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type StorageConfig struct {
	// Root is the directory under which per-job workspaces live.
	Root string `mapstructure:"root"`
	// OwnerUID/OwnerGID, when >= 0, make the store chown everything it
	// creates. Used when sandboxd runs as root over a user-owned root.
	OwnerUID int `mapstructure:"owner_uid"`
	OwnerGID int `mapstructure:"owner_gid"`
}

type DockerConfig struct {
	// Host overrides DOCKER_HOST; empty means the SDK's environment
	// defaults.
	Host         string `mapstructure:"host"`
	CodeImage    string `mapstructure:"code_image"`
	ConvertImage string `mapstructure:"convert_image"`
}

type ExecConfig struct {
	MaxConcurrent         int `mapstructure:"max_concurrent"`
	MaxInlineOutputBytes  int `mapstructure:"max_inline_output_bytes"`
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Exec    ExecConfig    `mapstructure:"exec"`
	Log     LogConfig     `mapstructure:"log"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load reads sandboxd.yaml from path (or the default search locations
// when path is empty), applies SANDBOXD_* environment overrides, and
// fills in defaults. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sandboxd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sandboxd")
	}

	v.SetEnvPrefix("SANDBOXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8222)
	v.SetDefault("storage.root", filepath.Join(os.Getenv("HOME"), ".sandboxd", "workspaces"))
	v.SetDefault("storage.owner_uid", -1)
	v.SetDefault("storage.owner_gid", -1)
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.code_image", "python:3.12-slim")
	v.SetDefault("docker.convert_image", "pandoc/extra:latest")
	v.SetDefault("exec.max_concurrent", 8)
	v.SetDefault("exec.max_inline_output_bytes", 10*1024)
	v.SetDefault("exec.default_timeout_seconds", 30)
	v.SetDefault("log.level", "info")
}
