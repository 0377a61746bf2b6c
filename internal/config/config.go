// Package config loads the server configuration from a YAML file, with
// environment expansion and a local .env fallback.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"accesshub/internal/terminal"
)

// Config is the complete server configuration. Zero values are filled in
// by Default before a file is applied.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr"`

	// Root is the storage directory every file session is confined to.
	// Created when missing.
	Root string `yaml:"root"`

	// WebDir holds index.html, terminal.html and their assets.
	WebDir string `yaml:"web_dir"`

	// TempDir receives archive builds. Empty means the OS temp dir.
	TempDir string `yaml:"temp_dir"`

	// ThumbCacheDir stores generated thumbnails. Empty disables the cache.
	ThumbCacheDir string `yaml:"thumb_cache_dir"`

	TLS      TLS      `yaml:"tls"`
	Limits   Limits   `yaml:"limits"`
	Terminal Terminal `yaml:"terminal"`
	Log      Log      `yaml:"log"`
}

// TLS names a PEM certificate and key. Both empty serves plaintext.
type TLS struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

func (t TLS) Enabled() bool { return t.CertFile != "" || t.KeyFile != "" }

type Limits struct {
	MaxUpload         ByteSize `yaml:"max_upload"`
	CompressThreshold ByteSize `yaml:"compress_threshold"`
	MaxFrame          ByteSize `yaml:"max_frame"`
	ListChunk         int      `yaml:"list_chunk"`
	// MaxConnections of 0 is unlimited.
	MaxConnections int `yaml:"max_connections"`
	MaxArchiveJobs int `yaml:"max_archive_jobs"`
}

type Terminal struct {
	Enabled bool   `yaml:"enabled"`
	Shell   string `yaml:"shell"`
	WorkDir string `yaml:"work_dir"`
	Home    string `yaml:"home"`
	Prompt  string `yaml:"prompt"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:   "0.0.0.0:8080",
		Root:   "cloudStorage",
		WebDir: "web",
		Limits: Limits{
			MaxUpload:         2 * GiB,
			CompressThreshold: 3 * GiB,
			MaxFrame:          16 * MiB,
			ListChunk:         30,
			MaxArchiveJobs:    2,
		},
		Terminal: Terminal{
			Enabled: true,
			Shell:   terminal.DefaultShell,
			WorkDir: terminal.DefaultWorkDir,
			Home:    terminal.DefaultHome,
			Prompt:  terminal.DefaultPrompt,
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("root is required"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	for name, v := range map[string]ByteSize{
		"limits.max_upload":         c.Limits.MaxUpload,
		"limits.compress_threshold": c.Limits.CompressThreshold,
		"limits.max_frame":          c.Limits.MaxFrame,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Limits.ListChunk <= 0 {
		errs = append(errs, errors.New("limits.list_chunk must be positive"))
	}
	if c.Limits.MaxArchiveJobs <= 0 {
		errs = append(errs, errors.New("limits.max_archive_jobs must be positive"))
	}
	if c.Limits.MaxConnections < 0 {
		errs = append(errs, errors.New("limits.max_connections cannot be negative"))
	}
	if c.Terminal.Enabled && c.Terminal.Shell == "" {
		errs = append(errs, errors.New("terminal.shell is required when the terminal is enabled"))
	}
	return errors.Join(errs...)
}

// LoadDotEnv reads KEY=VALUE lines from path and sets each variable that is
// unset or blank in the environment. A missing file is not an error.
func LoadDotEnv(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	set := 0
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return set, fmt.Errorf("%s:%d: expected KEY=VALUE", path, i+1)
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		if strings.TrimSpace(os.Getenv(key)) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return set, err
		}
		set++
	}
	return set, nil
}
