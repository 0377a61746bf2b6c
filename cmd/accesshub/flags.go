package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"accesshub/internal/config"
)

func envVar(name string) []string { return []string{"ACCESSHUB_" + name} }

// serverFlags is shared by serve and config so both see the same effective
// configuration.
func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: envVar("CONFIG")},
		&cli.StringFlag{Name: "addr", Usage: "listen address", EnvVars: envVar("ADDR")},
		&cli.StringFlag{Name: "root", Usage: "storage root", EnvVars: envVar("ROOT")},
		&cli.StringFlag{Name: "web-dir", Usage: "static page directory", EnvVars: envVar("WEB_DIR")},
		&cli.StringFlag{Name: "temp-dir", Usage: "archive staging directory", EnvVars: envVar("TEMP_DIR")},
		&cli.StringFlag{Name: "thumb-cache-dir", Usage: "thumbnail cache directory (empty disables)", EnvVars: envVar("THUMB_CACHE_DIR")},
		&cli.StringFlag{Name: "tls-cert", Usage: "PEM certificate", EnvVars: envVar("TLS_CERT")},
		&cli.StringFlag{Name: "tls-key", Usage: "PEM private key", EnvVars: envVar("TLS_KEY")},
		&cli.StringFlag{Name: "max-upload", Usage: "largest accepted upload, e.g. 2GiB", EnvVars: envVar("MAX_UPLOAD")},
		&cli.StringFlag{Name: "compress-threshold", Usage: "archives at or above this size are deflated", EnvVars: envVar("COMPRESS_THRESHOLD")},
		&cli.StringFlag{Name: "max-frame", Usage: "largest inbound WebSocket message", EnvVars: envVar("MAX_FRAME")},
		&cli.IntFlag{Name: "list-chunk", Usage: "entries per LIST_CHUNK message", EnvVars: envVar("LIST_CHUNK")},
		&cli.IntFlag{Name: "max-connections", Usage: "concurrent connection cap (0 = unlimited)", EnvVars: envVar("MAX_CONNECTIONS")},
		&cli.IntFlag{Name: "max-archive-jobs", Usage: "concurrent archive builds", EnvVars: envVar("MAX_ARCHIVE_JOBS")},
		&cli.BoolFlag{Name: "terminal", Usage: "serve the /terminal-ws shell", EnvVars: envVar("TERMINAL")},
		&cli.StringFlag{Name: "shell", Usage: "terminal shell", EnvVars: envVar("SHELL")},
		&cli.StringFlag{Name: "work-dir", Usage: "terminal working directory", EnvVars: envVar("WORK_DIR")},
		&cli.StringFlag{Name: "home", Usage: "HOME of the terminal shell", EnvVars: envVar("HOME")},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: envVar("LOG_LEVEL")},
		&cli.StringFlag{Name: "log-format", Usage: "json or console", EnvVars: envVar("LOG_FORMAT")},
	}
}

// resolveConfig layers defaults, the config file and explicitly set flags or
// environment variables, in that order.
func resolveConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	strs := map[string]*string{
		"addr":            &cfg.Addr,
		"root":            &cfg.Root,
		"web-dir":         &cfg.WebDir,
		"temp-dir":        &cfg.TempDir,
		"thumb-cache-dir": &cfg.ThumbCacheDir,
		"tls-cert":        &cfg.TLS.CertFile,
		"tls-key":         &cfg.TLS.KeyFile,
		"shell":           &cfg.Terminal.Shell,
		"work-dir":        &cfg.Terminal.WorkDir,
		"home":            &cfg.Terminal.Home,
		"log-level":       &cfg.Log.Level,
		"log-format":      &cfg.Log.Format,
	}
	for name, dst := range strs {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}

	sizes := map[string]*config.ByteSize{
		"max-upload":         &cfg.Limits.MaxUpload,
		"compress-threshold": &cfg.Limits.CompressThreshold,
		"max-frame":          &cfg.Limits.MaxFrame,
	}
	for name, dst := range sizes {
		if !c.IsSet(name) {
			continue
		}
		if err := dst.Set(c.String(name)); err != nil {
			return cfg, fmt.Errorf("--%s: %w", name, err)
		}
	}

	ints := map[string]*int{
		"list-chunk":       &cfg.Limits.ListChunk,
		"max-connections":  &cfg.Limits.MaxConnections,
		"max-archive-jobs": &cfg.Limits.MaxArchiveJobs,
	}
	for name, dst := range ints {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	if c.IsSet("terminal") {
		cfg.Terminal.Enabled = c.Bool("terminal")
	}

	return cfg, cfg.Validate()
}
