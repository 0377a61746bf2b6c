// Command accesshub serves a storage directory to the browser over
// WebSocket and HTTP, with an optional shell terminal.
//
// Usage:
//
//	accesshub serve [--config accesshub.yaml] [flags]
//	accesshub config [flags]
//	accesshub version
//
// Every flag can also be set through an ACCESSHUB_* environment variable.
// Variables missing from the environment are read from ./.env (or the file
// named by ACCESSHUB_ENV_FILE).
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"accesshub/internal/config"
	"accesshub/internal/httpserver"
	"accesshub/internal/logging"
	"accesshub/internal/server"
	"accesshub/internal/terminal"
)

// version is set via ldflags at build time.
var version = "dev"

const (
	exitConfig  = 2
	exitStartup = 3

	shutdownTimeout = 10 * time.Second
)

func main() {
	envFile := os.Getenv("ACCESSHUB_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "accesshub",
		Usage:          "Personal file hosting with a browser terminal",
		Version:        version,
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the server",
				Flags:  serverFlags(),
				Action: serveAction,
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration as YAML",
				Flags:  serverFlags(),
				Action: configAction,
			},
			{
				Name:  "version",
				Usage: "Show version information",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprintln(c.App.Writer, version)
					return err
				},
			},
		},
	}
}

// exitErrHandler preserves exit codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func configAction(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), exitConfig)
	}
	enc := yaml.NewEncoder(c.App.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func serveAction(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), exitConfig)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cli.Exit(fmt.Sprintf("logging: %v", err), exitConfig)
	}
	defer logger.Sync()

	srv, err := buildServer(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return cli.Exit("", exitStartup)
	}
	ln, err := listen(cfg)
	if err != nil {
		logger.Error("listen failed", zap.String("addr", cfg.Addr), zap.Error(err))
		return cli.Exit("", exitStartup)
	}
	logger.Info("accesshub starting",
		zap.String("version", version),
		zap.String("addr", cfg.Addr),
		zap.String("root", cfg.Root),
		zap.Bool("tls", cfg.TLS.Enabled()),
		zap.Bool("terminal", cfg.Terminal.Enabled))
	if !cfg.TLS.Enabled() {
		logger.Warn("serving plaintext; configure tls.cert_file and tls.key_file outside development")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		if !errors.Is(err, server.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			return cli.Exit("", 1)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	<-served
	return nil
}

func buildServer(cfg config.Config, logger *zap.Logger) (*server.Server, error) {
	files, err := httpserver.New(httpserver.Options{
		Root:              cfg.Root,
		WebDir:            cfg.WebDir,
		TempDir:           cfg.TempDir,
		ThumbCacheDir:     cfg.ThumbCacheDir,
		MaxUploadBytes:    int64(cfg.Limits.MaxUpload),
		CompressThreshold: int64(cfg.Limits.CompressThreshold),
		MaxArchiveJobs:    cfg.Limits.MaxArchiveJobs,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxConnections(cfg.Limits.MaxConnections),
		server.WithMaxFrameSize(int64(cfg.Limits.MaxFrame)),
		server.WithListChunkSize(cfg.Limits.ListChunk),
	}
	if cfg.Terminal.Enabled {
		opts = append(opts, server.WithTerminal(terminal.NewBridge(terminal.Options{
			Shell:   cfg.Terminal.Shell,
			WorkDir: cfg.Terminal.WorkDir,
			Home:    cfg.Terminal.Home,
			Prompt:  cfg.Terminal.Prompt,
			Logger:  logger,
		})))
	}
	return server.New(files, opts...)
}

func listen(cfg config.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled() {
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}
