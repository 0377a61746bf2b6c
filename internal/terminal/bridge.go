// Package terminal bridges a WebSocket connection to an interactive shell.
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"accesshub/internal/wsframe"
)

const (
	DefaultShell   = "/bin/bash"
	DefaultWorkDir = "/app"
	DefaultHome    = "/root"
	DefaultPrompt  = `\[\033[1;32m\]root@cloud\[\033[0m\]:\[\033[1;34m\]\w\[\033[0m\]$ `

	readSize = 4096

	resizePrefix = "\x1b[RESIZE:"
	resizeSuffix = "\x1b["
)

type Options struct {
	Shell   string
	WorkDir string // used only when it exists
	Home    string
	Prompt  string
	Start   StartFunc
	Logger  *zap.Logger
}

type Bridge struct {
	opts   Options
	logger *zap.Logger
}

func NewBridge(opts Options) *Bridge {
	if opts.Shell == "" {
		opts.Shell = DefaultShell
	}
	if opts.WorkDir == "" {
		opts.WorkDir = DefaultWorkDir
	}
	if opts.Home == "" {
		opts.Home = DefaultHome
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.Start == nil {
		opts.Start = StartPTY
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bridge{opts: opts, logger: opts.Logger.Named("terminal")}
}

func (b *Bridge) spec() Spec {
	dir := ""
	if st, err := os.Stat(b.opts.WorkDir); err == nil && st.IsDir() {
		dir = b.opts.WorkDir
	}
	env := append(os.Environ(),
		"TERM=xterm-256color",
		"PS1="+b.opts.Prompt,
		"HOME="+b.opts.Home,
		"LANG=en_US.UTF-8",
		"SHELL="+b.opts.Shell,
	)
	return Spec{Shell: b.opts.Shell, Dir: dir, Env: env, Cols: 80, Rows: 24}
}

// Serve runs one shell session over an upgraded connection. sock is closed
// when the session ends, whichever side ends it.
func (b *Bridge) Serve(ctx context.Context, conn *wsframe.Conn, sock io.Closer) error {
	proc, err := b.opts.Start(ctx, b.spec())
	if err != nil {
		sock.Close()
		return err
	}
	logger := b.logger.With(zap.Int("pid", proc.Pid()))
	logger.Info("shell started", zap.String("shell", b.opts.Shell))

	var (
		running  atomic.Bool
		once     sync.Once
		finished = make(chan struct{})
	)
	running.Store(true)
	teardown := func() {
		once.Do(func() {
			running.Store(false)
			if err := proc.Kill(); err != nil {
				logger.Debug("kill", zap.Error(err))
			}
			sock.Close()
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		defer teardown()
		return pumpOutput(proc, conn, &running)
	})
	go func() {
		select {
		case <-ctx.Done():
			teardown()
		case <-finished:
		}
	}()

	for running.Load() {
		op, payload, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, wsframe.ErrConnectionClosed) && running.Load() {
				logger.Debug("terminal read", zap.Error(err))
			}
			break
		}
		if op != wsframe.OpText && op != wsframe.OpBinary {
			continue
		}
		input := string(payload)
		if cols, rows, ok := parseResize(input, logger); ok {
			if cols > 0 {
				if err := proc.Resize(cols, rows); err != nil {
					logger.Debug("resize", zap.Error(err))
				}
			}
			continue
		}
		if _, err := io.WriteString(proc, input); err != nil {
			logger.Debug("shell input", zap.Error(err))
			break
		}
	}

	teardown()
	close(finished)
	if err := g.Wait(); err != nil {
		logger.Debug("output pump", zap.Error(err))
	}
	waitErr := proc.Wait()
	logger.Info("shell terminated", zap.NamedError("exit", waitErr))
	return nil
}

// pumpOutput forwards shell output as text frames. A multi-byte character
// split across reads is held back until its remaining bytes arrive.
func pumpOutput(proc io.Reader, conn *wsframe.Conn, running *atomic.Bool) error {
	buf := make([]byte, readSize)
	var carry []byte
	for running.Load() {
		n, err := proc.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			var complete []byte
			complete, carry = splitUTF8(data)
			carry = append([]byte(nil), carry...)
			if len(complete) > 0 {
				if werr := conn.WriteText(strings.ToValidUTF8(string(complete), "\uFFFD")); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO) || !running.Load() {
				return nil
			}
			return err
		}
	}
	return nil
}

// splitUTF8 separates a trailing incomplete UTF-8 sequence from b.
func splitUTF8(b []byte) (complete, tail []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}

type winsize struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// parseResize recognizes a resize control message. ok reports whether input
// was one; cols and rows are zero when its payload is unusable.
func parseResize(input string, logger *zap.Logger) (cols, rows uint16, ok bool) {
	if len(input) < len(resizePrefix)+len(resizeSuffix) ||
		!strings.HasPrefix(input, resizePrefix) || !strings.HasSuffix(input, resizeSuffix) {
		return 0, 0, false
	}
	raw := input[len(resizePrefix) : len(input)-len(resizeSuffix)]
	logger.Info("resize request", zap.String("size", raw))
	var ws winsize
	if err := json.Unmarshal([]byte(raw), &ws); err != nil || ws.Cols == 0 || ws.Rows == 0 {
		logger.Debug("malformed resize", zap.String("size", raw), zap.Error(err))
		return 0, 0, true
	}
	return ws.Cols, ws.Rows, true
}
