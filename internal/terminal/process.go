package terminal

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Process is a running shell attached to a terminal.
type Process interface {
	io.ReadWriter
	Resize(cols, rows uint16) error
	// Kill stops the process and releases the terminal; later reads fail.
	Kill() error
	Wait() error
	Pid() int
}

// Spec is everything needed to launch one shell.
type Spec struct {
	Shell string
	Dir   string
	Env   []string
	Cols  uint16
	Rows  uint16
}

// StartFunc launches a shell. It is swapped out in tests.
type StartFunc func(ctx context.Context, spec Spec) (Process, error)

// StartPTY runs spec.Shell on a new pseudo-terminal.
func StartPTY(_ context.Context, spec Spec) (Process, error) {
	cmd := exec.Command(spec.Shell)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: spec.Cols, Rows: spec.Rows})
	if err != nil {
		return nil, err
	}
	return &ptyProcess{cmd: cmd, file: f}, nil
}

type ptyProcess struct {
	cmd  *exec.Cmd
	file *os.File

	mu     sync.Mutex
	closed bool
}

func (p *ptyProcess) Read(b []byte) (int, error)  { return p.file.Read(b) }
func (p *ptyProcess) Write(b []byte) (int, error) { return p.file.Write(b) }
func (p *ptyProcess) Pid() int                    { return p.cmd.Process.Pid }

func (p *ptyProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return os.ErrClosed
	}
	return pty.Setsize(p.file, &pty.Winsize{Cols: cols, Rows: rows})
}

func (p *ptyProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.cmd.Process.Kill()
	return p.file.Close()
}

func (p *ptyProcess) Wait() error { return p.cmd.Wait() }
