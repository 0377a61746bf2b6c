package server

import (
	"fmt"

	"go.uber.org/zap"

	"accesshub/internal/terminal"
)

// Option is a functional option for configuring a Server.
type Option func(*Server) error

// WithLogger sets the logger. If not specified, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) error {
		if l == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = l
		return nil
	}
}

// WithTerminal enables the /terminal-ws endpoint. Without it, terminal
// upgrades are closed without a response.
func WithTerminal(b *terminal.Bridge) Option {
	return func(s *Server) error {
		s.terminal = b
		return nil
	}
}

// WithMaxConnections caps simultaneous connections. Connections over the cap
// wait in the accept queue. 0 means unlimited.
func WithMaxConnections(n int) Option {
	return func(s *Server) error {
		if n < 0 {
			return fmt.Errorf("max connections cannot be negative: %d", n)
		}
		s.maxConnections = n
		return nil
	}
}

// WithMaxFrameSize caps inbound WebSocket messages.
func WithMaxFrameSize(n int64) Option {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("max frame size must be positive: %d", n)
		}
		s.maxFrame = n
		return nil
	}
}

// WithListChunkSize sets how many entries each LIST_CHUNK message carries.
func WithListChunkSize(n int) Option {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("list chunk size must be positive: %d", n)
		}
		s.listChunk = n
		return nil
	}
}
