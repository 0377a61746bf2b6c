// Package server accepts connections and hands each one to the file browser
// protocol, the terminal bridge or the HTTP transfer handlers.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"accesshub/internal/command"
	"accesshub/internal/httpserver"
	"accesshub/internal/httpwire"
	"accesshub/internal/sandbox"
	"accesshub/internal/terminal"
	"accesshub/internal/wsframe"
)

// TerminalPath prefixes the upgrade path of the terminal endpoint.
const TerminalPath = "/terminal-ws"

// ErrServerClosed is returned by Serve after a call to Shutdown.
var ErrServerClosed = errors.New("accesshub: server closed")

// Server owns the accept loop. Each connection runs in its own goroutine
// and shares nothing with the others except the storage directory.
type Server struct {
	files    *httpserver.Server
	terminal *terminal.Bridge
	logger   *zap.Logger

	maxConnections int
	maxFrame       int64
	listChunk      int

	// handlers are cancelled by Shutdown
	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	handlers   errgroup.Group
	inShutdown atomic.Bool
}

// New builds a dispatcher around the transfer handlers.
func New(files *httpserver.Server, options ...Option) (*Server, error) {
	if files == nil {
		return nil, errors.New("transfer handlers are required")
	}
	s := &Server{
		files:     files,
		logger:    zap.NewNop(),
		maxFrame:  wsframe.DefaultMaxPayload,
		listChunk: command.DefaultChunkSize,
		conns:     make(map[net.Conn]struct{}),
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Serve accepts connections on l until Shutdown. It always returns a
// non-nil error; after Shutdown that is ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	if s.maxConnections > 0 {
		l = netutil.LimitListener(l, s.maxConnections)
	}

	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	s.logger.Info("listening", zap.Stringer("addr", l.Addr()), zap.Int("max_connections", s.maxConnections))
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Debug("accept error", zap.Error(err))
			continue
		}
		if !s.trackConnection(conn) {
			conn.Close()
			continue
		}
	}
}

// trackConnection registers conn and starts its handler. It returns false
// once Shutdown has begun.
func (s *Server) trackConnection(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inShutdown.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.handlers.Go(func() error {
		defer s.untrack(conn)
		s.handleConnection(conn)
		return nil
	})
	return true
}

func (s *Server) untrack(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Shutdown stops accepting, closes every live connection and waits for the
// handlers to return or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.inShutdown.Store(true)
	ln := s.listener
	s.listener = nil
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.cancel()
	for conn := range conns {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	logger := s.logger.With(
		zap.String("conn_id", uuid.NewString()),
		zap.Stringer("remote", conn.RemoteAddr()),
	)
	br := bufio.NewReader(conn)
	req, err := httpwire.ReadRequest(br)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Debug("bad request head", zap.Error(err))
		}
		return
	}

	if !req.IsWebSocketUpgrade() {
		if err := s.files.ServeRequest(s.baseCtx, req, conn); err != nil {
			logger.Debug("response aborted", zap.Error(err))
		}
		return
	}

	isTerminal := strings.HasPrefix(req.Path, TerminalPath)
	if isTerminal && s.terminal == nil {
		logger.Debug("terminal disabled", zap.String("path", req.Path))
		return
	}
	handshake, err := wsframe.HandshakeResponse(req.Header.Get("sec-websocket-key"))
	if err != nil {
		logger.Debug("handshake rejected", zap.Error(err))
		return
	}
	if _, err := conn.Write(handshake); err != nil {
		logger.Debug("handshake write", zap.Error(err))
		return
	}
	ws := wsframe.NewConn(br, conn, s.maxFrame)

	if isTerminal {
		logger.Info("terminal session opened")
		if err := s.terminal.Serve(s.baseCtx, ws, conn); err != nil {
			logger.Warn("terminal session", zap.Error(err))
		}
		return
	}

	session, err := sandbox.New(s.files.Root())
	if err != nil {
		logger.Warn("sandbox session", zap.Error(err))
		return
	}
	logger.Info("file session opened", zap.String("path", req.Path))
	router := command.NewRouter(session, ws,
		command.WithChunkSize(s.listChunk),
		command.WithLogger(logger.Named("command")),
	)
	if err := router.Serve(s.baseCtx, ws); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("file session ended", zap.Error(err))
	}
	logger.Info("file session closed")
}
