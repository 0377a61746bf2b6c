// Package command runs the file browser's text protocol over a WebSocket.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"accesshub/internal/sandbox"
	"accesshub/internal/wsframe"
)

// DefaultChunkSize is the number of listing entries per LIST_CHUNK message.
const DefaultChunkSize = 30

// Sender delivers one protocol message to the client.
type Sender interface {
	WriteText(s string) error
}

// Router interprets commands for one connection against its session.
// Replies are written in command order.
type Router struct {
	session *sandbox.Session
	out     Sender
	chunk   int
	logger  *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithChunkSize sets the ls batch size.
func WithChunkSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.chunk = n
		}
	}
}

// WithLogger sets the router's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRouter(session *sandbox.Session, out Sender, opts ...Option) *Router {
	r := &Router{
		session: session,
		out:     out,
		chunk:   DefaultChunkSize,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type handlerFunc func(r *Router, arg string) error

var commandHandlers map[string]handlerFunc

func init() {
	commandHandlers = map[string]handlerFunc{
		"ls":      (*Router).handleLs,
		"pwd":     (*Router).handlePwd,
		"cd":      (*Router).handleCd,
		"mkdir":   (*Router).handleMkdir,
		"rm":      (*Router).handleRm,
		"undo":    (*Router).handleUndo,
		"rename":  (*Router).handleRename,
		"goto":    (*Router).handleGoto,
		"suggest": (*Router).handleSuggest,
	}
}

// Serve reads commands from conn until the client closes, the stream fails
// or ctx is cancelled. A clean close returns nil.
func (r *Router) Serve(ctx context.Context, conn *wsframe.Conn) error {
	for ctx.Err() == nil {
		op, payload, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, wsframe.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		switch op {
		case wsframe.OpText, wsframe.OpBinary:
		default:
			r.logger.Debug("control frame ignored", zap.Stringer("opcode", op))
			continue
		}
		if err := r.Handle(string(payload)); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Handle runs a single command line. The returned error is a delivery
// failure; command failures are reported to the client as ERR messages.
func (r *Router) Handle(line string) (err error) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	verb = strings.ToLower(verb)

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("command panicked", zap.String("verb", verb), zap.Any("panic", p))
			err = r.out.WriteText(fmt.Sprintf("ERR: %v", p))
		}
	}()

	h, ok := commandHandlers[verb]
	if !ok {
		return r.out.WriteText("ERR: Unknown command")
	}
	r.logger.Debug("command", zap.String("verb", verb), zap.String("arg", arg))
	return h(r, arg)
}

func (r *Router) reply(err error, failure string) error {
	if err != nil {
		r.logger.Debug("command failed", zap.String("reply", failure), zap.Error(err))
		return r.out.WriteText(failure)
	}
	return r.out.WriteText("RES: OK")
}

// handleLs streams the cwd as LIST_CHUNK messages followed by LIST_END.
func (r *Router) handleLs(string) error {
	var sendErr error
	total, err := r.session.List(r.chunk, func(entries []sandbox.Entry) error {
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[i] = e.String()
		}
		sendErr = r.out.WriteText("LIST_CHUNK: " + strings.Join(lines, "\n"))
		return sendErr
	})
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		if total > 0 {
			// the client is mid-listing; close it out before reporting
			if werr := r.out.WriteText(fmt.Sprintf("LIST_END: %d", total)); werr != nil {
				return werr
			}
		}
		return r.out.WriteText("ERR: " + err.Error())
	}
	if total == 0 {
		return r.out.WriteText("LIST: (empty directory)")
	}
	return r.out.WriteText(fmt.Sprintf("LIST_END: %d", total))
}

func (r *Router) handlePwd(string) error {
	return r.out.WriteText("PATH: " + r.session.Pwd())
}

func (r *Router) handleCd(arg string) error {
	return r.reply(r.session.Cd(arg), "ERR: Directory not found")
}

func (r *Router) handleMkdir(arg string) error {
	return r.reply(r.session.Mkdir(arg), "ERR: Creation failed")
}

func (r *Router) handleRm(arg string) error {
	return r.reply(r.session.Rm(arg), "ERR: Deletion failed")
}

func (r *Router) handleUndo(string) error {
	return r.reply(r.session.Undo(), "ERR: No history")
}

// handleRename expects "old<TAB>new" so both names may contain spaces.
func (r *Router) handleRename(arg string) error {
	names := strings.Split(strings.TrimSpace(arg), "\t")
	if len(names) != 2 {
		return r.out.WriteText("ERR: Usage: rename oldName<TAB>newName")
	}
	err := r.session.Rename(strings.TrimSpace(names[0]), strings.TrimSpace(names[1]))
	return r.reply(err, "ERR: Rename failed")
}

func (r *Router) handleGoto(arg string) error {
	if arg == "" {
		arg = "/"
	}
	return r.reply(r.session.Goto(arg), "ERR: Invalid path")
}

// handleSuggest completes the last segment of a typed path against the
// directories of cwd, case-insensitively.
func (r *Router) handleSuggest(arg string) error {
	if arg == "" {
		return r.out.WriteText("SUGGEST: ")
	}
	query := strings.ToLower(arg)
	if i := strings.LastIndex(query, "/"); i >= 0 {
		query = query[i+1:]
	}
	dirs, err := r.session.Subdirs()
	if err != nil {
		r.logger.Debug("suggest listing failed", zap.Error(err))
	}
	var b strings.Builder
	b.WriteString("SUGGEST: ")
	for _, d := range dirs {
		if strings.HasPrefix(strings.ToLower(d), query) {
			b.WriteString(d)
			b.WriteByte('|')
		}
	}
	return r.out.WriteText(b.String())
}
