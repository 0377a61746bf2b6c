// Package httpwire reads HTTP/1.1 request heads straight off a socket without
// consuming any body bytes.
package httpwire

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// MaxHeaderBytes caps the request line plus headers.
const MaxHeaderBytes = 32 << 10

var (
	ErrHeaderTooLarge   = errors.New("httpwire: header block too large")
	ErrIncompleteHeader = errors.New("httpwire: stream ended inside header block")
	ErrMalformedRequest = errors.New("httpwire: malformed request line")
)

// Header maps lower-cased header names to values.
type Header map[string]string

// Get looks a header up by name, ignoring case.
func (h Header) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Request is a parsed request head. Body is positioned at the first body byte.
type Request struct {
	Method   string
	Target   string // path plus query, as sent
	Path     string
	RawQuery string
	Proto    string
	Header   Header
	Body     io.Reader
}

// scanner states while looking for CRLF CRLF.
const (
	stateText = iota
	stateCR
	stateCRLF
	stateCRLFCR
	stateDone
)

// ReadRequest parses one request head from br. On success br is left exactly
// at the start of the body and is returned as Request.Body. An empty stream
// yields io.EOF.
func ReadRequest(br *bufio.Reader) (*Request, error) {
	head, err := readHead(br)
	if err != nil {
		return nil, err
	}
	text, err := charmap.ISO8859_1.NewDecoder().Bytes(head)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSuffix(string(text), "\r\n\r\n"), "\r\n")
	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrMalformedRequest
	}

	req := &Request{
		Method: parts[0],
		Target: parts[1],
		Proto:  parts[2],
		Header: make(Header, len(lines)-1),
		Body:   br,
	}
	req.Path, req.RawQuery, _ = strings.Cut(req.Target, "?")

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		req.Header[name] = strings.TrimSpace(value)
	}
	return req, nil
}

func readHead(br *bufio.Reader) ([]byte, error) {
	head := make([]byte, 0, 512)
	state := stateText
	for state != stateDone {
		if len(head) >= MaxHeaderBytes {
			return nil, ErrHeaderTooLarge
		}
		c, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(head) == 0 {
					return nil, io.EOF
				}
				return nil, ErrIncompleteHeader
			}
			return nil, err
		}
		head = append(head, c)

		switch {
		case c == '\r' && (state == stateText || state == stateCR):
			state = stateCR
		case c == '\r' && state == stateCRLF:
			state = stateCRLFCR
		case c == '\n' && state == stateCR:
			state = stateCRLF
		case c == '\n' && state == stateCRLFCR:
			state = stateDone
		case c == '\r':
			state = stateCR
		default:
			state = stateText
		}
	}
	return head, nil
}

// Query splits the raw query on '&' and '='. Values stay percent-encoded;
// pairs without a key or without '=' are skipped.
func (r *Request) Query() map[string]string {
	params := make(map[string]string)
	if r.RawQuery == "" {
		return params
	}
	for _, pair := range strings.Split(r.RawQuery, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			continue
		}
		params[k] = v
	}
	return params
}

// ContentLength returns the declared body length, or -1 when it is missing,
// malformed or negative.
func (r *Request) ContentLength() int64 {
	v, ok := r.Header["content-length"]
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// IsWebSocketUpgrade reports whether the client asked for a WebSocket upgrade.
func (r *Request) IsWebSocketUpgrade() bool {
	return strings.EqualFold(r.Header.Get("upgrade"), "websocket")
}
