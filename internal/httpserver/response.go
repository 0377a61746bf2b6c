package httpserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// IOBufferSize is used for every file and socket copy.
const IOBufferSize = 128 << 10

const textPlain = "text/plain; charset=UTF-8"

var errShortSource = errors.New("source ended before its declared length")

// response writes one HTTP/1.1 reply. Every reply carries Connection: close
// and an exact Content-Length; nothing is chunked.
type response struct {
	w       *bufio.Writer
	status  int
	written int64
}

func newResponse(w io.Writer) *response {
	return &response{w: bufio.NewWriterSize(w, IOBufferSize)}
}

// header writes the status line and headers. extra holds complete
// "Name: value" lines.
func (r *response) header(code int, contentType string, length int64, extra ...string) error {
	r.status = code
	fmt.Fprintf(r.w, "HTTP/1.1 %d %s\r\n", code, http.StatusText(code))
	r.w.WriteString("Connection: close\r\n")
	if contentType != "" {
		r.w.WriteString("Content-Type: " + contentType + "\r\n")
	}
	r.w.WriteString("Content-Length: " + strconv.FormatInt(length, 10) + "\r\n")
	for _, h := range extra {
		r.w.WriteString(h + "\r\n")
	}
	r.w.WriteString("\r\n")
	return r.w.Flush()
}

// text sends a short plain-text reply.
func (r *response) text(code int, body string) error {
	if err := r.header(code, textPlain, int64(len(body))); err != nil {
		return err
	}
	n, _ := r.w.WriteString(body)
	r.written += int64(n)
	return r.w.Flush()
}

// stream copies exactly n bytes of src as the body.
func (r *response) stream(src io.Reader, n int64) error {
	copied, err := io.CopyBuffer(r.w, io.LimitReader(src, n), make([]byte, IOBufferSize))
	r.written += copied
	if err != nil {
		return err
	}
	if copied != n {
		return fmt.Errorf("%w: %d of %d bytes", errShortSource, copied, n)
	}
	return r.w.Flush()
}

func disposition(kind, filename string) string {
	return fmt.Sprintf("Content-Disposition: %s; filename=%q", kind, filename)
}
