// Package httpserver answers the plain HTTP requests of the dispatcher:
// downloads, archive downloads, streamed uploads, thumbnails and the static
// pages. Every reply is written straight to the socket with an exact length.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"accesshub/internal/fsutil"
	"accesshub/internal/httpwire"
)

const (
	DefaultMaxUploadBytes    = 2 << 30
	DefaultCompressThreshold = 3 << 30
	DefaultMaxArchiveJobs    = 2
)

type Options struct {
	Root              string // storage root, created when missing
	WebDir            string // static pages
	TempDir           string // archive staging; "" means os.TempDir()
	ThumbCacheDir     string // "" disables the thumbnail cache
	MaxUploadBytes    int64
	CompressThreshold int64
	MaxArchiveJobs    int
	Logger            *zap.Logger
}

type Server struct {
	root              string
	webDir            string
	tempDir           string
	thumbDir          string
	maxUpload         int64
	compressThreshold int64
	archiveSlots      *semaphore.Weighted
	logger            *zap.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Root == "" {
		return nil, errors.New("httpserver: root is required")
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	root, err := fsutil.Canonical(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("canonicalize root: %w", err)
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.ThumbCacheDir != "" {
		if err := os.MkdirAll(opts.ThumbCacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("create thumbnail cache: %w", err)
		}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.CompressThreshold <= 0 {
		opts.CompressThreshold = DefaultCompressThreshold
	}
	if opts.MaxArchiveJobs <= 0 {
		opts.MaxArchiveJobs = DefaultMaxArchiveJobs
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		root:              root,
		webDir:            opts.WebDir,
		tempDir:           opts.TempDir,
		thumbDir:          opts.ThumbCacheDir,
		maxUpload:         opts.MaxUploadBytes,
		compressThreshold: opts.CompressThreshold,
		archiveSlots:      semaphore.NewWeighted(int64(opts.MaxArchiveJobs)),
		logger:            opts.Logger.Named("http"),
	}, nil
}

// Root is the canonical storage root.
func (s *Server) Root() string { return s.root }

// ServeRequest writes exactly one response for req to w. The returned error
// reports socket or file I/O failures; HTTP-level failures are answered and
// yield nil.
func (s *Server) ServeRequest(ctx context.Context, req *httpwire.Request, w io.Writer) error {
	start := time.Now()
	res := newResponse(w)
	err := s.route(ctx, res, req)

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", res.status),
		zap.Int64("bytes", res.written),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		s.logger.Warn("request failed", append(fields, zap.Error(err))...)
		return err
	}
	s.logger.Info("request", fields...)
	return nil
}

func (s *Server) route(ctx context.Context, res *response, req *httpwire.Request) error {
	switch req.Method {
	case "GET":
		switch req.Path {
		case "/download":
			return s.handleDownload(res, req)
		case "/downloadFolder":
			return s.handleFolderDownload(ctx, res, req)
		case "/downloadZip":
			return s.handleZipDownload(ctx, res, req)
		case "/thumb":
			return s.handleThumb(res, req)
		case "/":
			return s.serveStatic(res, "index.html")
		case "/terminal":
			return s.serveStatic(res, "terminal.html")
		default:
			return s.serveStatic(res, strings.TrimPrefix(req.Path, "/"))
		}
	case "PUT":
		if req.Path == "/upload" {
			return s.handleUpload(res, req)
		}
		return res.text(http.StatusNotFound, "Unknown PUT route")
	default:
		return res.text(http.StatusMethodNotAllowed, "Unsupported method")
	}
}

// serveStatic sends a page from the web directory.
func (s *Server) serveStatic(res *response, name string) error {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, "\\\x00") {
		return res.text(http.StatusBadRequest, "Invalid file name")
	}
	f, err := os.Open(filepath.Join(s.webDir, filepath.FromSlash(name)))
	if err != nil {
		return res.text(http.StatusNotFound, "Not found")
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		return res.text(http.StatusNotFound, "Not found")
	}
	contentType := contentTypeForName(name)
	if contentType == "" {
		contentType = octetStream
	}
	if err := res.header(http.StatusOK, contentType, st.Size()); err != nil {
		return err
	}
	return res.stream(f, st.Size())
}
