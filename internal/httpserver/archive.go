package httpserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"accesshub/internal/fsutil"
)

// archiveJob describes one ZIP build. Compression is decided up front from
// the total size and never changes while writing.
type archiveJob struct {
	source   string
	compress bool
}

// buildArchive writes the job's source into dst. A directory becomes a
// tree of entries under its base name with trailing-slash directory
// entries; a file becomes a single entry.
func (s *Server) buildArchive(ctx context.Context, job archiveJob, dst io.Writer) error {
	bw := bufio.NewWriterSize(dst, IOBufferSize)
	zw := zip.NewWriter(bw)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	method := zip.Store
	if job.compress {
		method = zip.Deflate
	}
	base := sanitizeZipPath(filepath.Base(job.source))
	if base == "" {
		base = "download"
	}

	st, err := os.Stat(job.source)
	if err != nil {
		return err
	}
	if st.IsDir() {
		if _, err := zw.CreateHeader(&zip.FileHeader{Name: base + "/", Method: zip.Store, Modified: st.ModTime()}); err != nil {
			return err
		}
		err = s.walker().Walk(job.source, func(abs, rel string, info fs.FileInfo) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := path.Join(base, rel)
			if info.IsDir() {
				_, err := zw.CreateHeader(&zip.FileHeader{
					Name:     name + "/",
					Method:   zip.Store,
					Modified: info.ModTime(),
				})
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			return addFile(zw, abs, name, method, info)
		})
	} else {
		err = addFile(zw, job.source, base, method, st)
	}
	if err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

func addFile(zw *zip.Writer, abs, name string, method uint16, info fs.FileInfo) error {
	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()

	h := &zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: info.ModTime(),
	}
	h.SetMode(info.Mode())
	w, err := zw.CreateHeader(h)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(w, f, make([]byte, IOBufferSize)); err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	return nil
}

// archiveToTemp builds the job into a fresh temp file and returns it open
// and rewound, with its size. The caller closes and removes it.
func (s *Server) archiveToTemp(ctx context.Context, job archiveJob, pattern string) (*os.File, int64, error) {
	tmp, err := os.CreateTemp(s.tempDir, pattern)
	if err != nil {
		return nil, 0, err
	}
	fail := func(err error) (*os.File, int64, error) {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, err
	}
	if err := s.buildArchive(ctx, job, tmp); err != nil {
		return fail(err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return fail(err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}
	return tmp, size, nil
}

// walker skips unreadable subdirectories so one locked folder does not fail
// the whole download.
func (s *Server) walker() fsutil.Walker {
	return fsutil.Walker{
		Root: s.root,
		OnSkip: func(abs string, err error) {
			s.logger.Warn("skipping unreadable directory", zap.String("path", abs), zap.Error(err))
		},
	}
}

func sanitizeZipPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	p = strings.ReplaceAll(p, "\x00", "")
	p = strings.Trim(p, "/")
	if p == "." || p == "" {
		return ""
	}
	return p
}
