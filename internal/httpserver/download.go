package httpserver

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"accesshub/internal/fsutil"
	"accesshub/internal/httpwire"
)

// handleDownload serves GET /download?name=<path>[&inline=true].
func (s *Server) handleDownload(res *response, req *httpwire.Request) error {
	params := req.Query()
	name, ok := params["name"]
	if !ok {
		return res.text(http.StatusBadRequest, "Missing name parameter")
	}
	target, err := fsutil.ResolveStorage(s.root, name, false)
	if err != nil {
		s.logger.Debug("download path rejected", zap.String("name", name), zap.Error(err))
		return res.text(http.StatusForbidden, "Invalid path")
	}
	f, err := os.Open(target)
	if err != nil {
		return res.text(http.StatusNotFound, "File not found")
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() {
		return res.text(http.StatusNotFound, "File not found")
	}

	contentType, kind := octetStream, "attachment"
	if strings.EqualFold(params["inline"], "true") {
		kind = "inline"
		if ct := contentTypeForName(st.Name()); ct != "" {
			contentType = ct
		}
	}
	if err := res.header(http.StatusOK, contentType, st.Size(), disposition(kind, st.Name())); err != nil {
		return err
	}
	return res.stream(f, st.Size())
}

// handleFolderDownload serves GET /downloadFolder?name=<path>. The empty
// path archives the whole storage root.
func (s *Server) handleFolderDownload(ctx context.Context, res *response, req *httpwire.Request) error {
	name, ok := req.Query()["name"]
	if !ok {
		return res.text(http.StatusBadRequest, "Missing name parameter")
	}
	folder, err := fsutil.ResolveStorage(s.root, name, true)
	if err != nil {
		s.logger.Debug("folder path rejected", zap.String("name", name), zap.Error(err))
		return res.text(http.StatusForbidden, "Invalid path")
	}
	if !fsutil.IsDir(folder) {
		return res.text(http.StatusNotFound, "Folder not found")
	}
	return s.sendArchive(ctx, res, folder, "folder_download_*.zip")
}

// handleZipDownload serves GET /downloadZip?name=<path>&type=<file|folder>.
// type is advisory; the filesystem decides how the target is packed.
func (s *Server) handleZipDownload(ctx context.Context, res *response, req *httpwire.Request) error {
	params := req.Query()
	name, ok := params["name"]
	if !ok {
		return res.text(http.StatusBadRequest, "Missing name parameter")
	}
	target, err := fsutil.ResolveStorage(s.root, name, true)
	if err != nil {
		s.logger.Debug("zip path rejected", zap.String("name", name), zap.Error(err))
		return res.text(http.StatusForbidden, "Invalid path")
	}
	st, err := os.Stat(target)
	if err != nil {
		return res.text(http.StatusNotFound, "File or folder not found")
	}
	if kind := params["type"]; kind != "" && (kind == "folder") != st.IsDir() {
		s.logger.Debug("zip type does not match target", zap.String("type", kind), zap.Bool("dir", st.IsDir()))
	}
	return s.sendArchive(ctx, res, target, "zip_download_*.zip")
}

// sendArchive builds the archive into a temp file, then streams it with an
// exact length. The temp file is removed on every path.
func (s *Server) sendArchive(ctx context.Context, res *response, source, pattern string) error {
	if err := s.archiveSlots.Acquire(ctx, 1); err != nil {
		return res.text(http.StatusServiceUnavailable, "Server busy")
	}
	defer s.archiveSlots.Release(1)

	job := archiveJob{source: source}
	st, err := os.Stat(source)
	if err != nil {
		return res.text(http.StatusNotFound, "File or folder not found")
	}
	size := st.Size()
	if st.IsDir() {
		if size, err = s.walker().DirSize(source); err != nil {
			s.logger.Warn("folder size failed", zap.String("path", source), zap.Error(err))
			return res.text(http.StatusInternalServerError, "Failed to build archive")
		}
	}
	job.compress = size >= s.compressThreshold

	tmp, zipSize, err := s.archiveToTemp(ctx, job, pattern)
	if err != nil {
		s.logger.Warn("archive build failed", zap.String("path", source), zap.Error(err))
		return res.text(http.StatusInternalServerError, "Failed to build archive")
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	s.logger.Info("archive ready",
		zap.String("path", source),
		zap.Int64("source_bytes", size),
		zap.Bool("compressed", job.compress),
		zap.Int64("zip_bytes", zipSize))

	zipName := filepath.Base(source) + ".zip"
	if err := res.header(http.StatusOK, "application/zip", zipSize, disposition("attachment", zipName)); err != nil {
		return err
	}
	return res.stream(tmp, zipSize)
}
