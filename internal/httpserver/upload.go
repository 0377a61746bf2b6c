package httpserver

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"accesshub/internal/fsutil"
	"accesshub/internal/httpwire"
	"accesshub/internal/upload"
)

// handleUpload serves PUT /upload?path=<path>. The body is read with the
// declared length only and lands under the final name after the last byte.
func (s *Server) handleUpload(res *response, req *httpwire.Request) error {
	rawPath, ok := req.Query()["path"]
	if !ok {
		return res.text(http.StatusBadRequest, "Missing path parameter")
	}
	declared := req.ContentLength()
	if declared < 0 {
		return res.header(http.StatusLengthRequired, textPlain, 0)
	}
	if declared > s.maxUpload {
		return res.text(http.StatusRequestEntityTooLarge, "Upload too large")
	}
	target, err := fsutil.ResolveStorage(s.root, rawPath, false)
	if err != nil {
		s.logger.Debug("upload path rejected", zap.String("path", rawPath), zap.Error(err))
		return res.text(http.StatusForbidden, "Invalid path")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		s.logger.Warn("upload parent", zap.String("target", target), zap.Error(err))
		return res.text(http.StatusInternalServerError, "Failed to create directories")
	}

	tx, err := upload.Begin(target, declared)
	if err != nil {
		s.logger.Warn("upload begin", zap.String("target", target), zap.Error(err))
		return res.text(http.StatusInternalServerError, "Cannot overwrite temp file")
	}
	defer tx.Abort()

	if _, err := tx.ReadFrom(req.Body); err != nil {
		s.logger.Warn("upload body",
			zap.String("target", target),
			zap.Int64("written", tx.Written),
			zap.Int64("declared", declared),
			zap.Error(err))
		if errors.Is(err, upload.ErrShortBody) {
			return res.text(http.StatusBadRequest, "Unexpected end of upload body")
		}
		return res.text(http.StatusInternalServerError, "Upload failed: "+err.Error())
	}
	if err := tx.Commit(); err != nil {
		s.logger.Warn("upload commit", zap.String("target", target), zap.Error(err))
		if errors.Is(err, upload.ErrReplace) {
			return res.text(http.StatusInternalServerError, "Failed to replace existing file")
		}
		return res.text(http.StatusInternalServerError, "Failed to finalize upload")
	}

	s.logger.Info("upload stored", zap.String("target", target), zap.Int64("bytes", declared))
	return res.text(http.StatusOK, "Uploaded")
}
