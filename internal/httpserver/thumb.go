package httpserver

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	// decoders
	_ "image/gif"
	_ "image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"accesshub/internal/fsutil"
	"accesshub/internal/httpwire"
)

const (
	defaultThumbSize = 256
	maxThumbSize     = 1024
	thumbQuality     = 82
)

// handleThumb serves GET /thumb?name=<path>&size=<px>.
func (s *Server) handleThumb(res *response, req *httpwire.Request) error {
	params := req.Query()
	name, ok := params["name"]
	if !ok {
		return res.text(http.StatusBadRequest, "Missing name parameter")
	}
	size := thumbSize(params["size"])
	abs, err := fsutil.ResolveStorage(s.root, name, false)
	if err != nil {
		return res.text(http.StatusForbidden, "Invalid path")
	}
	st, err := os.Stat(abs)
	if err != nil || !st.Mode().IsRegular() || !isImageExt(abs) {
		return res.text(http.StatusNotFound, "File not found")
	}

	cached := ""
	if s.thumbDir != "" {
		h := fnv.New64a()
		h.Write([]byte(abs))
		cached = filepath.Join(s.thumbDir, fmt.Sprintf("%016x-%d-%d.jpg", h.Sum64(), size, st.ModTime().Unix()))
		if b, err := os.ReadFile(cached); err == nil {
			return s.sendThumb(res, b)
		}
	}
	b, err := makeThumb(abs, size)
	if err != nil {
		s.logger.Debug("thumbnail failed", zap.String("path", abs), zap.Error(err))
		return res.text(http.StatusNotFound, "File not found")
	}
	if cached != "" {
		if err := os.WriteFile(cached, b, 0o644); err != nil {
			s.logger.Warn("thumbnail cache write", zap.String("path", cached), zap.Error(err))
		}
	}
	return s.sendThumb(res, b)
}

// thumbSize clamps the requested edge length, falling back to the default
// for anything that is not a positive integer.
func thumbSize(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultThumbSize
	}
	return min(n, maxThumbSize)
}

func (s *Server) sendThumb(res *response, b []byte) error {
	if err := res.header(http.StatusOK, "image/jpeg", int64(len(b)), "Cache-Control: public, max-age=3600"); err != nil {
		return err
	}
	return res.stream(bytes.NewReader(b), int64(len(b)))
}

// makeThumb renders absPath as a JPEG no larger than limit on either side.
// limit must already be clamped by the caller.
func makeThumb(absPath string, limit int) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	bounds := fitWithin(src.Bounds(), limit)
	if bounds.Empty() {
		return nil, fmt.Errorf("thumbnail: empty image %s", filepath.Base(absPath))
	}
	dst := image.NewRGBA(bounds)
	draw.CatmullRom.Scale(dst, bounds, src, src.Bounds(), draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// fitWithin returns the target rectangle, anchored at the origin, for
// shrinking r so its longer side is at most limit. Images already inside
// the limit keep their size; each side is at least one pixel.
func fitWithin(r image.Rectangle, limit int) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	if long := max(w, h); long > limit {
		w = max(w*limit/long, 1)
		h = max(h*limit/long, 1)
	}
	return image.Rect(0, 0, w, h)
}
