package httpserver

import (
	"path/filepath"
	"strings"
)

const octetStream = "application/octet-stream"

// contentTypeForName maps a file name to a preview content type. Text formats
// carry a charset. Unknown extensions return "".
func contentTypeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	// images
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".bmp":
		return "image/bmp"
	case ".ico":
		return "image/x-icon"
	// video
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".ogg":
		return "video/ogg"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	// audio
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".aac":
		return "audio/aac"
	case ".m4a":
		return "audio/mp4"
	// docs/text
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html; charset=UTF-8"
	case ".css":
		return "text/css; charset=UTF-8"
	case ".js":
		return "text/javascript; charset=UTF-8"
	case ".json":
		return "application/json; charset=UTF-8"
	case ".xml":
		return "application/xml; charset=UTF-8"
	case ".md":
		return "text/markdown; charset=UTF-8"
	case ".txt", ".log", ".tex", ".cls", ".sty",
		".py", ".java", ".c", ".cpp", ".h", ".hpp", ".go", ".rs", ".ts", ".sh",
		".yaml", ".yml", ".toml", ".ini", ".cfg", ".conf":
		return "text/plain; charset=UTF-8"
	// archives
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz":
		return "application/gzip"
	default:
		return ""
	}
}

func isImageExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}
