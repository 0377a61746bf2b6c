package fsutil

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrPathEscape  = errors.New("path escape")
)

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", and returns a
// safe, slash-based, no-leading-slash relative path ("" means root).
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// HasDotDot reports whether any slash or backslash separated segment of p is "..".
func HasDotDot(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Within reports whether p equals root or lies below it. Both must be clean
// absolute paths. With strict set, p == root does not count.
func Within(root, p string, strict bool) bool {
	if p == root {
		return !strict
	}
	return strings.HasPrefix(p, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

// Canonical resolves symlinks in p. Components that do not exist yet are kept
// as written on top of the longest existing prefix, so a future upload target
// still gets a canonical form.
func Canonical(p string) (string, error) {
	p, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	var rest []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(rest) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, rest[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}

// JoinWithinRoot returns an absolute filesystem path under root for a given rel
// path. It rejects escapes (..).
func JoinWithinRoot(rootAbs string, rel string) (string, error) {
	rel = CleanRelPath(rel)
	if rel == "" {
		return rootAbs, nil
	}
	if strings.Contains(rel, "\x00") {
		return "", ErrInvalidPath
	}
	abs := filepath.Clean(filepath.Join(rootAbs, filepath.FromSlash(rel)))
	if !Within(filepath.Clean(rootAbs), abs, false) {
		return "", ErrPathEscape
	}
	return abs, nil
}

// ResolveStorage maps a percent-encoded, root-relative client path to a
// canonical path inside root. root must already be canonical. allowRoot
// permits the empty path and root itself as a result.
func ResolveStorage(root, encoded string, allowRoot bool) (string, error) {
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return "", ErrInvalidPath
	}
	decoded = strings.TrimLeft(strings.ReplaceAll(decoded, "\\", "/"), "/")

	if strings.ContainsRune(decoded, 0) || hasDriveLetter(decoded) {
		return "", ErrInvalidPath
	}
	if HasDotDot(decoded) {
		return "", ErrPathEscape
	}
	if decoded == "" {
		if allowRoot {
			return root, nil
		}
		return "", ErrInvalidPath
	}

	target, err := Canonical(filepath.Join(root, filepath.FromSlash(decoded)))
	if err != nil {
		return "", err
	}
	if !Within(root, target, !allowRoot) {
		return "", ErrPathEscape
	}
	return target, nil
}

func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// IsDir reports whether p exists and is a directory, following symlinks.
func IsDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
