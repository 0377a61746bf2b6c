package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// DefaultMaxDepth bounds directory recursion when Walker.MaxDepth is unset.
const DefaultMaxDepth = 256

var ErrTooDeep = errors.New("directory tree too deep")

// WalkFunc is called for every entry below the walked directory, parents
// before their children. rel is slash-separated and relative to the walked
// directory; info follows symlinks.
type WalkFunc func(abs, rel string, info fs.FileInfo) error

// Walker visits a directory tree inside Root. Symlinks are followed only
// when their canonical target stays inside Root, and a directory already on
// the current descent path is not entered again.
//
// A subdirectory that cannot be read for lack of permission is still passed
// to the WalkFunc but its contents are skipped and OnSkip, if set, is told
// why. The walked directory itself must be readable.
type Walker struct {
	Root     string
	MaxDepth int
	OnSkip   func(abs string, err error)

	readDir func(string) ([]os.DirEntry, error)
}

func (w Walker) Walk(dir string, fn WalkFunc) error {
	canon, err := Canonical(dir)
	if err != nil {
		return err
	}
	limit := w.MaxDepth
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	return w.walk(dir, "", map[string]bool{canon: true}, 0, limit, fn)
}

func (w Walker) walk(dir, rel string, ancestors map[string]bool, depth, limit int, fn WalkFunc) error {
	if depth >= limit {
		return fmt.Errorf("%w: %s", ErrTooDeep, dir)
	}
	readDir := w.readDir
	if readDir == nil {
		readDir = os.ReadDir
	}
	entries, err := readDir(dir)
	if err != nil {
		if depth > 0 && errors.Is(err, fs.ErrPermission) {
			if w.OnSkip != nil {
				w.OnSkip(dir, err)
			}
			return nil
		}
		return err
	}
	for _, e := range entries {
		abs := filepath.Join(dir, e.Name())
		childRel := path.Join(rel, e.Name())
		symlink := e.Type()&fs.ModeSymlink != 0

		if !symlink && !e.IsDir() {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if err := fn(abs, childRel, info); err != nil {
				return err
			}
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			// dangling symlink or raced removal
			continue
		}
		canon, err := Canonical(abs)
		if err != nil {
			continue
		}
		if symlink && !Within(w.Root, canon, false) {
			continue
		}
		if info.IsDir() && ancestors[canon] {
			continue
		}

		if err := fn(abs, childRel, info); err != nil {
			return err
		}
		if !info.IsDir() {
			continue
		}
		ancestors[canon] = true
		err = w.walk(abs, childRel, ancestors, depth+1, limit, fn)
		delete(ancestors, canon)
		if err != nil {
			return err
		}
	}
	return nil
}

// DirSize sums the sizes of regular files below dir.
func (w Walker) DirSize(dir string) (int64, error) {
	var total int64
	err := w.Walk(dir, func(_, _ string, info fs.FileInfo) error {
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
