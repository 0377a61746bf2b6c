// Package sandbox implements the per-connection filesystem cursor. A Session
// never lets its working directory or any target it touches leave the root.
package sandbox

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"accesshub/internal/fsutil"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrNotDir      = errors.New("not a directory")
	ErrExists      = errors.New("already exists")
	ErrInvalidName = errors.New("invalid name")
	ErrNoHistory   = errors.New("no history")
	ErrOutsideRoot = errors.New("outside root")
)

// Session is owned by a single connection and is not safe for concurrent use.
type Session struct {
	root    string
	cwd     string
	history []string
}

// New starts a session at root, which is canonicalized.
func New(root string) (*Session, error) {
	canon, err := fsutil.Canonical(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	if !fsutil.IsDir(canon) {
		return nil, fmt.Errorf("sandbox root %s: %w", canon, ErrNotDir)
	}
	return &Session{root: canon, cwd: canon}, nil
}

func (s *Session) Root() string { return s.root }
func (s *Session) Cwd() string  { return s.cwd }

// Pwd returns the cwd relative to root with forward slashes; root is "/".
func (s *Session) Pwd() string {
	rel, err := filepath.Rel(s.root, s.cwd)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

// Cd moves into a child directory of cwd and records the previous cwd.
// ".." moves to the parent, or stays at root, without touching history.
func (s *Session) Cd(name string) error {
	if name == ".." {
		parent := filepath.Dir(s.cwd)
		if fsutil.Within(s.root, parent, false) {
			s.cwd = parent
		} else {
			s.cwd = s.root
		}
		return nil
	}
	if strings.TrimSpace(name) == "" || fsutil.HasDotDot(name) {
		return ErrInvalidName
	}
	target, err := s.resolveDir(filepath.Join(s.cwd, filepath.FromSlash(name)))
	if err != nil {
		return err
	}
	s.history = append(s.history, s.cwd)
	s.cwd = target
	return nil
}

// Undo restores the cwd recorded by the last successful Cd.
func (s *Session) Undo() error {
	n := len(s.history)
	if n == 0 {
		return ErrNoHistory
	}
	prev := s.history[n-1]
	s.history = s.history[:n-1]
	// the directory may have been removed or swapped for a symlink since
	target, err := s.resolveDir(prev)
	if err != nil {
		return err
	}
	s.cwd = target
	return nil
}

// Goto jumps to a root-relative path. "", "/" and blanks mean root. On
// failure the cwd is unchanged.
func (s *Session) Goto(p string) error {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		s.cwd = s.root
		return nil
	}
	if fsutil.HasDotDot(p) {
		return ErrOutsideRoot
	}
	abs, err := fsutil.JoinWithinRoot(s.root, p)
	if err != nil {
		return ErrOutsideRoot
	}
	target, err := s.resolveDir(abs)
	if err != nil {
		return err
	}
	s.cwd = target
	return nil
}

func (s *Session) resolveDir(p string) (string, error) {
	canon, err := filepath.EvalSymlinks(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if !fsutil.Within(s.root, canon, false) {
		return "", ErrOutsideRoot
	}
	if !fsutil.IsDir(canon) {
		return "", ErrNotDir
	}
	return canon, nil
}

// child validates a single entry name of cwd and returns its path. The path
// itself is not resolved, so a symlink named name is addressed as the link.
func (s *Session) child(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return "", ErrInvalidName
	}
	p := filepath.Join(s.cwd, name)
	parent, err := fsutil.Canonical(filepath.Dir(p))
	if err != nil {
		return "", err
	}
	if !fsutil.Within(s.root, parent, false) {
		return "", ErrOutsideRoot
	}
	return p, nil
}

// Mkdir creates a directory in cwd. It fails when anything named name exists.
func (s *Session) Mkdir(name string) error {
	p, err := s.child(name)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(p); err == nil {
		return ErrExists
	}
	return os.Mkdir(p, 0o755)
}

// Rename renames an entry of cwd. Both names must be plain entry names, the
// source must exist and the target must not. Canonical forms of both must
// stay inside root.
func (s *Session) Rename(oldName, newName string) error {
	if strings.TrimSpace(newName) == "" || strings.Contains(oldName, "..") || strings.Contains(newName, "..") {
		return ErrInvalidName
	}
	src, err := s.child(oldName)
	if err != nil {
		return err
	}
	dst, err := s.child(newName)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(src); err != nil {
		return ErrNotFound
	}
	if _, err := os.Lstat(dst); err == nil {
		return ErrExists
	}
	for _, p := range []string{src, dst} {
		canon, err := fsutil.Canonical(p)
		if err != nil {
			return err
		}
		if !fsutil.Within(s.root, canon, true) {
			return ErrOutsideRoot
		}
	}
	return os.Rename(src, dst)
}

// Rm deletes a file, a symlink (not its target) or a directory tree,
// children first.
func (s *Session) Rm(name string) error {
	p, err := s.child(name)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(p); err != nil {
		return ErrNotFound
	}
	return os.RemoveAll(p)
}

// Entry is one row of a directory listing. Size is zero for directories.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// String formats the entry as a listing line.
func (e Entry) String() string {
	if e.IsDir {
		return "[DIR]  " + e.Name
	}
	return fmt.Sprintf("[FILE] %s (%d KB)", e.Name, e.Size/1024)
}

// List streams the entries of cwd to emit in batches of at most batch
// entries, reading the directory incrementally. It returns the number of
// entries emitted. Directory sizes are never computed.
func (s *Session) List(batch int, emit func([]Entry) error) (int, error) {
	if batch <= 0 {
		batch = 30
	}
	f, err := os.Open(s.cwd)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	total := 0
	for {
		des, err := f.ReadDir(batch)
		if len(des) > 0 {
			entries := make([]Entry, 0, len(des))
			for _, de := range des {
				entries = append(entries, s.entry(de))
			}
			if err := emit(entries); err != nil {
				return total, err
			}
			total += len(entries)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func (s *Session) entry(de fs.DirEntry) Entry {
	e := Entry{Name: de.Name(), IsDir: de.IsDir()}
	info, err := de.Info()
	if de.Type()&fs.ModeSymlink != 0 {
		// report what the link points at
		info, err = os.Stat(filepath.Join(s.cwd, de.Name()))
	}
	if err == nil {
		e.IsDir = info.IsDir()
		if !e.IsDir {
			e.Size = info.Size()
		}
	}
	return e
}

// Subdirs returns the names of the directories directly inside cwd.
func (s *Session) Subdirs() ([]string, error) {
	var names []string
	_, err := s.List(256, func(entries []Entry) error {
		for _, e := range entries {
			if e.IsDir {
				names = append(names, e.Name)
			}
		}
		return nil
	})
	return names, err
}
