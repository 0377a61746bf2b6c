package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func listAll(t *testing.T, s *Session) []Entry {
	t.Helper()
	var all []Entry
	_, err := s.List(7, func(batch []Entry) error {
		all = append(all, batch...)
		return nil
	})
	require.NoError(t, err)
	return all
}

func TestCdUndo(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	require.NoError(t, s.Mkdir("notes"))
	require.NoError(t, s.Cd("notes"))
	assert.Equal(t, "/notes", s.Pwd())
	require.NoError(t, s.Undo())
	assert.Equal(t, "/", s.Pwd())
	assert.ErrorIs(t, s.Undo(), ErrNoHistory)
}

func TestCdParentStaysInRoot(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	require.NoError(t, s.Mkdir("a"))
	require.NoError(t, s.Cd("a"))
	require.NoError(t, s.Mkdir("b"))
	require.NoError(t, s.Cd("b"))
	assert.Equal(t, "/a/b", s.Pwd())

	require.NoError(t, s.Cd(".."))
	assert.Equal(t, "/a", s.Pwd())
	require.NoError(t, s.Cd(".."))
	require.NoError(t, s.Cd(".."))
	assert.Equal(t, "/", s.Pwd())
	assert.Equal(t, s.Root(), s.Cwd())

	// ".." does not add history; the two named cds do.
	require.NoError(t, s.Undo())
	assert.Equal(t, "/a", s.Pwd())
}

func TestCdFailures(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	writeFile(t, filepath.Join(s.Root(), "file.txt"), 1)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(s.Root(), "link")))

	assert.ErrorIs(t, s.Cd("missing"), ErrNotFound)
	assert.ErrorIs(t, s.Cd("file.txt"), ErrNotDir)
	assert.ErrorIs(t, s.Cd("../"+filepath.Base(outside)), ErrInvalidName)
	assert.ErrorIs(t, s.Cd("link"), ErrOutsideRoot)
	assert.Equal(t, "/", s.Pwd())
	assert.ErrorIs(t, s.Undo(), ErrNoHistory)
}

func TestGoto(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "a", "b"), 0o755))

	require.NoError(t, s.Goto("/a/b/"))
	assert.Equal(t, "/a/b", s.Pwd())

	assert.Error(t, s.Goto("/a/../../etc"))
	assert.Equal(t, "/a/b", s.Pwd())
	assert.Error(t, s.Goto("/nope"))
	assert.Equal(t, "/a/b", s.Pwd())

	require.NoError(t, s.Goto("  "))
	assert.Equal(t, "/", s.Pwd())
	require.NoError(t, s.Goto(`a\b`))
	assert.Equal(t, "/a/b", s.Pwd())
	require.NoError(t, s.Goto("/"))
	assert.Equal(t, "/", s.Pwd())
}

func TestMkdirListRm(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	require.NoError(t, s.Mkdir("x"))
	assert.ErrorIs(t, s.Mkdir("x"), ErrExists)
	writeFile(t, filepath.Join(s.Root(), "report.pdf"), 5000)

	entries := listAll(t, s)
	assert.ElementsMatch(t, []Entry{
		{Name: "x", IsDir: true},
		{Name: "report.pdf", Size: 5000},
	}, entries)

	require.NoError(t, s.Rm("x"))
	entries = listAll(t, s)
	assert.Equal(t, []Entry{{Name: "report.pdf", Size: 5000}}, entries)
	assert.ErrorIs(t, s.Rm("x"), ErrNotFound)
}

func TestRmRecursiveKeepsSymlinkTargets(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	keep := filepath.Join(t.TempDir(), "keep.txt")
	writeFile(t, keep, 3)

	tree := filepath.Join(s.Root(), "tree", "deep", "deeper")
	require.NoError(t, os.MkdirAll(tree, 0o755))
	writeFile(t, filepath.Join(tree, "f"), 10)
	require.NoError(t, os.Symlink(keep, filepath.Join(s.Root(), "tree", "link")))

	require.NoError(t, s.Rm("tree"))
	_, err := os.Stat(filepath.Join(s.Root(), "tree"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	assert.NoError(t, err)
}

func TestNamesCannotEscape(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	for _, name := range []string{"", ".", "..", "../x", "a/b", `a\b`} {
		assert.ErrorIs(t, s.Mkdir(name), ErrInvalidName, "mkdir %q", name)
		assert.ErrorIs(t, s.Rm(name), ErrInvalidName, "rm %q", name)
	}
	assert.Equal(t, "/", s.Pwd())
}

func TestRename(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	writeFile(t, filepath.Join(s.Root(), "a.txt"), 1)
	writeFile(t, filepath.Join(s.Root(), "b.txt"), 1)

	assert.ErrorIs(t, s.Rename("a.txt", "a.txt"), ErrExists)
	assert.ErrorIs(t, s.Rename("a.txt", ""), ErrInvalidName)
	assert.ErrorIs(t, s.Rename("a.txt", "  "), ErrInvalidName)
	assert.ErrorIs(t, s.Rename("a.txt", "b.txt"), ErrExists)
	assert.ErrorIs(t, s.Rename("a.txt", "../a.txt"), ErrInvalidName)
	assert.ErrorIs(t, s.Rename("a.txt", "x..y"), ErrInvalidName)
	assert.ErrorIs(t, s.Rename("missing", "c.txt"), ErrNotFound)

	require.NoError(t, s.Rename("a.txt", "my notes.txt"))
	_, err := os.Stat(filepath.Join(s.Root(), "my notes.txt"))
	assert.NoError(t, err)
}

func TestRenameRejectsSymlinkOutOfRoot(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	outside := filepath.Join(t.TempDir(), "secret")
	writeFile(t, outside, 1)
	require.NoError(t, os.Symlink(outside, filepath.Join(s.Root(), "ln")))

	assert.ErrorIs(t, s.Rename("ln", "other"), ErrOutsideRoot)
}

func TestListBatches(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	for i := range 65 {
		writeFile(t, filepath.Join(s.Root(), fmt.Sprintf("f%03d", i)), 2048)
	}

	var sizes []int
	total, err := s.List(30, func(batch []Entry) error {
		sizes = append(sizes, len(batch))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 65, total)
	assert.Equal(t, []int{30, 30, 5}, sizes)
}

func TestEntryString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "[DIR]  Music", Entry{Name: "Music", IsDir: true}.String())
	assert.Equal(t, "[FILE] song.mp3 (4 KB)", Entry{Name: "song.mp3", Size: 5000}.String())
	assert.Equal(t, "[FILE] tiny (0 KB)", Entry{Name: "tiny", Size: 10}.String())
}

func TestSubdirs(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	for _, d := range []string{"Documents", "Downloads", "Music"} {
		require.NoError(t, s.Mkdir(d))
	}
	writeFile(t, filepath.Join(s.Root(), "Doc.txt"), 1)

	dirs, err := s.Subdirs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Documents", "Downloads", "Music"}, dirs)
}
