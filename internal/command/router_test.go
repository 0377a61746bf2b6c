package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"accesshub/internal/sandbox"
	"accesshub/internal/wsframe"
)

type recorder struct {
	msgs []string
	fail error
}

func (r *recorder) WriteText(s string) error {
	if r.fail != nil {
		return r.fail
	}
	r.msgs = append(r.msgs, s)
	return nil
}

func (r *recorder) last() string {
	if len(r.msgs) == 0 {
		return ""
	}
	return r.msgs[len(r.msgs)-1]
}

func newRouter(t *testing.T, opts ...Option) (*Router, *recorder, *sandbox.Session) {
	t.Helper()
	s, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	rec := &recorder{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewRouter(s, rec, opts...), rec, s
}

func send(t *testing.T, r *Router, rec *recorder, line string) string {
	t.Helper()
	require.NoError(t, r.Handle(line))
	return rec.last()
}

func TestCommandReplies(t *testing.T) {
	t.Parallel()
	r, rec, s := newRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "a.txt"), []byte("x"), 0o644))

	steps := []struct {
		line string
		want string
	}{
		{"pwd", "PATH: /"},
		{"mkdir notes", "RES: OK"},
		{"mkdir notes", "ERR: Creation failed"},
		{"MKDIR My Files", "RES: OK"},
		{"cd My Files", "RES: OK"},
		{"pwd", "PATH: /My Files"},
		{"undo", "RES: OK"},
		{"undo", "ERR: No history"},
		{"cd nowhere", "ERR: Directory not found"},
		{"goto /notes", "RES: OK"},
		{"pwd", "PATH: /notes"},
		{"goto /notes/../../etc", "ERR: Invalid path"},
		{"goto", "RES: OK"},
		{"pwd", "PATH: /"},
		{"rename a.txt", "ERR: Usage: rename oldName<TAB>newName"},
		{"rename a.txt\tb c.txt", "RES: OK"},
		{"rename a.txt\tz.txt", "ERR: Rename failed"},
		{"rm b c.txt", "RES: OK"},
		{"rm b c.txt", "ERR: Deletion failed"},
		{"frobnicate", "ERR: Unknown command"},
		{"", "ERR: Unknown command"},
	}
	for _, st := range steps {
		assert.Equal(t, st.want, send(t, r, rec, st.line), "command %q", st.line)
	}
}

func TestLsEmpty(t *testing.T) {
	t.Parallel()
	r, rec, _ := newRouter(t)
	assert.Equal(t, "LIST: (empty directory)", send(t, r, rec, "ls"))
	assert.Len(t, rec.msgs, 1)
}

func TestLsChunking(t *testing.T) {
	t.Parallel()
	r, rec, s := newRouter(t)
	const n = 1000
	for i := range n {
		require.NoError(t, os.WriteFile(filepath.Join(s.Root(), fmt.Sprintf("file-%04d", i)), nil, 0o644))
	}

	require.NoError(t, r.Handle("  LS "))

	require.Len(t, rec.msgs, 35)
	chunks, entries := 0, 0
	for _, m := range rec.msgs[:34] {
		require.True(t, strings.HasPrefix(m, "LIST_CHUNK: "), m)
		chunks++
		entries += len(strings.Split(strings.TrimPrefix(m, "LIST_CHUNK: "), "\n"))
	}
	assert.Equal(t, 34, chunks)
	assert.Equal(t, n, entries)
	assert.Equal(t, "LIST_END: 1000", rec.msgs[34])
}

func TestLsFormatsEntries(t *testing.T) {
	t.Parallel()
	r, rec, s := newRouter(t, WithChunkSize(10))
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "Music"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "song.mp3"), make([]byte, 3*1024+10), 0o644))

	require.NoError(t, r.Handle("ls"))
	require.Len(t, rec.msgs, 2)
	lines := strings.Split(strings.TrimPrefix(rec.msgs[0], "LIST_CHUNK: "), "\n")
	assert.ElementsMatch(t, []string{"[DIR]  Music", "[FILE] song.mp3 (3 KB)"}, lines)
	assert.Equal(t, "LIST_END: 2", rec.msgs[1])
}

func TestSuggest(t *testing.T) {
	t.Parallel()
	r, rec, s := newRouter(t)
	for _, d := range []string{"Documents", "Downloads", "Music"} {
		require.NoError(t, s.Mkdir(d))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "Docs.txt"), nil, 0o644))

	assert.Equal(t, "SUGGEST: Documents|", send(t, r, rec, "suggest Doc"))
	assert.Equal(t, "SUGGEST: Music|", send(t, r, rec, "suggest /some/where/mU"))
	assert.Equal(t, "SUGGEST: ", send(t, r, rec, "suggest zzz"))
	assert.Equal(t, "SUGGEST: ", send(t, r, rec, "suggest"))

	got := send(t, r, rec, "suggest do")
	parts := strings.Split(strings.TrimPrefix(got, "SUGGEST: "), "|")
	assert.ElementsMatch(t, []string{"Documents", "Downloads", ""}, parts)
}

func TestPanicBecomesErrReply(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	r := NewRouter(nil, rec, WithLogger(zaptest.NewLogger(t)))

	require.NoError(t, r.Handle("pwd"))
	require.Len(t, rec.msgs, 1)
	assert.True(t, strings.HasPrefix(rec.msgs[0], "ERR: "), rec.msgs[0])

	// the router keeps working afterwards
	require.NoError(t, r.Handle("nope"))
	assert.Equal(t, "ERR: Unknown command", rec.last())
}

func TestHandleReturnsDeliveryErrors(t *testing.T) {
	t.Parallel()
	r, rec, _ := newRouter(t)
	rec.fail = errors.New("broken pipe")
	assert.EqualError(t, r.Handle("pwd"), "broken pipe")
}

func maskedText(s string) []byte {
	key := []byte{1, 2, 3, 4}
	out := []byte{0x81, 0x80 | byte(len(s))}
	out = append(out, key...)
	for i := 0; i < len(s); i++ {
		out = append(out, s[i]^key[i%4])
	}
	return out
}

func TestServe(t *testing.T) {
	t.Parallel()
	s, err := sandbox.New(t.TempDir())
	require.NoError(t, err)

	var in bytes.Buffer
	in.Write(maskedText("mkdir x"))
	in.Write([]byte{0x89, 0x80, 0, 0, 0, 0}) // empty ping
	in.Write(maskedText("ls"))
	in.Write([]byte{0x88, 0x80, 0, 0, 0, 0})

	var out bytes.Buffer
	conn := wsframe.NewConn(&in, &out, 0)
	r := NewRouter(s, conn, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, r.Serve(context.Background(), conn))

	want := append(wsframe.EncodeText("RES: OK"), wsframe.EncodeText("LIST_CHUNK: [DIR]  x")...)
	want = append(want, wsframe.EncodeText("LIST_END: 1")...)
	assert.Equal(t, want, out.Bytes())
}
