package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Body data is staged next to its destination:
//
//	<target>.part  receives exactly the declared number of bytes
//	<target>       is replaced by a rename only after the last byte is synced
//
// so the final name only ever holds a complete file.

// TempSuffix is appended to the target to name the staging file.
const TempSuffix = ".part"

// BufferSize is the copy buffer used for request bodies.
const BufferSize = 128 << 10

var (
	ErrTempInUse = errors.New("cannot overwrite temp file")
	ErrShortBody = errors.New("unexpected end of upload body")
	ErrReplace   = errors.New("failed to replace existing file")
	ErrFinalize  = errors.New("failed to finalize upload")
)

// Transaction stages one upload. It is used by a single goroutine.
type Transaction struct {
	Target   string
	Temp     string
	Declared int64
	Written  int64

	f    *os.File
	done bool
}

// Begin creates the staging file for target, removing a stale one first.
func Begin(target string, declared int64) (*Transaction, error) {
	temp := target + TempSuffix
	if err := os.Remove(temp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrTempInUse, err)
	}
	f, err := os.OpenFile(temp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTempInUse, err)
	}
	return &Transaction{
		Target:   target,
		Temp:     temp,
		Declared: declared,
		f:        f,
	}, nil
}

// ReadFrom copies exactly Declared bytes from body into the staging file.
// It does not read past the declared length.
func (t *Transaction) ReadFrom(body io.Reader) (int64, error) {
	buf := make([]byte, BufferSize)
	remaining := t.Declared - t.Written
	for remaining > 0 {
		chunk := buf
		if remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		n, err := body.Read(chunk)
		if n > 0 {
			if _, werr := t.f.Write(chunk[:n]); werr != nil {
				return t.Written, werr
			}
			t.Written += int64(n)
			remaining -= int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if remaining == 0 {
					break
				}
				return t.Written, fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, t.Written, t.Declared)
			}
			return t.Written, err
		}
	}
	return t.Written, nil
}

// Commit publishes the staging file under the target name.
func (t *Transaction) Commit() error {
	if t.Written != t.Declared {
		return fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, t.Written, t.Declared)
	}
	if err := t.f.Sync(); err != nil {
		return err
	}
	if err := t.f.Close(); err != nil {
		return err
	}
	if err := os.Remove(t.Target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrReplace, err)
	}
	if err := os.Rename(t.Temp, t.Target); err != nil {
		return fmt.Errorf("%w: %v", ErrFinalize, err)
	}
	t.done = true
	return nil
}

// Abort drops the staging file. It is a no-op after Commit and may be called
// more than once.
func (t *Transaction) Abort() {
	if t.done {
		return
	}
	t.done = true
	_ = t.f.Close()
	_ = os.Remove(t.Temp)
}
