package configuration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileLoader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gplazma.conf")
	writeFile(t, path, "auth required p1\n")

	l := NewFileLoader(path)
	items, err := l.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Every Load reflects the current file contents.
	writeFile(t, path, "auth required p1\nmap optional p2\n")
	items, err = l.Load()
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestFileLoader_Missing(t *testing.T) {
	t.Parallel()

	_, err := NewFileLoader(filepath.Join(t.TempDir(), "absent.conf")).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileLoader_ParseErrorPropagates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gplazma.conf")
	writeFile(t, path, "auth required p1\nbogus required p2\n")

	_, err := NewFileLoader(path).Load()
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Offset)
}

func TestStaticLoader(t *testing.T) {
	t.Parallel()

	items, err := NewStaticLoader("session sufficient authzdb").Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, Session, items[0].Phase)
}

func TestWatcher_DebouncedCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gplazma.conf")
	writeFile(t, path, "auth required p1\n")

	var calls atomic.Int32
	w, err := NewWatcher(path, 50*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Unrelated files in the same directory are ignored.
	writeFile(t, filepath.Join(dir, "other.conf"), "x")

	for i := 0; i < 5; i++ {
		writeFile(t, path, "auth required p1\nmap optional p2\n")
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gplazma.conf")
	writeFile(t, path, "")

	w, err := NewWatcher(path, 0, func() {})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
