package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func pngOnly(path string) bool { return strings.HasSuffix(path, ".png") }

func collect(calls chan<- string) Handler {
	return func(_ context.Context, path string) { calls <- path }
}

func TestWatcher_DebouncesWritesIntoOneDispatch(t *testing.T) {
	dir := t.TempDir()
	calls := make(chan string, 10)
	w, err := New(dir, collect(calls), WithDebounce(150*time.Millisecond), WithFilter(pngOnly))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	path := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("ab"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	select {
	case got := <-calls:
		assert.Equal(t, path, got)
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	select {
	case got := <-calls:
		t.Fatalf("unexpected second dispatch for %s", got)
	case <-time.After(400 * time.Millisecond):
	}

	stats := w.GetStats()
	assert.Equal(t, 1, stats.Dispatched)
	assert.GreaterOrEqual(t, stats.Events, 1)
	assert.Equal(t, path, stats.LastEventPath)
}

func TestWatcher_SkipsFilesRemovedBeforeSettling(t *testing.T) {
	dir := t.TempDir()
	calls := make(chan string, 10)
	w, err := New(dir, collect(calls), WithDebounce(300*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	path := filepath.Join(dir, "gone.png")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))
	require.NoError(t, os.Remove(path))

	select {
	case got := <-calls:
		t.Fatalf("removed file dispatched: %s", got)
	case <-time.After(800 * time.Millisecond):
	}
}

func TestWatcher_StartErrors(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), func(context.Context, string) {})
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
	assert.False(t, w.IsWatching())
	w.Stop()

	file := filepath.Join(t.TempDir(), "file.png")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	w, err = New(file, func(context.Context, string) {})
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
}

func TestWatcher_StartStopIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), func(context.Context, string) {})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsWatching())

	w.Stop()
	w.Stop()
	assert.False(t, w.IsWatching())
}

func TestWatcher_ContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := New(t.TempDir(), func(context.Context, string) {})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))

	cancel()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on cancel")
	}
	w.Stop()
}
