package watch

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
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	path  string
	calls chan struct{}
	count atomic.Int32
	done  chan error
}

func start(t *testing.T, ctx context.Context, handlerErr error) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		path:  filepath.Join(dir, "users.csv"),
		calls: make(chan struct{}, 10),
		done:  make(chan error, 1),
	}
	require.NoError(t, os.WriteFile(h.path, []byte("user_id\n1\n"), 0644))

	ready := make(chan struct{})
	w := New(nil)
	w.ready = func() { close(ready) }
	go func() {
		h.done <- w.Run(ctx, h.path, 50*time.Millisecond, func(context.Context) error {
			h.count.Add(1)
			h.calls <- struct{}{}
			return handlerErr
		})
	}()

	select {
	case <-ready:
	case err := <-h.done:
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestRun_DebouncesBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := start(t, ctx, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(h.path, []byte("uid\n1\n"), 0644))
	}
	h.wait(t)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), h.count.Load())

	cancel()
	assert.NoError(t, <-h.done)
}

func TestRun_AtomicReplace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := start(t, ctx, nil)

	tmp := h.path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("uid\n1\n"), 0644))
	require.NoError(t, os.Rename(tmp, h.path))
	h.wait(t)

	cancel()
	assert.NoError(t, <-h.done)
}

func TestRun_IgnoresOtherFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := start(t, ctx, nil)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(h.path), "other.csv"), []byte("x\n"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, h.count.Load())

	cancel()
	assert.NoError(t, <-h.done)
}

func TestRun_HandlerErrorKeepsWatching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := start(t, ctx, errors.New("heal failed"))

	require.NoError(t, os.WriteFile(h.path, []byte("a\n"), 0644))
	h.wait(t)
	require.NoError(t, os.WriteFile(h.path, []byte("b\n"), 0644))
	h.wait(t)
	assert.Equal(t, int32(2), h.count.Load())

	cancel()
	assert.NoError(t, <-h.done)
}

func TestRun_MissingDirectory(t *testing.T) {
	err := New(nil).Run(context.Background(), filepath.Join(t.TempDir(), "missing", "users.csv"), 0, func(context.Context) error { return nil })
	assert.Error(t, err)
}
