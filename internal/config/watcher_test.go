package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	path := writeConfig(t, root, "selectors:\n  send_button:\n    - \"#send\"\n")

	w, err := NewWatcher(path, 50*time.Millisecond, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		reloads []*Config
	)
	w.SetChangeCallback(func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		reloads = append(reloads, cfg)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// Give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is skipped
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0644))
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, reloads)
	mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("selectors:\n  send_button:\n    - \"#send-v2\"\n"), 0644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloads) > 0
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"#send-v2"}, reloads[len(reloads)-1].Selectors["send_button"])
	mu.Unlock()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	path := writeConfig(t, root, "server:\n  port: 8000\n")

	w, err := NewWatcher(path, 30*time.Millisecond, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	called := make(chan struct{}, 1)
	w.SetChangeCallback(func(*Config) { called <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "notes.txt"), []byte("x"), 0644))

	select {
	case <-called:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StartTwice(t *testing.T) {
	isolate(t)
	path := writeConfig(t, t.TempDir(), "server:\n  port: 8000\n")
	w, err := NewWatcher(path, 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.isWatching
	}, time.Second, 10*time.Millisecond)

	assert.Error(t, w.Start(ctx))
}
