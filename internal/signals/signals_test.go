package signals

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w, dir
}

func TestNewCreatesDirectories(t *testing.T) {
	w, dir := newWatcher(t)
	assert.Equal(t, filepath.Join(dir, DirName), w.Dir())
	for _, sub := range []string{signalsDir, messagesDir} {
		info, err := os.Stat(filepath.Join(dir, DirName, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.False(t, w.Cancelled())
}

func TestCancelSignal(t *testing.T) {
	w, dir := newWatcher(t)

	ctx, cancel := w.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, SendCancel(dir))
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		require.True(t, w.Cancelled(), "cancel file must be detected at least by polling")
	}
	assert.True(t, w.Cancelled())

	w.ClearSignals()
	assert.False(t, w.Cancelled())
	_, err := os.Stat(filepath.Join(dir, DirName, signalsDir, cancelFile))
	assert.True(t, os.IsNotExist(err))
}

func TestCancelFileLeftBeforeStart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SendCancel(dir))

	w, err := New(dir, nil)
	require.NoError(t, err)
	defer w.Close()

	select {
	case <-w.CancelRequested():
	default:
		t.Fatal("pre-existing cancel file should be honoured on start")
	}
}

func TestMessagesDelivered(t *testing.T) {
	w, dir := newWatcher(t)
	if w.watcher == nil {
		t.Skip("file watching unavailable")
	}

	require.NoError(t, WriteMessage(dir, "m1", map[string]any{"from": "cli", "to": "w1", "type": "hint"}))

	select {
	case msg := <-w.Messages():
		assert.Equal(t, "w1", msg["to"])
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, DirName, messagesDir, "m1.json"))
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	w, _ := newWatcher(t)
	w.Close()
	w.Close()
}
