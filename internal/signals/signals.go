// Package signals lets other processes steer a running orchestration
// through files under the .hopper directory.
//
// Creating .hopper/signals/cancel cancels the run. JSON objects written to
// .hopper/messages/*.json are delivered as inter-worker messages.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DirName is the directory created in the working tree.
const DirName = ".hopper"

const (
	signalsDir  = "signals"
	messagesDir = "messages"
	cancelFile  = "cancel"
)

// messageBuffer bounds undelivered messages; further messages are dropped.
const messageBuffer = 16

// Watcher observes the signal and message directories.
type Watcher struct {
	root   string
	logger *zap.Logger

	mu        sync.Mutex
	cancelled bool
	cancelCh  chan struct{}

	messages chan map[string]any
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New creates the .hopper directories under dir and starts watching them.
// If file watching is unavailable, Cancelled still detects the cancel file
// by polling, and messages are not delivered.
func New(dir string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	root := filepath.Join(dir, DirName)
	for _, d := range []string{filepath.Join(root, signalsDir), filepath.Join(root, messagesDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("create signal directory: %w", err)
		}
	}

	w := &Watcher{
		root:     root,
		logger:   logger,
		cancelCh: make(chan struct{}),
		messages: make(chan map[string]any, messageBuffer),
		done:     make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("file watching unavailable, falling back to polling", zap.Error(err))
		return w, nil
	}
	for _, d := range []string{filepath.Join(root, signalsDir), filepath.Join(root, messagesDir)} {
		if err := fw.Add(d); err != nil {
			fw.Close()
			logger.Warn("cannot watch signal directory", zap.String("dir", d), zap.Error(err))
			return w, nil
		}
	}
	w.watcher = fw

	w.wg.Add(1)
	go w.watch()

	// A cancel file left before the watch began is honoured immediately.
	w.Cancelled()
	return w, nil
}

func (w *Watcher) watch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			switch filepath.Base(filepath.Dir(event.Name)) {
			case signalsDir:
				if filepath.Base(event.Name) == cancelFile {
					w.markCancelled()
				}
			case messagesDir:
				w.deliver(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("signal watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) markCancelled() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled {
		return
	}
	w.cancelled = true
	close(w.cancelCh)
	w.logger.Info("cancel signal received")
}

// deliver decodes a message file and removes it. Partially written files
// fail to decode and are left for the next write event.
func (w *Watcher) deliver(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Debug("remove message file", zap.String("path", path), zap.Error(err))
	}

	select {
	case w.messages <- msg:
	default:
		w.logger.Warn("message dropped, buffer full", zap.String("path", path))
	}
}

// Cancelled reports whether a cancel signal has been seen. It also checks
// the file directly in case the watcher missed it.
func (w *Watcher) Cancelled() bool {
	if _, err := os.Stat(filepath.Join(w.root, signalsDir, cancelFile)); err == nil {
		w.markCancelled()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

// CancelRequested is closed when a cancel signal is seen by the watcher.
func (w *Watcher) CancelRequested() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelCh
}

// Messages delivers decoded message files.
func (w *Watcher) Messages() <-chan map[string]any {
	return w.messages
}

// WithCancel returns a context cancelled when ctx is done or a cancel
// signal arrives.
func (w *Watcher) WithCancel(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	requested := w.CancelRequested()
	go func() {
		select {
		case <-requested:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// SendCancel writes the cancel signal file.
func (w *Watcher) SendCancel() error {
	return SendCancel(filepath.Dir(w.root))
}

// SendCancel writes the cancel signal file under dir/.hopper.
func SendCancel(dir string) error {
	path := filepath.Join(dir, DirName, signalsDir, cancelFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// WriteMessage writes msg as a JSON message file under dir/.hopper. The
// file is renamed into place so the watcher never reads a partial write.
func WriteMessage(dir, name string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	target := filepath.Join(dir, DirName, messagesDir, name+".json")
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, DirName, name+".json.tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// ClearSignals removes the cancel file and resets the cancelled state.
func (w *Watcher) ClearSignals() {
	w.mu.Lock()
	defer w.mu.Unlock()
	os.Remove(filepath.Join(w.root, signalsDir, cancelFile))
	if w.cancelled {
		w.cancelled = false
		w.cancelCh = make(chan struct{})
	}
}

// Dir returns the .hopper directory.
func (w *Watcher) Dir() string {
	return w.root
}

// Close stops watching and waits for the watch loop to exit.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.wg.Wait()
	})
}
