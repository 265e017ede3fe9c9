package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/agrinova/authd/pkg/observability"
)

const signalFile = "session.signal"

// FileBroadcaster delivers session events between processes that share a
// directory. Publish replaces a signal file; every broadcaster watching the
// directory reads it when it changes.
type FileBroadcaster struct {
	dir      string
	watcher  *fsnotify.Watcher
	handlers *handlerSet
	logger   *observability.Logger
	done     chan struct{}

	closeOnce sync.Once
}

// NewFileBroadcaster watches dir, creating it if needed
func NewFileBroadcaster(dir string, logger *observability.Logger) (*FileBroadcaster, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create signal directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	b := &FileBroadcaster{
		dir:      dir,
		watcher:  watcher,
		handlers: newHandlerSet(),
		logger:   observability.OrNop(logger).WithComponent("file_broadcaster").WithField("dir", dir),
		done:     make(chan struct{}),
	}
	go b.run()
	return b, nil
}

func (b *FileBroadcaster) signalPath() string {
	return filepath.Join(b.dir, signalFile)
}

func (b *FileBroadcaster) run() {
	defer close(b.done)
	for {
		select {
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			// only the rename onto the signal file completes a publish
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Base(event.Name) != signalFile {
				continue
			}
			b.deliver()
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.WithError(err).Warn("watcher error")
		}
	}
}

func (b *FileBroadcaster) deliver() {
	data, err := os.ReadFile(b.signalPath())
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.WithError(err).Warn("failed to read signal file")
		}
		return
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		b.logger.WithError(err).Warn("discarding malformed session event")
		return
	}
	defer observability.RecoverPanic(b.logger, "file session event handler")
	b.handlers.dispatch(ev)
}

// Publish atomically replaces the signal file with ev
func (b *FileBroadcaster) Publish(ctx context.Context, ev Event) error {
	select {
	case <-b.done:
		return ErrBroadcasterClosed
	default:
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode session event: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, ".signal-*")
	if err != nil {
		return fmt.Errorf("failed to create signal file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write signal file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write signal file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.signalPath()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish signal file: %w", err)
	}
	return nil
}

// Subscribe registers handler for events observed in the directory
func (b *FileBroadcaster) Subscribe(handler func(Event)) (func(), error) {
	select {
	case <-b.done:
		return nil, ErrBroadcasterClosed
	default:
	}
	return b.handlers.add(handler), nil
}

// Close stops watching the directory
func (b *FileBroadcaster) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.watcher.Close()
		<-b.done
	})
	return err
}
