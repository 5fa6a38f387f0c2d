package watch

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/hedisam/photoprep/daemon/filesystem"
)

// Event kinds reported on the events counter.
const (
	KindCreated = "created"
	KindWritten = "written"
	KindDir     = "dir"
	KindIgnored = "ignored"
)

type Debouncer interface {
	Notify(path string)
	Touch(path string) bool
}

type Option func(w *Watcher)

// WithEventCounter counts raw filesystem events by kind.
func WithEventCounter(c *prometheus.CounterVec) Option {
	return func(w *Watcher) {
		w.events = c
	}
}

// Watcher subscribes to change notifications for a directory tree and feeds added files to the debouncer.
type Watcher struct {
	logger    *logrus.Logger
	watcher   *fsnotify.Watcher
	matcher   *filesystem.Matcher
	debouncer Debouncer
	events    *prometheus.CounterVec
}

func New(logger *logrus.Logger, matcher *filesystem.Matcher, debouncer Debouncer, opts ...Option) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		logger:    logger,
		watcher:   watcher,
		matcher:   matcher,
		debouncer: debouncer,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

func (w *Watcher) Add(dirPath string) error {
	err := w.watcher.Add(dirPath)
	if err != nil {
		return fmt.Errorf("add dir to watcher: %w", err)
	}

	w.logger.WithField("dir", dirPath).Debug("Watching directory...")
	return nil
}

// WatchList returns the directories currently registered with the underlying watcher.
func (w *Watcher) WatchList() []string {
	return w.watcher.WatchList()
}

// Start blocks processing filesystem events until ctx is done or the watcher is closed.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Received error from watcher")
		}
	}
}

func (w *Watcher) Close() {
	_ = w.watcher.Close()
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	logger := w.logger.WithField("path", event.Name)

	if w.matcher.Ignored(event.Name) {
		w.count(KindIgnored)
		return
	}

	// event.Op is a bitmask and some systems may send multiple operations at once.
	if event.Has(fsnotify.Create) {
		info, err := os.Lstat(event.Name)
		if err != nil {
			// created and removed again before we got here, nothing to do
			logger.WithError(err).Debug("Failed to get stat info processing fs watcher event, ignoring")
			return
		}

		if info.IsDir() {
			w.count(KindDir)
			// a directory moved into the tree brings its files along without create events for them
			err = filesystem.Walk(ctx, w.logger, event.Name, w.matcher, w, w.debouncer)
			if err != nil {
				logger.WithError(err).Warn("Failed to watch newly created directory, ignoring")
			}
			return
		}

		if !info.Mode().IsRegular() {
			return
		}

		w.count(KindCreated)
		logger.Debug("File added")
		w.debouncer.Notify(event.Name)
		return
	}

	if event.Has(fsnotify.Write) {
		w.count(KindWritten)
		if w.debouncer.Touch(event.Name) {
			logger.Debug("File still being written, quiet window extended")
		}
	}
}

func (w *Watcher) count(kind string) {
	if w.events != nil {
		w.events.WithLabelValues(kind).Inc()
	}
}
