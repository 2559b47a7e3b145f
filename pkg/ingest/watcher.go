package ingest

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches the documents directory and reports PDFs that appear or
// change, debounced per file so a slow upload triggers one ingestion.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onPDF    func(path string)
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	stopCh chan struct{}
}

// NewWatcher creates a watcher calling onPDF for each settled PDF change.
func NewWatcher(logger zerolog.Logger, onPDF func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		logger:   logger,
		onPDF:    onPDF,
		debounce: 500 * time.Millisecond,
		timers:   make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Watch starts watching a directory.
func (w *Watcher) Watch(dir string) error {
	return w.watcher.Add(dir)
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !IsPDF(event.Name) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Document change detected")
				w.schedule(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Document watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}

	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.onPDF(path)
	})
}
