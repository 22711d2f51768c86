// Package watch ingests audio files dropped into an inbox directory,
// running them through the same pipeline as HTTP uploads. Useful for
// batch jobs that have no business speaking multipart HTTP.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/tiroq/echoscribe/internal/config"
	"github.com/tiroq/echoscribe/internal/pipeline"
)

// settleDelay is how long a file must sit unchanged before it is picked
// up, so half-copied drops are not ingested.
const settleDelay = 500 * time.Millisecond

// Watcher feeds dropped files into the pipeline.
type Watcher struct {
	cfg  *config.Config
	proc *pipeline.Processor
	log  *logrus.Entry
}

// New creates a watcher for cfg.InboxDir.
func New(cfg *config.Config, proc *pipeline.Processor, log *logrus.Entry) *Watcher {
	return &Watcher{cfg: cfg, proc: proc, log: log}
}

// Run watches the inbox until ctx is canceled. Files already present at
// startup are ingested first. The inbox directory is created if absent.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.InboxDir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.cfg.InboxDir); err != nil {
		return err
	}
	w.log.WithField("dir", w.cfg.InboxDir).Info("inbox watcher started")

	w.ingestExisting(ctx)

	// Debounce per path: write bursts reset the timer, ingestion happens
	// once the file settles.
	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()
	ready := make(chan string)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			path := event.Name
			if !w.cfg.ExtensionAllowed(path) {
				continue
			}
			if t, exists := pending[path]; exists {
				t.Reset(settleDelay)
				continue
			}
			pending[path] = time.AfterFunc(settleDelay, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})
		case path := <-ready:
			delete(pending, path)
			w.ingest(ctx, path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("inbox watcher error")
		}
	}
}

// ingestExisting processes files already sitting in the inbox.
func (w *Watcher) ingestExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.InboxDir)
	if err != nil {
		w.log.WithError(err).Warn("could not list inbox")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.InboxDir, entry.Name())
		if w.cfg.ExtensionAllowed(path) {
			w.ingest(ctx, path)
		}
	}
}

// ingest reads a dropped file, runs the pipeline with transcript
// persistence on, and deletes the drop on success. Failed drops stay in
// place for inspection.
func (w *Watcher) ingest(ctx context.Context, path string) {
	log := w.log.WithField("file", path)

	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Warn("could not read dropped file")
		return
	}
	if int64(len(data)) > w.cfg.MaxUploadBytes {
		log.Warn("dropped file exceeds the upload size limit, skipping")
		return
	}

	_, err = w.proc.Process(ctx, pipeline.Upload{
		Filename: filepath.Base(path),
		Data:     data,
	}, true)
	if err != nil {
		log.WithError(err).Error("inbox ingestion failed")
		return
	}

	if err := os.Remove(path); err != nil {
		log.WithError(err).Warn("could not remove ingested drop")
		return
	}
	log.Info("inbox file transcribed")
}
