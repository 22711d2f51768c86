// Package retention deletes audio and transcript artifacts once they
// outlive their configured age. It runs off the request path as a
// periodic maintenance task.
package retention

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweep deletes files directly under dir whose modification time is older
// than maxAge. It does not recurse. Per-file deletion failures are logged
// and do not abort the rest of the sweep; a missing directory is a no-op.
// Returns the number of files removed.
func Sweep(dir string, maxAge time.Duration, log *logrus.Entry) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) && log != nil {
			log.WithError(err).WithField("dir", dir).Warn("retention sweep could not list directory")
		}
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			if log != nil {
				log.WithError(err).WithField("file", path).Warn("retention sweep could not delete file")
			}
			continue
		}
		removed++
		if log != nil {
			log.WithField("file", path).Info("deleted old file")
		}
	}
	return removed
}

// Runner sweeps a set of directories on a fixed interval.
type Runner struct {
	Dirs     []string
	MaxAge   time.Duration
	Interval time.Duration
	Log      *logrus.Entry
}

// Run sweeps immediately and then on every interval tick until ctx is
// canceled.
func (r *Runner) Run(ctx context.Context) {
	r.sweepAll()
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepAll()
		}
	}
}

func (r *Runner) sweepAll() {
	for _, dir := range r.Dirs {
		Sweep(dir, r.MaxAge, r.Log)
	}
}
