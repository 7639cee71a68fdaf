// Package source feeds camera frames into the capture service from outside
// the process: a watched inbox directory and an HTTP snapshot endpoint.
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"go-receipt-capture/internal/frame"
	"go-receipt-capture/internal/logger"
)

// FrameSink accepts frames without blocking
type FrameSink interface {
	SubmitFrame(f *frame.Frame) bool
}

// InboxWatcher submits every image dropped into a directory as a frame
type InboxWatcher struct {
	dir    string
	sink   FrameSink
	settle time.Duration
	tick   time.Duration
}

// InboxOption configures an InboxWatcher
type InboxOption func(*InboxWatcher)

// WithSettle sets how long a file must stay unchanged before it is read
func WithSettle(settle, tick time.Duration) InboxOption {
	return func(w *InboxWatcher) {
		w.settle = settle
		w.tick = tick
	}
}

// NewInboxWatcher creates a watcher for dir
func NewInboxWatcher(dir string, sink FrameSink, opts ...InboxOption) *InboxWatcher {
	w := &InboxWatcher{
		dir:    dir,
		sink:   sink,
		settle: 300 * time.Millisecond,
		tick:   250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. Files are read once they have not been
// written to for the settle period.
func (w *InboxWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	log := logger.WithFields(logrus.Fields{"component": "inbox", "dir": w.dir})
	log.Info("Watching inbox for frames")

	pending := map[string]time.Time{}
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Inbox watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !IsSupportedImage(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now()
		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) > w.settle {
					delete(pending, path)
					w.submit(path, log)
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Inbox watch error")
		}
	}
}

func (w *InboxWatcher) submit(path string, log *logrus.Entry) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		log.WithError(err).WithField("file", filepath.Base(path)).Warn("Skipping unreadable image")
		return
	}
	f := frame.FromImage(img)
	accepted := w.sink.SubmitFrame(f)
	log.WithFields(logrus.Fields{
		"file":     filepath.Base(path),
		"width":    f.Width,
		"height":   f.Height,
		"accepted": accepted,
	}).Debug("Inbox frame submitted")
}

// IsSupportedImage reports whether name has an image extension imaging can open
func IsSupportedImage(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".gif", ".tif", ".tiff":
		return true
	}
	return false
}
