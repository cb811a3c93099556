package ftp

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchSettleDelay sets how long a watched file's size must remain
// unchanged before it is considered fully written and queued for upload.
// Defaults to 500ms; used to avoid racing a writer that is still appending.
func WithWatchSettleDelay(d time.Duration) WatchOption {
	return func(w *Watcher) { w.settleDelay = d }
}

// Watcher turns local file-creation events under a directory into queued
// uploads against a Session's TransferManager, grounded on
// SeleniaProject-Orizon's fsnotify-backed watch.Watcher, repurposed here
// from watching source trees to watching an upload directory.
type Watcher struct {
	session     *Session
	localDir    string
	remoteDir   string
	settleDelay time.Duration

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// WatchUpload watches localDir for newly created files and uploads each one
// to remoteDir via STOR once its size has settled, using the session's
// TransferManager (spec §2.2 domain-stack enrichment). Call Close to stop
// watching.
func (s *Session) WatchUpload(localDir, remoteDir string, opts ...WatchOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &ConnectionError{Op: "watch", Err: err}
	}
	if err := fsw.Add(localDir); err != nil {
		fsw.Close()
		return nil, &ConnectionError{Op: "watch", Err: err}
	}

	w := &Watcher{
		session:     s,
		localDir:    localDir,
		remoteDir:   remoteDir,
		settleDelay: 500 * time.Millisecond,
		fsw:         fsw,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				go w.handleCandidate(ev.Name)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// handleCandidate waits for path's size to settle, then enqueues an upload
// to remoteDir/basename(path).
func (w *Watcher) handleCandidate(path string) {
	if !waitForSizeSettle(path, w.settleDelay) {
		return
	}
	remote := filepath.Join(w.remoteDir, filepath.Base(path))
	if _, err := w.session.UploadAsync(remote, TransferOptions{LocalPath: path}); err != nil {
		w.session.log.Warn("ftp: watch upload failed", "path", path, "error", err)
	}
}

// waitForSizeSettle polls path's size every delay/5 until two consecutive
// reads agree, signalling the writer has stopped appending. It gives up and
// returns false if the file disappears.
func waitForSizeSettle(path string, delay time.Duration) bool {
	interval := delay / 5
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	var last int64 = -1
	stable := 0
	for stable < 5 {
		fi, err := os.Stat(path)
		if err != nil {
			return false
		}
		if fi.Size() == last {
			stable++
		} else {
			stable = 0
			last = fi.Size()
		}
		time.Sleep(interval)
	}
	return true
}

// Close stops the watcher; it does not cancel uploads already queued.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
