package tasks

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"motioncor/internal/fsutil"
)

// MovieEvent reports a movie directory that has stopped receiving frames.
type MovieEvent struct {
	Dir    string    `json:"dir"`
	Frames int       `json:"frames"`
	Time   time.Time `json:"time"`
}

// MovieWatcher watches directories for incoming frame files and emits a
// MovieEvent once a directory has been quiet for the settle period.
type MovieWatcher struct {
	watcher   *fsnotify.Watcher
	Events    chan MovieEvent
	watchDirs []string
	settle    time.Duration
	minFrames int
	log       *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMovieWatcher creates a watcher; call Start to begin.
func NewMovieWatcher(watchPaths []string, settle time.Duration, minFrames int, logger *slog.Logger) (*MovieWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = 5 * time.Second
	}
	return &MovieWatcher{
		watcher:   watcher,
		Events:    make(chan MovieEvent, 100),
		watchDirs: watchPaths,
		settle:    settle,
		minFrames: max(2, minFrames),
		log:       logger,
		pending:   make(map[string]time.Time),
		done:      make(chan struct{}),
	}, nil
}

// Start adds the configured directories and their immediate children.
func (mw *MovieWatcher) Start() error {
	for _, dir := range mw.watchDirs {
		if err := mw.watcher.Add(dir); err != nil {
			return err
		}
		mw.log.Info("watching directory", "dir", dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() {
				if err := mw.watcher.Add(filepath.Join(dir, e.Name())); err != nil {
					return err
				}
			}
		}
	}

	mw.wg.Add(1)
	go mw.processEvents()
	return nil
}

// Stop stops watching and closes Events.
func (mw *MovieWatcher) Stop() error {
	var err error
	mw.stopOnce.Do(func() {
		close(mw.done)
		err = mw.watcher.Close()
		mw.wg.Wait()
		close(mw.Events)
	})
	return err
}

func (mw *MovieWatcher) processEvents() {
	defer mw.wg.Done()
	ticker := time.NewTicker(max(mw.settle/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			mw.handle(event)

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			mw.log.Error("filesystem watcher error", "error", err)

		case now := <-ticker.C:
			mw.flush(now)

		case <-mw.done:
			return
		}
	}
}

func (mw *MovieWatcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if st, err := os.Stat(event.Name); err == nil && st.IsDir() && event.Op&fsnotify.Create != 0 {
		if err := mw.watcher.Add(event.Name); err != nil {
			mw.log.Warn("cannot watch new directory", "dir", event.Name, "error", err)
		}
		return
	}
	if !fsutil.IsFrameFile(event.Name) {
		return
	}
	mw.mu.Lock()
	mw.pending[filepath.Dir(event.Name)] = time.Now()
	mw.mu.Unlock()
}

func (mw *MovieWatcher) flush(now time.Time) {
	var ready []string
	mw.mu.Lock()
	for dir, last := range mw.pending {
		if now.Sub(last) >= mw.settle {
			ready = append(ready, dir)
			delete(mw.pending, dir)
		}
	}
	mw.mu.Unlock()

	for _, dir := range ready {
		files, err := fsutil.ListFrames(dir)
		if err != nil {
			mw.log.Warn("cannot list settled directory", "dir", dir, "error", err)
			continue
		}
		if len(files) < mw.minFrames {
			mw.log.Debug("settled directory has too few frames", "dir", dir, "frames", len(files))
			continue
		}
		ev := MovieEvent{Dir: dir, Frames: len(files), Time: now}
		select {
		case mw.Events <- ev:
		default:
			mw.log.Warn("event buffer full, dropping movie", "dir", dir)
		}
	}
}
