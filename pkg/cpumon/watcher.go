package cpumon

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is the default debounce interval for file watch events.
const DefaultWatchDebounce = 500 * time.Millisecond

// configWatcher reloads the configuration when its file changes on disk.
type configWatcher struct {
	watcher  *fsnotify.Watcher
	absPath  string
	debounce time.Duration
	onReload func() error
	onError  func(error)

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// newConfigWatcher watches filePath. onReload runs once per burst of
// changes, after debounce has passed without another event.
func newConfigWatcher(filePath string, debounce time.Duration, onReload func() error, onError func(error)) (*configWatcher, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	// The directory is watched so that editors which save by renaming a
	// temporary file over the original keep triggering events.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &configWatcher{
		watcher:   watcher,
		absPath:   absPath,
		debounce:  debounce,
		onReload:  onReload,
		onError:   onError,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

// Start begins watching in a goroutine.
func (cw *configWatcher) Start() {
	cw.startOnce.Do(func() {
		go cw.watchLoop()
	})
}

// Stop ends watching and waits for the loop to exit. It is safe to call
// more than once.
func (cw *configWatcher) Stop() {
	cw.stopOnce.Do(func() { close(cw.stopCh) })
	// A watcher that was never started releases its resources here.
	cw.startOnce.Do(func() {
		cw.watcher.Close()
		close(cw.stoppedCh)
	})
	<-cw.stoppedCh
}

func (cw *configWatcher) watchLoop() {
	defer close(cw.stoppedCh)
	defer cw.watcher.Close()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-cw.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !cw.relevant(event) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(cw.debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			if cw.onReload != nil {
				if err := cw.onReload(); err != nil && cw.onError != nil {
					cw.onError(err)
				}
			}
			debounceTimer = nil
			debounceCh = nil

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			if cw.onError != nil {
				cw.onError(err)
			}
		}
	}
}

// relevant reports whether event changes the watched file's content.
func (cw *configWatcher) relevant(event fsnotify.Event) bool {
	eventAbs, err := filepath.Abs(event.Name)
	if err != nil || eventAbs != cw.absPath {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
