package gcconfig

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a Config from a JSON file, publishing each
// successfully parsed and validated revision on Updates. Modeled on
// the teacher's vfs.FSNotifyWatcher: an fsnotify.Watcher wrapped in a
// single goroutine that translates its event/error channels into the
// package's own buffered channels.
type Watcher struct {
	path string
	w    *fsnotify.Watcher
	updC chan Config
	errC chan error
	done chan struct{}
}

// Watch starts watching path for writes and, whenever the file changes,
// reloads the whole Config through LoadFile and publishes it on Updates
// (failures go to Errors). The Watcher only publishes: no collector
// component reads Updates, and cmd/gcdemo only logs each reload.
func Watch(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}
	wt := &Watcher{
		path: path,
		w:    fw,
		updC: make(chan Config, 1),
		errC: make(chan error, 1),
		done: make(chan struct{}),
	}
	go wt.loop()
	return wt, nil
}

func (wt *Watcher) loop() {
	for {
		select {
		case ev, ok := <-wt.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadFile(wt.path)
			if err != nil {
				select {
				case wt.errC <- err:
				default:
				}
				continue
			}
			select {
			case wt.updC <- cfg:
			default:
				// Drop the stale pending update in favor of the fresh one.
				select {
				case <-wt.updC:
				default:
				}
				wt.updC <- cfg
			}
		case err, ok := <-wt.w.Errors:
			if !ok {
				return
			}
			select {
			case wt.errC <- err:
			default:
			}
		case <-wt.done:
			return
		}
	}
}

// Updates returns the channel of successfully reloaded configurations.
func (wt *Watcher) Updates() <-chan Config { return wt.updC }

// Errors returns the channel of reload failures (parse errors,
// validation failures, version incompatibility).
func (wt *Watcher) Errors() <-chan error { return wt.errC }

// Close stops the watcher.
func (wt *Watcher) Close() error {
	close(wt.done)
	return wt.w.Close()
}
