package comms

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/atlascmd/assetos"
)

// defaultPriority is used when no priority list is configured and the
// priority file is absent or unreadable.
var defaultPriority = []string{MethodMesh}

type priorityFile struct {
	PriorityMethods []string `json:"priority_methods"`
}

// loadPriorityFile reads the priority list from a JSON file. A missing or
// malformed file falls back to the default.
func loadPriorityFile(path string, logger assetos.Logger) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read comms priority file", "path", path, "error", err)
		}
		return append([]string(nil), defaultPriority...)
	}
	var pf priorityFile
	if err := json.Unmarshal(data, &pf); err != nil {
		logger.Warn("Failed to parse comms priority file", "path", path, "error", err)
		return append([]string(nil), defaultPriority...)
	}
	if len(pf.PriorityMethods) == 0 {
		return append([]string(nil), defaultPriority...)
	}
	return pf.PriorityMethods
}

// priorityList holds the operator's preference order and optionally keeps
// it in sync with a watched JSON file. Reads take effect the next time
// the method sequence is derived (a reconnection or promotion boundary).
type priorityList struct {
	mu      sync.RWMutex
	methods []string
	watcher *fsnotify.Watcher
	logger  assetos.Logger
	done    chan struct{}
}

func newPriorityList(methods []string, logger assetos.Logger) *priorityList {
	if len(methods) == 0 {
		methods = append([]string(nil), defaultPriority...)
	}
	return &priorityList{methods: methods, logger: logger}
}

// Methods returns a copy of the current priority order.
func (p *priorityList) Methods() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.methods...)
}

func (p *priorityList) set(methods []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods = methods
}

// Watch reloads the priority list whenever the file changes. Watch
// failures are logged and leave the list static.
func (p *priorityList) Watch(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Warn("Failed to watch comms priority file", "path", path, "error", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		p.logger.Warn("Failed to watch comms priority file", "path", path, "error", err)
		_ = watcher.Close()
		return
	}
	p.watcher = watcher
	p.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				methods := loadPriorityFile(path, p.logger)
				p.set(methods)
				p.logger.Info("Comms priority list reloaded", "methods", methods)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("Comms priority watcher error", "error", err)
			case <-p.done:
				return
			}
		}
	}()
}

// Stop terminates the watcher, if any.
func (p *priorityList) Stop() {
	if p.watcher == nil {
		return
	}
	close(p.done)
	_ = p.watcher.Close()
	p.watcher = nil
}
