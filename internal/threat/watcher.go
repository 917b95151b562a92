package threat

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"cyberguard/internal/logging"
)

// templateFile is the on-disk override format. Each YAML file in the watched
// directory may carry subject lists keyed by pattern and body templates keyed
// by scenario name; the watcher merges all files on every reload.
type templateFile struct {
	Subjects map[string][]string `yaml:"subjects"`
	Bodies   map[string]string   `yaml:"bodies"`
}

// TemplateWatcher hot-reloads scenario templates from a directory so content
// authors can tune emails without restarting the service.
type TemplateWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	gen      *Generator
	dir      string
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewTemplateWatcher creates a watcher over dir. The directory does not need
// to exist yet; it is created on Start.
func NewTemplateWatcher(dir string, gen *Generator) (*TemplateWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &TemplateWatcher{
		watcher:  w,
		gen:      gen,
		dir:      dir,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start loads the current templates and begins watching. Non-blocking.
func (tw *TemplateWatcher) Start() error {
	tw.mu.Lock()
	if tw.running {
		tw.mu.Unlock()
		return nil
	}
	tw.running = true
	tw.mu.Unlock()

	if err := os.MkdirAll(tw.dir, 0o755); err != nil {
		logging.Threat("template dir %s unavailable: %v", tw.dir, err)
	}
	if err := tw.watcher.Add(tw.dir); err != nil {
		logging.Threat("template watch failed: %v", err)
	} else {
		logging.Threat("watching template directory %s", tw.dir)
	}

	tw.reload()
	go tw.run()
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (tw *TemplateWatcher) Stop() {
	tw.mu.Lock()
	if !tw.running {
		tw.mu.Unlock()
		return
	}
	tw.running = false
	tw.mu.Unlock()

	close(tw.stopCh)
	tw.watcher.Close()
	<-tw.doneCh
}

func (tw *TemplateWatcher) run() {
	defer close(tw.doneCh)
	ticker := time.NewTicker(tw.debounce)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-tw.stopCh:
			return
		case ev, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".yaml") && !strings.HasSuffix(ev.Name, ".yml") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				dirty = true
			}
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			logging.Threat("template watcher error: %v", err)
		case <-ticker.C:
			// Coalesce rapid editor saves into one reload per tick.
			if dirty {
				dirty = false
				tw.reload()
			}
		}
	}
}

// reload re-reads every template file and swaps the merged override set in.
func (tw *TemplateWatcher) reload() {
	entries, err := os.ReadDir(tw.dir)
	if err != nil {
		logging.Threat("template reload skipped: %v", err)
		return
	}

	subjects := make(map[string][]string)
	bodies := make(map[string]string)
	files := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(tw.dir, name))
		if err != nil {
			logging.Threat("template %s unreadable: %v", name, err)
			continue
		}
		var tf templateFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			logging.Threat("template %s rejected: %v", name, err)
			continue
		}
		for pattern, list := range tf.Subjects {
			subjects[pattern] = append(subjects[pattern], list...)
		}
		for scenario, body := range tf.Bodies {
			bodies[scenario] = body
		}
		files++
	}

	tw.gen.SetTemplateOverrides(subjects, bodies)
	logging.Threat("templates reloaded: %d files, %d subject patterns, %d bodies",
		files, len(subjects), len(bodies))
}
