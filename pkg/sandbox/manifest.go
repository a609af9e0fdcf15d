package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ToolSpec is one entry of the tool manifest (spec §6.4).
type ToolSpec struct {
	Runtime        string `yaml:"runtime"`
	Module         string `yaml:"module"`
	Function       string `yaml:"function"`
	Package        string `yaml:"package"`
	Version        string `yaml:"version"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SandboxProfile string `yaml:"sandbox_profile"`
}

// manifestFile is the top-level YAML shape (spec §6.4 "version 1").
type manifestFile struct {
	Tools map[string]ToolSpec `yaml:"tools"`
}

// Manifest resolves tool_name to a ToolSpec, reloading from disk on
// mtime change (spec §4.10 step 1, §6.4 "Reload is triggered by mtime
// change on read"). Grounded on the teacher's fsnotify-driven config
// hot-reload idiom.
type Manifest struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	tools   map[string]ToolSpec
	modTime time.Time

	watcher *fsnotify.Watcher
}

// NewManifest loads path once and returns a Manifest ready to Resolve.
func NewManifest(path string, log *slog.Logger) (*Manifest, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &Manifest{path: path, log: log.With("component", "sandbox-manifest")}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Watch starts an fsnotify watch on the manifest's directory and reloads
// on any write/create event touching the file, until stop is closed.
// Malformed manifests are logged and the previous good set is kept.
func (m *Manifest) Watch(stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sandbox: manifest watcher: %w", err)
	}
	m.watcher = w
	dir := parentDir(m.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("sandbox: watch %s: %w", dir, err)
	}
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != m.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.reload(); err != nil {
					m.log.Warn("sandbox: manifest reload failed", "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.log.Warn("sandbox: manifest watcher error", "error", err)
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func (m *Manifest) reload() error {
	info, err := os.Stat(m.path)
	if err != nil {
		return fmt.Errorf("sandbox: stat manifest: %w", err)
	}

	m.mu.RLock()
	unchanged := info.ModTime().Equal(m.modTime)
	m.mu.RUnlock()
	if unchanged {
		return nil
	}

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("sandbox: read manifest: %w", err)
	}
	var parsed manifestFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("sandbox: parse manifest: %w", err)
	}

	tools := make(map[string]ToolSpec, len(parsed.Tools))
	for name, spec := range parsed.Tools {
		if spec.Runtime == "python" && (spec.Module == "" || spec.Function == "") {
			m.log.Warn("sandbox: tool missing module/function, skipping", "tool", name)
			continue
		}
		tools[name] = spec
	}

	m.mu.Lock()
	m.tools = tools
	m.modTime = info.ModTime()
	m.mu.Unlock()
	return nil
}

// Resolve looks up toolName, triggering a reload check first (spec
// "Reload is triggered by mtime change on read").
func (m *Manifest) Resolve(toolName string) (ToolSpec, error) {
	if err := m.reload(); err != nil {
		m.log.Warn("sandbox: manifest reload check failed", "error", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.tools[toolName]
	if !ok {
		return ToolSpec{}, fmt.Errorf("%w: %s", errToolNotFound, toolName)
	}
	return spec, nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
