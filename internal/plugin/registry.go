package plugin

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/hermesbot/hermes/internal/metrics"
)

// manifest is one YAML file in the plugin directory. A plugin is
// loaded only when a manifest names it with enabled true.
type manifest struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// Command tokens are lowercase alphanumerics; anything else is a
// forbidden identifier and rejects the plugin.
var commandToken = regexp.MustCompile(`^[a-z0-9]+$`)

const sampleManifest = `# Auto-generated sample manifest. One file per plugin; a plugin is
# loaded only when named here with enabled: true.
name: sample
enabled: true
`

// Entry pairs a loaded plugin with its runtime stats.
type Entry struct {
	Plugin Plugin
	Desc   Descriptor
	Stats  *Stats
}

// snapshot is one immutable view of the registry. Reload publishes a
// new snapshot atomically; readers never see a partial load.
type snapshot struct {
	order    []*Entry
	commands map[string]*Entry
	aliases  map[string]*Entry
}

func emptySnapshot() *snapshot {
	return &snapshot{
		commands: make(map[string]*Entry),
		aliases:  make(map[string]*Entry),
	}
}

// Registry discovers, validates and serves plugins.
type Registry struct {
	dir    string
	logger *log.Logger

	mu        sync.RWMutex
	snap      *snapshot
	reloading bool
	loaded    bool // OnLoad hooks already invoked
}

// NewRegistry builds a registry over the manifest directory.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:    dir,
		logger: log.New(log.Writer(), "[PLUGINS] ", log.LstdFlags),
		snap:   emptySnapshot(),
	}
}

// Load scans the manifest directory and builds a fresh snapshot from
// the compiled-in plugin set. A missing directory is created with a
// sample manifest.
func (r *Registry) Load() error {
	enabled, err := r.readManifests()
	if err != nil {
		return err
	}

	next := emptySnapshot()
	for _, p := range Builtins() {
		desc := p.Descriptor()
		if !enabled[desc.Name] {
			continue
		}
		if err := r.admit(next, p, desc); err != nil {
			r.logger.Printf("❌ Rejecting plugin %q: %v", desc.Name, err)
			continue
		}
	}

	r.mu.Lock()
	r.snap = next
	r.mu.Unlock()

	metrics.PluginsLoaded.Set(float64(len(next.order)))
	r.logger.Printf("✅ Loaded %d plugins (%d commands)", len(next.order), len(next.commands))
	return nil
}

// admit validates one plugin against the snapshot under construction.
// The first plugin to claim a token keeps it.
func (r *Registry) admit(s *snapshot, p Plugin, desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(desc.Commands) == 0 {
		return fmt.Errorf("declares no commands")
	}
	for _, c := range append(append([]string{}, desc.Commands...), desc.Aliases...) {
		if !commandToken.MatchString(c) {
			return fmt.Errorf("forbidden identifier %q", c)
		}
		if prev, taken := s.commands[c]; taken {
			return fmt.Errorf("command %q already registered by %q", c, prev.Desc.Name)
		}
		if prev, taken := s.aliases[c]; taken {
			return fmt.Errorf("alias %q already registered by %q", c, prev.Desc.Name)
		}
	}

	e := &Entry{Plugin: p, Desc: desc, Stats: newStats()}
	s.order = append(s.order, e)
	for _, c := range desc.Commands {
		s.commands[c] = e
	}
	for _, a := range desc.Aliases {
		s.aliases[a] = e
	}
	return nil
}

// readManifests parses every .yaml/.yml file in the directory into an
// enabled-set. The directory is created with a sample manifest when
// absent.
func (r *Registry) readManifests() (map[string]bool, error) {
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create plugin dir: %w", err)
		}
		path := filepath.Join(r.dir, "sample.yaml")
		if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
			return nil, fmt.Errorf("write sample manifest: %w", err)
		}
		r.logger.Printf("📦 Created plugin directory with sample manifest at %s", path)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}

	enabled := make(map[string]bool)
	for _, ent := range entries {
		ext := strings.ToLower(filepath.Ext(ent.Name()))
		if ent.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(r.dir, ent.Name()))
		if err != nil {
			r.logger.Printf("⚠️ Skipping unreadable manifest %s: %v", ent.Name(), err)
			continue
		}
		var m manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			r.logger.Printf("⚠️ Skipping malformed manifest %s: %v", ent.Name(), err)
			continue
		}
		if m.Name != "" && m.Enabled {
			enabled[m.Name] = true
		}
	}
	return enabled, nil
}

// Lookup resolves a command token: exact command first, then alias.
func (r *Registry) Lookup(token string) (*Entry, bool) {
	r.mu.RLock()
	s := r.snap
	r.mu.RUnlock()

	if e, ok := s.commands[token]; ok {
		return e, true
	}
	e, ok := s.aliases[token]
	return e, ok
}

// Entries returns the loaded plugins in registration order.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	s := r.snap
	r.mu.RUnlock()
	return append([]*Entry(nil), s.order...)
}

// Len returns the number of loaded plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snap.order)
}

// Reloading reports whether a reload is in flight; the router rejects
// commands with a transient diagnostic while true.
func (r *Registry) Reloading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reloading
}

// InvokeOnLoad runs every plugin's OnLoad hook in registration order.
// Called once when the transport first reaches running, and again
// after each reload.
func (r *Registry) InvokeOnLoad(ctx context.Context, lctx *LoadContext) {
	r.mu.Lock()
	r.loaded = true
	entries := append([]*Entry(nil), r.snap.order...)
	r.mu.Unlock()

	for _, e := range entries {
		loader, ok := e.Plugin.(Loader)
		if !ok {
			continue
		}
		if err := loader.OnLoad(ctx, lctx); err != nil {
			r.logger.Printf("⚠️ OnLoad of %q failed: %v", e.Desc.Name, err)
		}
	}
}

// ReloadAll unloads every plugin, clears the registry, and re-runs
// discovery. When the OnLoad hooks have already run, they run again
// for the new snapshot.
func (r *Registry) ReloadAll(ctx context.Context, lctx *LoadContext) error {
	r.mu.Lock()
	if r.reloading {
		r.mu.Unlock()
		return fmt.Errorf("reload already in progress")
	}
	r.reloading = true
	entries := append([]*Entry(nil), r.snap.order...)
	wasLoaded := r.loaded
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.reloading = false
		r.mu.Unlock()
	}()

	for _, e := range entries {
		if u, ok := e.Plugin.(Unloader); ok {
			u.OnUnload()
		}
	}

	if err := r.Load(); err != nil {
		return err
	}
	if wasLoaded && lctx != nil {
		r.InvokeOnLoad(ctx, lctx)
	}
	r.logger.Printf("🔄 Reload complete")
	return nil
}

// RecordRun updates an entry's stats after one Run invocation.
func (r *Registry) RecordRun(e *Entry, took time.Duration, err error) {
	e.Stats.record(took, err)
	if err != nil {
		metrics.PluginErrors.WithLabelValues(e.Desc.Name).Inc()
	}
}

// Unhealthy returns the names of plugins whose error rate exceeds 50%
// over their last 20 runs.
func (r *Registry) Unhealthy() []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Stats.ErrorRateHigh() {
			out = append(out, e.Desc.Name)
		}
	}
	return out
}
