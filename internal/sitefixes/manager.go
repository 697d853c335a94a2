package sitefixes

import (
	"fmt"
	"maps"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDebounce coalesces bursts of file events.
const reloadDebounce = 100 * time.Millisecond

// ReloadStats contains statistics about table reloads.
type ReloadStats struct {
	LastReloadTime time.Time `json:"lastReloadTime,omitempty"`
	ReloadCount    int64     `json:"reloadCount"`
	LastError      error     `json:"-"`
	LastErrorStr   string    `json:"lastError,omitempty"`
}

// Manager provides hot-reload capable site-fix tables.
// It keeps the embedded table and optionally watches an external file for
// runtime updates. Reads are lock-free using atomic.Value.
type Manager struct {
	embedded     *Table       // Compiled-in defaults (immutable)
	current      atomic.Value // *Table
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // Protects reload operations
	stats        ReloadStats
	closed       bool
	onReload     []func(*Table)
}

// NewManager creates a Manager.
// If externalPath is empty, only the embedded table is used.
// If hotReload is true and externalPath is set, file changes trigger reloads.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		embedded:     Default(),
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	m.current.Store(m.embedded)

	if externalPath == "" {
		return m, nil
	}

	if err := m.loadExternal(); err != nil {
		log.Warn().
			Err(err).
			Str("path", externalPath).
			Msg("Failed to load external site fixes, using embedded defaults")
	} else {
		log.Info().
			Str("path", externalPath).
			Msg("Loaded external site fixes file")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("Failed to start file watcher, hot-reload disabled")
		} else {
			log.Info().
				Str("path", externalPath).
				Msg("Hot-reload enabled for site fixes file")
		}
	}
	return m, nil
}

// Get returns the current table. It is safe for concurrent use.
func (m *Manager) Get() *Table {
	return m.current.Load().(*Table)
}

// Match finds the fix for host in the current table.
func (m *Manager) Match(host string) (string, Fix, bool) {
	return m.Get().Match(host)
}

// OnReload registers fn to run after each successful reload, on the
// reloading goroutine.
func (m *Manager) OnReload(fn func(*Table)) {
	m.mu.Lock()
	m.onReload = append(m.onReload, fn)
	m.mu.Unlock()
}

// Reload re-reads the external file. On failure the previous table stays
// in use.
func (m *Manager) Reload() error {
	m.mu.Lock()
	if m.externalPath == "" {
		m.mu.Unlock()
		return fmt.Errorf("no external site fixes path configured")
	}
	err := m.loadExternalLocked()
	hooks := append([]func(*Table){}, m.onReload...)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	t := m.Get()
	for _, fn := range hooks {
		fn(t)
	}
	return nil
}

// Stats returns the current reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	if stats.LastError != nil {
		stats.LastErrorStr = stats.LastError.Error()
	}
	return stats
}

// Close stops the file watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) loadExternal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadExternalLocked()
}

// loadExternalLocked must be called with m.mu held.
func (m *Manager) loadExternalLocked() error {
	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("failed to read site fixes file: %w", err)
	}

	table, err := parseAndValidate(data)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("failed to parse site fixes file: %w", err)
	}

	m.current.Store(m.mergeWithEmbedded(table))

	m.stats.LastReloadTime = time.Now()
	m.stats.ReloadCount++
	m.stats.LastError = nil

	log.Info().
		Int64("reload_count", m.stats.ReloadCount).
		Int("sites", len(table.Sites)).
		Msg("Site fixes reloaded")
	return nil
}

// mergeWithEmbedded overlays the external entries on the embedded table.
func (m *Manager) mergeWithEmbedded(external *Table) *Table {
	merged := &Table{Sites: make(map[string]Fix, len(m.embedded.Sites)+len(external.Sites))}
	maps.Copy(merged.Sites, m.embedded.Sites)
	maps.Copy(merged.Sites, external.Sites)
	return merged
}

func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(m.externalPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.watchFile()
	return nil
}

// watchFile reloads on write or create events, debounced.
func (m *Manager) watchFile() {
	defer m.wg.Done()

	var debounceTimer *time.Timer
	reload := func() {
		if err := m.Reload(); err != nil {
			log.Warn().
				Err(err).
				Str("path", m.externalPath).
				Msg("Hot-reload failed, keeping previous site fixes")
		}
	}

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Site fixes file changed")

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, reload)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-m.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}
