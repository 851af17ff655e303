package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/metrics"
	"github.com/orbitwatch/orbitwatch/internal/tle"
)

// Mode selects the manager's selection behavior.
type Mode int

const (
	// SingleSelect: selecting an object replaces the previous selection.
	SingleSelect Mode = iota
	// MultiSelect: Toggle adds or removes one object without disturbing
	// the rest of the set.
	MultiSelect
)

// DetailState describes what the manager knows about a selected object's
// catalog record.
type DetailState string

const (
	DetailPending     DetailState = "pending"
	DetailReady       DetailState = "ready"
	DetailUnavailable DetailState = "unavailable"
)

// Entry is one selected object together with its detail state, as exposed
// to the presentation layer.
type Entry struct {
	Key     string      `json:"key"`
	Name    string      `json:"name"`
	NoradID int         `json:"norad_id"`
	State   DetailState `json:"state"`
	Detail  *Record     `json:"detail,omitempty"`
}

// Manager owns the selection set and the catalog record cache. All state
// lives behind one mutex because selections arrive from the API goroutines
// while fetch completions arrive from the lookup goroutines.
//
// Cache policy: a key is looked up externally exactly once per session;
// failures and misses are cached as placeholder records. Concurrent
// requests for the same key coalesce onto one in-flight lookup.
type Manager struct {
	mu       sync.Mutex
	mode     Mode
	selected map[string]selectedEntry
	cache    map[string]*Record
	inflight map[string]chan struct{}

	client       Client
	fetchTimeout time.Duration
	logger       *slog.Logger
}

type selectedEntry struct {
	name    string
	noradID int
}

// NewManager creates a Manager in the given mode.
func NewManager(mode Mode, client Client, logger *slog.Logger) *Manager {
	return &Manager{
		mode:         mode,
		selected:     make(map[string]selectedEntry),
		cache:        make(map[string]*Record),
		inflight:     make(map[string]chan struct{}),
		client:       client,
		fetchTimeout: 15 * time.Second,
		logger:       logger,
	}
}

// Mode returns the manager's selection mode.
func (m *Manager) Mode() Mode {
	return m.mode
}

// Select marks rec as selected. In single-select mode any previous
// selection is cleared first. A background catalog fetch starts unless the
// record's details are already cached.
func (m *Manager) Select(rec *tle.Record) {
	key := rec.Key()

	m.mu.Lock()
	if m.mode == SingleSelect {
		m.selected = make(map[string]selectedEntry, 1)
	}
	m.selected[key] = selectedEntry{name: rec.Name, noradID: rec.NoradID}
	cached := m.cache[key] != nil
	m.mu.Unlock()

	if !cached {
		go m.prefetch(key, rec.Name, rec.NoradID)
	}
}

// Toggle flips one object's membership in the selection set. Only
// meaningful in multi-select mode; in single-select mode it behaves as
// Select/Deselect of that object.
func (m *Manager) Toggle(rec *tle.Record) bool {
	key := rec.Key()

	m.mu.Lock()
	if _, ok := m.selected[key]; ok {
		delete(m.selected, key)
		m.mu.Unlock()
		return false
	}
	if m.mode == SingleSelect {
		m.selected = make(map[string]selectedEntry, 1)
	}
	m.selected[key] = selectedEntry{name: rec.Name, noradID: rec.NoradID}
	cached := m.cache[key] != nil
	m.mu.Unlock()

	if !cached {
		go m.prefetch(key, rec.Name, rec.NoradID)
	}
	return true
}

// Deselect removes one object from the selection set.
func (m *Manager) Deselect(key string) {
	key = tle.NormalizeKey(key)
	m.mu.Lock()
	delete(m.selected, key)
	m.mu.Unlock()
}

// Reset clears the whole selection set. Cached catalog records are
// retained for the rest of the session.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.selected = make(map[string]selectedEntry)
	m.mu.Unlock()
}

// IsSelected reports whether the key is currently selected.
func (m *Manager) IsSelected(key string) bool {
	key = tle.NormalizeKey(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.selected[key]
	return ok
}

// Selection returns the current selection with each object's detail state.
func (m *Manager) Selection() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, len(m.selected))
	for key, sel := range m.selected {
		e := Entry{Key: key, Name: sel.name, NoradID: sel.noradID}
		switch rec := m.cache[key]; {
		case rec == nil:
			e.State = DetailPending
		case rec.Placeholder:
			e.State = DetailUnavailable
			e.Detail = rec
		default:
			e.State = DetailReady
			e.Detail = rec
		}
		entries = append(entries, e)
	}
	return entries
}

// Details returns the catalog record for a key, performing the external
// lookup at most once per session. Cached records (placeholders included)
// return without touching the network. Concurrent callers for the same
// key share one lookup.
func (m *Manager) Details(ctx context.Context, key string, name string, noradID int) (*Record, error) {
	key = tle.NormalizeKey(key)

	for {
		m.mu.Lock()
		if rec := m.cache[key]; rec != nil {
			m.mu.Unlock()
			return rec, nil
		}
		if done, ok := m.inflight[key]; ok {
			// Another goroutine owns the lookup; wait for it and re-read
			// the cache.
			m.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		m.inflight[key] = done
		m.mu.Unlock()

		rec := m.lookup(ctx, key, name, noradID)

		m.mu.Lock()
		m.cache[key] = rec
		delete(m.inflight, key)
		close(done)
		m.mu.Unlock()

		return rec, nil
	}
}

// lookup performs the external call and maps every outcome to a record.
func (m *Manager) lookup(ctx context.Context, key, name string, noradID int) *Record {
	rec, err := m.client.Lookup(ctx, noradID)
	switch {
	case err == nil:
		metrics.IncCatalogFetch("ok")
		return rec
	case errors.Is(err, ErrNotFound):
		metrics.IncCatalogFetch("miss")
		m.logger.Info("no catalog entry", "key", key, "norad_id", noradID)
		return placeholderRecord(name, noradID, "no catalog entry")
	default:
		metrics.IncCatalogFetch("error")
		m.logger.Warn("catalog lookup failed", "key", key, "norad_id", noradID, "error", err)
		return placeholderRecord(name, noradID, "catalog lookup failed: "+err.Error())
	}
}

// prefetch resolves a selected object's details in the background. If the
// object has been deselected by the time the lookup finishes, the result
// stays in the cache but is not surfaced anywhere.
func (m *Manager) prefetch(key, name string, noradID int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.fetchTimeout)
	defer cancel()

	if _, err := m.Details(ctx, key, name, noradID); err != nil {
		m.logger.Warn("catalog prefetch aborted", "key", key, "error", err)
		return
	}

	if !m.IsSelected(key) {
		m.logger.Debug("catalog result arrived for deselected object", "key", key)
	}
}
