// Package session manages themed pages. Each session owns one page, one
// event loop and the dark-mode controller for the page's current document.
// When the page's main frame navigates, the controller is closed and
// rebuilt for the new URL.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/darkmode-go/internal/browser"
	"github.com/Rorqualx/darkmode-go/internal/config"
	"github.com/Rorqualx/darkmode-go/internal/darkmode"
	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/diagnostics"
	"github.com/Rorqualx/darkmode-go/internal/dom"
	"github.com/Rorqualx/darkmode-go/internal/loop"
	"github.com/Rorqualx/darkmode-go/internal/metrics"
	"github.com/Rorqualx/darkmode-go/internal/security"
	"github.com/Rorqualx/darkmode-go/internal/storage"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

// Page is a document source: a browser tab, or an offline document in
// tests.
type Page interface {
	Document() dom.Document
	Probe() device.Probe
	// OnNavigate reports main-frame navigations with the new URL.
	OnNavigate(fn func(url string)) (stop func())
	Close() error
}

// Opener opens pages for new sessions.
type Opener interface {
	Open(ctx context.Context, url string, em browser.Emulation) (Page, error)
}

// Deps are shared by every session's controller.
type Deps struct {
	Store    storage.Store
	Fixes    darkmode.SiteFixes
	Location *time.Location
	Version  string
	// Clock drives the session loops. Nil uses the wall clock.
	Clock clock.Clock
	// RebuildTimeout bounds closing and restarting a controller after a
	// navigation.
	RebuildTimeout time.Duration
}

// Session is one themed page.
type Session struct {
	ID        string
	CreatedAt time.Time
	lastUsed  atomic.Int64

	page      Page
	deps      Deps
	loop      *loop.Loop
	ctx       context.Context
	cancel    context.CancelFunc
	collector *diagnostics.Collector
	stopNav   func()

	// loop-confined
	ctrl        *darkmode.Controller
	navigations int
}

// Info describes a session for the control API.
type Info struct {
	ID          string           `json:"id"`
	URL         string           `json:"url"`
	CreatedAt   time.Time        `json:"createdAt"`
	LastUsed    time.Time        `json:"lastUsed"`
	Navigations int              `json:"navigations"`
	Status      *darkmode.Status `json:"status,omitempty"`
}

func newSession(ctx context.Context, id string, page Page, deps Deps) (*Session, error) {
	lctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	if deps.Clock != nil {
		now = deps.Clock.Now()
	}
	s := &Session{
		ID:        id,
		CreatedAt: now,
		page:      page,
		deps:      deps,
		loop:      loop.New(deps.Clock),
		ctx:       lctx,
		cancel:    cancel,
	}
	s.collector = diagnostics.NewCollector(s.loop.Now)
	s.Touch()

	go func() {
		_ = s.loop.Run(lctx)
	}()

	if err := s.loop.Do(ctx, func() error { return s.build(ctx) }); err != nil {
		cancel()
		return nil, err
	}
	s.stopNav = page.OnNavigate(func(url string) {
		s.loop.Post(func() { s.rebuild(url) })
	})
	return s, nil
}

// build creates and starts the controller for the current document.
func (s *Session) build(ctx context.Context) error {
	c := darkmode.New(s.ctx, s.page.Document(), s.loop, darkmode.Options{
		Store:      s.deps.Store,
		Fixes:      s.deps.Fixes,
		Probe:      s.page.Probe(),
		Collector:  s.collector,
		Location:   s.deps.Location,
		Version:    s.deps.Version,
		Session:    s.ID,
		OnDarkMode: metrics.RecordDarkMode,
	})
	if err := c.Start(ctx); err != nil {
		_ = c.Close(ctx)
		return fmt.Errorf("start controller: %w", err)
	}
	s.ctrl = c
	return nil
}

// rebuild replaces the controller after a navigation. Runs on the loop.
func (s *Session) rebuild(url string) {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.deps.RebuildTimeout)
	defer cancel()

	if s.ctrl != nil {
		// The old document is gone; rollback failures are expected.
		if err := s.ctrl.Close(ctx); err != nil {
			log.Debug().Err(err).Str("session_id", s.ID).Msg("Controller close after navigation")
		}
		s.ctrl = nil
	}
	s.navigations++
	s.collector.Clear()
	metrics.RecordNavigation()

	if err := s.build(ctx); err != nil {
		log.Warn().Err(err).
			Str("session_id", s.ID).
			Str("url", security.RedactURL(url)).
			Msg("Failed to rebuild controller after navigation")
		return
	}
	log.Info().
		Str("session_id", s.ID).
		Str("url", security.RedactURL(url)).
		Int("navigations", s.navigations).
		Msg("Controller rebuilt after navigation")
}

// Do runs fn with the session's controller on the session loop.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context, c *darkmode.Controller) error) error {
	s.Touch()
	return s.loop.Do(ctx, func() error {
		if s.ctrl == nil {
			return types.ErrControllerClosed
		}
		return fn(ctx, s.ctrl)
	})
}

// Info returns a snapshot of the session.
func (s *Session) Info(ctx context.Context) (Info, error) {
	info := Info{
		ID:        s.ID,
		URL:       s.page.Document().URL(),
		CreatedAt: s.CreatedAt,
		LastUsed:  s.LastUsedTime(),
	}
	err := s.loop.Do(ctx, func() error {
		info.Navigations = s.navigations
		if s.ctrl != nil {
			st := s.ctrl.Status()
			info.Status = &st
		}
		return nil
	})
	return info, err
}

// close tears the controller down and releases the page.
func (s *Session) close(ctx context.Context) error {
	if s.stopNav != nil {
		s.stopNav()
	}
	err := s.loop.Do(ctx, func() error {
		if s.ctrl == nil {
			return nil
		}
		err := s.ctrl.Close(ctx)
		s.ctrl = nil
		return err
	})
	if errors.Is(err, types.ErrControllerClosed) {
		err = nil
	}
	s.cancel()

	select {
	case <-s.loop.Done():
	case <-ctx.Done():
		log.Warn().Str("session_id", s.ID).Msg("Session loop did not stop before deadline")
	}
	return errors.Join(err, s.page.Close())
}

// Touch updates the last-used timestamp.
func (s *Session) Touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// LastUsedTime returns when the session was last used.
func (s *Session) LastUsedTime() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Manager owns every session.
//
// Lock ordering: mu is never held while a page opens or a session closes.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// ids being created, counted against MaxSessions
	pending map[string]struct{}
	closed  bool

	opener Opener
	deps   Deps
	max    int
}

// NewManager creates a session manager.
func NewManager(cfg *config.Config, opener Opener, deps Deps) *Manager {
	if deps.RebuildTimeout <= 0 {
		deps.RebuildTimeout = cfg.DefaultTimeout
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	log.Info().Int("max_sessions", cfg.MaxSessions).Msg("Session manager initialized")
	return &Manager{
		sessions: make(map[string]*Session),
		pending:  make(map[string]struct{}),
		opener:   opener,
		deps:     deps,
		max:      cfg.MaxSessions,
	}
}

// Create opens url in a new session. An empty id generates one.
func (m *Manager) Create(ctx context.Context, id, url string, em browser.Emulation) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	} else if err := security.ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}

	if err := m.reserve(id); err != nil {
		return nil, err
	}
	defer m.release(id)

	page, err := m.opener.Open(ctx, url, em)
	if err != nil {
		return nil, err
	}
	s, err := newSession(ctx, id, page, m.deps)
	if err != nil {
		if cerr := page.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("session_id", id).Msg("Error closing page after failed start")
		}
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.close(ctx)
		return nil, types.ErrManagerClosed
	}
	m.sessions[id] = s
	total := len(m.sessions)
	m.mu.Unlock()
	m.updateMetrics()

	log.Info().
		Str("session_id", id).
		Str("url", security.RedactURL(url)).
		Int("total_sessions", total).
		Msg("Session created")
	return s, nil
}

func (m *Manager) reserve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrManagerClosed
	}
	if _, ok := m.sessions[id]; ok {
		return types.ErrSessionAlreadyExists
	}
	if _, ok := m.pending[id]; ok {
		return types.ErrSessionAlreadyExists
	}
	if len(m.sessions)+len(m.pending) >= m.max {
		return types.ErrTooManySessions
	}
	m.pending[id] = struct{}{}
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	s.Touch()
	return s, nil
}

// Destroy closes a session and its page.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return types.ErrSessionNotFound
	}
	m.updateMetrics()

	err := s.close(ctx)
	log.Info().
		Str("session_id", id).
		Dur("lifetime", time.Since(s.CreatedAt)).
		Msg("Session destroyed")
	return err
}

// List returns the active session ids in order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close destroys every session in parallel.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, s := range sessions {
		eg.Go(func() error {
			if err := s.close(ctx); err != nil {
				log.Warn().Err(err).Str("session_id", s.ID).Msg("Error closing session during shutdown")
				return err
			}
			return nil
		})
	}
	err := eg.Wait()
	m.updateMetrics()

	log.Info().Int("sessions", len(sessions)).Msg("Session manager closed")
	return err
}

// pageCounter is implemented by openers that track open pages.
type pageCounter interface {
	Pages() int
}

func (m *Manager) updateMetrics() {
	pages := m.Count()
	if pc, ok := m.opener.(pageCounter); ok {
		pages = pc.Pages()
	}
	metrics.UpdateSessionMetrics(m.Count(), pages)
}
