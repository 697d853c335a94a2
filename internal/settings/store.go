package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rorqualx/darkmode-go/internal/adaptive"
	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/loop"
	"github.com/Rorqualx/darkmode-go/internal/storage"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

// Persistence keys.
const (
	KeySettings     = "settings"
	KeyDarkMode     = "darkMode"
	KeyDeviceInfo   = "deviceInfo"
	PerSitePrefix   = "perSiteSettings_"
	CustomCSSPrefix = "customCss_"
)

// ExportVersion is the export format version.
const ExportVersion = "3.1.0"

// SaveDelay is the debounce window of Save.
const SaveDelay = 250 * time.Millisecond

// PerSiteKey returns the storage key of site's override record.
func PerSiteKey(site string) string { return PerSitePrefix + site }

// CustomCSSKey returns the storage key of site's custom CSS.
func CustomCSSKey(site string) string { return CustomCSSPrefix + site }

// Store owns the in-memory settings of one document and persists them to a
// storage.Store. It is confined to the loop of the scheduler it was built
// with.
type Store struct {
	ctx  context.Context
	kv   storage.Store
	site string

	global    Global
	perSite   *PerSite
	customCSS string
	darkMode  bool
	device    device.Info

	save    *adaptive.Debounce
	onSaved []func()
	onReset []func()
}

// NewStore creates a store for site. ctx carries the logger and bounds the
// debounced writes.
func NewStore(ctx context.Context, kv storage.Store, s loop.Scheduler, site string) *Store {
	st := &Store{
		ctx:    ctx,
		kv:     kv,
		site:   site,
		global: Defaults(),
		device: device.Default(),
	}
	st.save = adaptive.NewDebounce(s, SaveDelay, false, func() {
		if err := st.flush(st.ctx); err != nil {
			zerolog.Ctx(st.ctx).Error().Err(err).Msg("Failed to save settings")
		}
	})
	return st
}

// Site returns the site identifier this store was built for.
func (s *Store) Site() string { return s.site }

// Global returns a copy of the effective settings.
func (s *Store) Global() Global { return s.global.Clone() }

// PerSite returns the current site's override record.
func (s *Store) PerSite() (PerSite, bool) {
	if s.perSite == nil {
		return PerSite{}, false
	}
	return s.perSite.Clone(), true
}

// CustomCSS returns the current site's custom CSS.
func (s *Store) CustomCSS() string { return s.customCSS }

// DarkMode returns the remembered dark-mode flag.
func (s *Store) DarkMode() bool { return s.darkMode }

// Device returns the cached device snapshot.
func (s *Store) Device() device.Info { return s.device }

// SetDevice replaces the device snapshot. It is persisted with the next save.
func (s *Store) SetDevice(info device.Info) { s.device = info }

// OnSaved registers fn to run after every successful debounced save.
func (s *Store) OnSaved(fn func()) { s.onSaved = append(s.onSaved, fn) }

// OnReset registers fn to run after Reset restored the defaults.
func (s *Store) OnReset(fn func()) { s.onReset = append(s.onReset, fn) }

// Load runs LoadGlobal then LoadPerSite.
func (s *Store) Load(ctx context.Context) {
	s.LoadGlobal(ctx)
	s.LoadPerSite(ctx)
}

// LoadGlobal hydrates the global record, the cached device info and the
// global dark-mode flag. Failures fall back to defaults.
func (s *Store) LoadGlobal(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	s.global = Defaults()
	if raw, ok := s.get(ctx, KeySettings); ok {
		merged, err := DeepMerge(Defaults(), raw)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load global settings")
		}
		s.global = merged
	}

	if raw, ok := s.get(ctx, KeyDeviceInfo); ok {
		info := s.device
		if err := json.Unmarshal(raw, &info); err != nil {
			logger.Error().Err(err).Msg("Ignoring cached device info")
		} else {
			s.device = info
		}
	}

	s.darkMode = false
	if raw, ok := s.get(ctx, KeyDarkMode); ok {
		if err := json.Unmarshal(raw, &s.darkMode); err != nil {
			logger.Error().Err(err).Msg("Ignoring stored dark-mode flag")
			s.darkMode = false
		}
	}
	logger.Info().Msg("Global settings loaded")
}

// LoadPerSite loads the current site's override and custom CSS. A missing
// or unreadable record is replaced by a fresh one that is not persisted
// until the next save.
func (s *Store) LoadPerSite(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	raw, ok := s.get(ctx, PerSiteKey(s.site))
	if !ok {
		s.initPerSite()
		logger.Info().Msg("No per-site settings found, initialized")
		return
	}

	var rec PerSite
	if err := json.Unmarshal(raw, &rec); err != nil {
		logger.Error().Err(err).Msg("Failed to load per-site settings")
		s.initPerSite()
		return
	}
	s.perSite = &rec
	rec.ApplyTo(&s.global)
	if rec.DarkModeEnabled != nil {
		s.darkMode = *rec.DarkModeEnabled
	}

	s.customCSS = ""
	if css, ok := s.get(ctx, CustomCSSKey(s.site)); ok {
		if err := json.Unmarshal(css, &s.customCSS); err != nil {
			logger.Error().Err(err).Msg("Ignoring stored custom CSS")
			s.customCSS = ""
		}
	}
	logger.Info().Msg("Loaded per-site settings")
}

func (s *Store) initPerSite() {
	rec := NewPerSite(s.global, s.darkMode)
	s.perSite = &rec
}

// get reads key, logging anything other than a missing key.
func (s *Store) get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, types.ErrKeyNotFound) {
			zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("Storage read failed")
		}
		return nil, false
	}
	return raw, true
}

func (s *Store) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, raw)
}

// Update mutates the settings through fn and schedules a save.
func (s *Store) Update(fn func(g *Global)) {
	fn(&s.global)
	s.global.Normalize()
	s.Save()
}

// Patch deep-merges a partial JSON document into the settings and
// schedules a save. Fields of the wrong type are skipped and reported.
func (s *Store) Patch(patch []byte) error {
	trimmed := bytes.TrimSpace(patch)
	if !json.Valid(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: settings patch must be a JSON object", types.ErrInvalidValue)
	}
	merged, err := DeepMerge(s.global, trimmed)
	s.global = merged
	s.Save()
	return err
}

// Save schedules a debounced write. Only the state at the end of the
// window is persisted.
func (s *Store) Save() { s.save.Trigger() }

// SavePending reports whether a debounced save is waiting.
func (s *Store) SavePending() bool { return s.save.Pending() }

// Flush writes a pending save now.
func (s *Store) Flush(ctx context.Context) error {
	if !s.save.Pending() {
		return nil
	}
	s.save.Stop()
	return s.flush(ctx)
}

func (s *Store) flush(ctx context.Context) error {
	if err := s.set(ctx, KeySettings, s.global); err != nil {
		return err
	}
	if err := s.set(ctx, KeyDeviceInfo, s.device); err != nil {
		return err
	}
	if err := s.SavePerSite(ctx); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().Msg("All settings saved")
	for _, fn := range s.onSaved {
		fn()
	}
	return nil
}

// SavePerSite mirrors the live values into the per-site record and writes
// it, along with the custom CSS when there is any.
func (s *Store) SavePerSite(ctx context.Context) error {
	if s.perSite == nil {
		s.initPerSite()
	} else {
		s.perSite.Mirror(s.global, s.darkMode)
	}
	if err := s.set(ctx, PerSiteKey(s.site), s.perSite); err != nil {
		return err
	}
	if s.customCSS != "" {
		return s.set(ctx, CustomCSSKey(s.site), s.customCSS)
	}
	return nil
}

// SetDarkMode records the dark-mode flag globally and for the site.
func (s *Store) SetDarkMode(ctx context.Context, on bool) error {
	s.darkMode = on
	if err := s.set(ctx, KeyDarkMode, on); err != nil {
		return err
	}
	return s.SavePerSite(ctx)
}

// SetCustomCSS stores css for the current site. An empty css deletes it.
func (s *Store) SetCustomCSS(ctx context.Context, css string) error {
	s.customCSS = css
	if css == "" {
		return s.kv.Delete(ctx, CustomCSSKey(s.site))
	}
	return s.set(ctx, CustomCSSKey(s.site), css)
}

// AdoptPosition stores p as this site's button position unless the user
// already chose one. It reports whether the position was adopted.
func (s *Store) AdoptPosition(ctx context.Context, p Position) (bool, error) {
	if !p.Valid() {
		return false, nil
	}
	if s.perSite == nil {
		s.initPerSite()
	}
	if s.perSite.Position != nil {
		return false, nil
	}
	s.perSite.UseGlobalPosition = false
	s.global.Position = p
	return true, s.SavePerSite(ctx)
}

// Reset deletes every per-site and custom CSS key and restores the
// defaults. Nothing changes unless confirm returns true.
func (s *Store) Reset(ctx context.Context, confirm func() bool) error {
	if confirm == nil || !confirm() {
		return types.ErrConfirmationRequired
	}
	logger := zerolog.Ctx(ctx)
	s.save.Stop()

	var errs []error
	for _, prefix := range []string{PerSitePrefix, CustomCSSPrefix} {
		keys, err := s.kv.List(ctx, prefix)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, k := range keys {
			if err := s.kv.Delete(ctx, k); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.global = Defaults()
	s.darkMode = false
	s.customCSS = ""
	s.initPerSite()

	if err := s.set(ctx, KeySettings, s.global); err != nil {
		errs = append(errs, err)
	}
	if err := s.set(ctx, KeyDarkMode, false); err != nil {
		errs = append(errs, err)
	}

	for _, fn := range s.onReset {
		fn()
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error().Err(err).Msg("Error during settings reset")
		return fmt.Errorf("reset: %w", err)
	}
	logger.Info().Msg("All settings have been reset")
	return nil
}

// Export is the export document.
type Export struct {
	Global          Global             `json:"global"`
	PerSite         map[string]PerSite `json:"perSite"`
	CustomCSS       map[string]string  `json:"customCss"`
	DarkModeEnabled bool               `json:"darkModeEnabled"`
	DeviceInfo      device.Info        `json:"deviceInfo"`
	Version         string             `json:"version"`
	ExportDate      time.Time          `json:"exportDate"`
}

// Export serializes every reachable record to an indented JSON document.
// Per-site maps are keyed by storage key.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	doc := Export{
		Global:          s.global.Clone(),
		PerSite:         map[string]PerSite{},
		CustomCSS:       map[string]string{},
		DarkModeEnabled: s.darkMode,
		DeviceInfo:      s.device,
		Version:         ExportVersion,
		ExportDate:      time.Now().UTC(),
	}

	keys, err := s.kv.List(ctx, PerSitePrefix)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	for _, k := range keys {
		raw, ok := s.get(ctx, k)
		if !ok {
			continue
		}
		var rec PerSite
		if err := json.Unmarshal(raw, &rec); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", k).Msg("Skipping unreadable per-site record")
			continue
		}
		doc.PerSite[k] = rec
	}

	keys, err = s.kv.List(ctx, CustomCSSPrefix)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	for _, k := range keys {
		raw, ok := s.get(ctx, k)
		if !ok {
			continue
		}
		var css string
		if err := json.Unmarshal(raw, &css); err != nil {
			continue
		}
		doc.CustomCSS[k] = css
	}

	return json.MarshalIndent(doc, "", "  ")
}

type importDoc struct {
	Global          json.RawMessage            `json:"global"`
	PerSite         map[string]json.RawMessage `json:"perSite"`
	CustomCSS       map[string]string          `json:"customCss"`
	DarkModeEnabled *bool                      `json:"darkModeEnabled"`
	DeviceInfo      json.RawMessage            `json:"deviceInfo"`
	Version         json.RawMessage            `json:"version"`
}

// Import replaces the state with an export document. The document is fully
// decoded and validated before anything is written; a rejected document
// returns a *types.ImportError and leaves the store untouched.
func (s *Store) Import(ctx context.Context, blob []byte) error {
	var doc importDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return types.NewImportError("", "not a JSON object")
	}
	if g := bytes.TrimSpace(doc.Global); len(g) == 0 || g[0] != '{' {
		return types.NewImportError("global", "missing or not an object")
	}
	var version string
	if err := json.Unmarshal(doc.Version, &version); err != nil || strings.TrimSpace(version) == "" {
		return types.NewImportError("version", "missing or not a string")
	}

	global, err := DeepMerge(Defaults(), doc.Global)
	if err != nil {
		return &types.ImportError{Field: "global", Message: err.Error(), Err: errors.Join(types.ErrInvalidImport, err)}
	}

	info := s.device
	if d := bytes.TrimSpace(doc.DeviceInfo); len(d) > 0 && !bytes.Equal(d, []byte("null")) {
		if err := json.Unmarshal(d, &info); err != nil {
			return types.NewImportError("deviceInfo", err.Error())
		}
	}

	perSite := make(map[string]PerSite, len(doc.PerSite))
	for k, raw := range doc.PerSite {
		var rec PerSite
		if err := json.Unmarshal(raw, &rec); err != nil {
			return types.NewImportError("perSite."+k, err.Error())
		}
		perSite[prefixed(PerSitePrefix, k)] = rec
	}
	customCSS := make(map[string]string, len(doc.CustomCSS))
	for k, css := range doc.CustomCSS {
		customCSS[prefixed(CustomCSSPrefix, k)] = css
	}

	darkMode := s.darkMode
	if doc.DarkModeEnabled != nil {
		darkMode = *doc.DarkModeEnabled
	}

	s.save.Stop()
	s.global = global
	s.device = info
	s.darkMode = darkMode

	var errs []error
	if err := s.set(ctx, KeySettings, s.global); err != nil {
		errs = append(errs, err)
	}
	if err := s.set(ctx, KeyDeviceInfo, s.device); err != nil {
		errs = append(errs, err)
	}
	if err := s.set(ctx, KeyDarkMode, s.darkMode); err != nil {
		errs = append(errs, err)
	}
	for k, rec := range perSite {
		if err := s.set(ctx, k, rec); err != nil {
			errs = append(errs, err)
		}
	}
	for k, css := range customCSS {
		if err := s.set(ctx, k, css); err != nil {
			errs = append(errs, err)
		}
	}

	s.perSite = nil
	s.customCSS = ""
	s.LoadPerSite(ctx)

	if err := errors.Join(errs...); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Import partially written")
		return fmt.Errorf("import: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("version", version).Int("sites", len(perSite)).Msg("Settings imported")
	return nil
}

func prefixed(prefix, key string) string {
	if strings.HasPrefix(key, prefix) {
		return key
	}
	return prefix + key
}
