package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Rorqualx/darkmode-go/internal/browser"
	"github.com/Rorqualx/darkmode-go/internal/config"
	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/dom"
	"github.com/Rorqualx/darkmode-go/internal/dom/htmldoc"
	"github.com/Rorqualx/darkmode-go/internal/middleware"
	"github.com/Rorqualx/darkmode-go/internal/session"
	"github.com/Rorqualx/darkmode-go/internal/settings"
	"github.com/Rorqualx/darkmode-go/internal/storage"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

const testHTML = `<html><head><title>Test</title></head><body><main><p>text</p></main></body></html>`

type stubPage struct {
	doc *htmldoc.Document
}

func (p *stubPage) Document() dom.Document { return p.doc }

func (p *stubPage) Probe() device.Probe {
	return device.StaticProbe{
		Env:     device.Environment{ScreenWidth: 1920, ScreenHeight: 1080, InnerWidth: 1920, InnerHeight: 1080, PixelRatio: 1, DeviceMemory: 8},
		Elapsed: 5 * time.Millisecond,
	}
}

func (p *stubPage) OnNavigate(func(string)) func() { return func() {} }

func (p *stubPage) Close() error { return nil }

type stubOpener struct {
	lastDevice browser.Emulation
}

func (o *stubOpener) Open(_ context.Context, url string, em browser.Emulation) (session.Page, error) {
	if err := em.Validate(); err != nil {
		return nil, errors.Join(types.ErrInvalidRequest, err)
	}
	o.lastDevice = em
	doc, err := htmldoc.ParseString(url, testHTML)
	if err != nil {
		return nil, err
	}
	return &stubPage{doc: doc}, nil
}

type stubHealth bool

func (s stubHealth) Healthy(context.Context) bool { return bool(s) }

func newTestHandler(t *testing.T, healthy bool) (http.Handler, *stubOpener) {
	t.Helper()
	cfg := &config.Config{
		DefaultTimeout: 10 * time.Second,
		MaxTimeout:     30 * time.Second,
		MaxSessions:    4,
	}
	o := &stubOpener{}
	m := session.NewManager(cfg, o, session.Deps{
		Store:    storage.NewMemory(),
		Location: time.UTC,
		Version:  "test",
		Clock:    clock.NewMock(),
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return NewRouter(New(m, cfg, stubHealth(healthy))), o
}

func do(t *testing.T, h http.Handler, body any) types.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp types.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	resp := do(t, h, types.Request{Cmd: types.CmdSessionsCreate, URL: "https://example.com/page"})
	if resp.Status != types.StatusOK || len(resp.Sessions) != 1 {
		t.Fatalf("create: %+v", resp)
	}
	return resp.Sessions[0]
}

func boolPtr(b bool) *bool { return &b }

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, true)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var resp types.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Status != types.StatusOK || resp.Version == "" {
		t.Errorf("unexpected health response: %+v", resp)
	}
}

func TestHealthEndpointUnhealthyBrowser(t *testing.T) {
	h, _ := newTestHandler(t, false)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestRouting(t *testing.T) {
	h, _ := newTestHandler(t, true)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1 = %d, want 405", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/missing-session-id", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session = %d, want 404", w.Code)
	}
}

func TestInvalidRequests(t *testing.T) {
	h, _ := newTestHandler(t, true)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", "not json", "Invalid JSON request"},
		{"unknown command", `{"cmd":"request.get"}`, "unknown command"},
		{"missing session", `{"cmd":"darkmode.toggle"}`, "session"},
		{"extreme without enabled", `{"cmd":"extreme.set","session":"abc"}`, "enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			var resp types.Response
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Status != types.StatusError {
				t.Errorf("status = %q, want error", resp.Status)
			}
			if !strings.Contains(strings.ToLower(resp.Message), strings.ToLower(tt.want)) {
				t.Errorf("message = %q, want it to mention %q", resp.Message, tt.want)
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	h, _ := newTestHandler(t, true)
	id := createSession(t, h)

	resp := do(t, h, types.Request{Cmd: types.CmdSessionsList})
	if len(resp.Sessions) != 1 || resp.Sessions[0] != id {
		t.Errorf("list = %v", resp.Sessions)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET session = %d", w.Code)
	}
	var state types.Response
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.State == nil || state.State.Site != "example.com" {
		t.Errorf("state = %+v", state.State)
	}

	resp = do(t, h, types.Request{Cmd: types.CmdSessionsDestroy, Session: id})
	if resp.Status != types.StatusOK {
		t.Fatalf("destroy: %+v", resp)
	}
	resp = do(t, h, types.Request{Cmd: types.CmdSessionsDestroy, Session: id})
	if resp.Status != types.StatusError || resp.Message != "Session not found" {
		t.Errorf("second destroy: %+v", resp)
	}
}

func TestSessionCreateDevice(t *testing.T) {
	h, o := newTestHandler(t, true)

	resp := do(t, h, map[string]any{
		"cmd":    types.CmdSessionsCreate,
		"url":    "https://example.com/",
		"device": map[string]any{"width": 390, "height": 844, "mobile": true},
	})
	if resp.Status != types.StatusOK {
		t.Fatalf("create: %+v", resp)
	}
	if o.lastDevice.Width != 390 || !o.lastDevice.Mobile {
		t.Errorf("device = %+v", o.lastDevice)
	}

	resp = do(t, h, map[string]any{
		"cmd":    types.CmdSessionsCreate,
		"url":    "https://example.com/",
		"device": map[string]any{"width": 5},
	})
	if resp.Status != types.StatusError {
		t.Errorf("bad device should fail: %+v", resp)
	}
}

func TestDarkModeCommands(t *testing.T) {
	h, _ := newTestHandler(t, true)
	id := createSession(t, h)

	resp := do(t, h, types.Request{Cmd: types.CmdDarkModeToggle, Session: id})
	if resp.Status != types.StatusOK || resp.State == nil || !resp.State.DarkMode {
		t.Fatalf("toggle on: %+v", resp)
	}
	resp = do(t, h, types.Request{Cmd: types.CmdDarkModeToggle, Session: id, Enabled: boolPtr(false)})
	if resp.State == nil || resp.State.DarkMode {
		t.Errorf("explicit off: %+v", resp.State)
	}

	resp = do(t, h, types.Request{Cmd: types.CmdExtremeSet, Session: id, Enabled: boolPtr(true)})
	if resp.Status != types.StatusOK || resp.State == nil || !resp.State.ExtremeMode {
		t.Errorf("extreme on: %+v", resp)
	}
}

func TestSettingsCommands(t *testing.T) {
	h, _ := newTestHandler(t, true)
	id := createSession(t, h)

	resp := do(t, h, types.Request{Cmd: types.CmdSettingsUpdate, Session: id, Settings: json.RawMessage(`{"brightness":85}`)})
	if resp.Status != types.StatusOK {
		t.Fatalf("update: %+v", resp)
	}
	var g settings.Global
	if err := json.Unmarshal(resp.Settings, &g); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if g.Brightness != 85 {
		t.Errorf("brightness = %d, want 85", g.Brightness)
	}

	resp = do(t, h, types.Request{Cmd: types.CmdPresetsApply, Session: id, Preset: "NIGHT"})
	if err := json.Unmarshal(resp.Settings, &g); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if g.Brightness != 80 {
		t.Errorf("preset brightness = %d, want 80", g.Brightness)
	}
	resp = do(t, h, types.Request{Cmd: types.CmdPresetsApply, Session: id, Preset: "PLAID"})
	if resp.Status != types.StatusError {
		t.Errorf("unknown preset should fail: %+v", resp)
	}

	resp = do(t, h, types.Request{Cmd: types.CmdExclusionsAdd, Session: id, Pattern: "*.internal.test"})
	if err := json.Unmarshal(resp.Settings, &g); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if len(g.ExclusionList) != 1 || g.ExclusionList[0] != "*.internal.test" {
		t.Errorf("exclusions = %v", g.ExclusionList)
	}
	resp = do(t, h, types.Request{Cmd: types.CmdExclusionsRemove, Session: id, Pattern: "*.internal.test"})
	if err := json.Unmarshal(resp.Settings, &g); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if len(g.ExclusionList) != 0 {
		t.Errorf("exclusions after remove = %v", g.ExclusionList)
	}

	resp = do(t, h, types.Request{Cmd: types.CmdSettingsReset, Session: id})
	if resp.Status != types.StatusError {
		t.Errorf("unconfirmed reset should fail: %+v", resp)
	}
	resp = do(t, h, types.Request{Cmd: types.CmdSettingsReset, Session: id, Confirm: true})
	if resp.Status != types.StatusOK {
		t.Fatalf("reset: %+v", resp)
	}
	if err := json.Unmarshal(resp.Settings, &g); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if g.Brightness != settings.Defaults().Brightness {
		t.Errorf("brightness after reset = %d", g.Brightness)
	}
}

func TestExportImport(t *testing.T) {
	h, _ := newTestHandler(t, true)
	id := createSession(t, h)

	do(t, h, types.Request{Cmd: types.CmdSettingsUpdate, Session: id, Settings: json.RawMessage(`{"contrast":123}`)})
	resp := do(t, h, types.Request{Cmd: types.CmdSettingsExport, Session: id})
	if resp.Status != types.StatusOK || len(resp.Export) == 0 {
		t.Fatalf("export: %+v", resp)
	}
	exported := resp.Export

	do(t, h, types.Request{Cmd: types.CmdSettingsReset, Session: id, Confirm: true})
	resp = do(t, h, types.Request{Cmd: types.CmdSettingsImport, Session: id, Data: exported})
	if resp.Status != types.StatusOK {
		t.Fatalf("import: %+v", resp)
	}
	var g settings.Global
	if err := json.Unmarshal(resp.Settings, &g); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if g.Contrast != 123 {
		t.Errorf("contrast after import = %d, want 123", g.Contrast)
	}

	resp = do(t, h, types.Request{Cmd: types.CmdSettingsImport, Session: id, Data: json.RawMessage(`{"version":"x"}`)})
	if resp.Status != types.StatusError {
		t.Errorf("invalid import should fail: %+v", resp)
	}
}

func TestDiagnosticsAndCustomCSS(t *testing.T) {
	h, _ := newTestHandler(t, true)
	id := createSession(t, h)

	resp := do(t, h, types.Request{Cmd: types.CmdCustomCSSSet, Session: id, CSS: "body { color: #ddd; }"})
	if resp.Status != types.StatusOK {
		t.Fatalf("custom css: %+v", resp)
	}

	resp = do(t, h, types.Request{Cmd: types.CmdDiagnostics, Session: id})
	if resp.Status != types.StatusOK || len(resp.Report) == 0 {
		t.Fatalf("diagnostics: %+v", resp)
	}
	var report map[string]any
	if err := json.Unmarshal(resp.Report, &report); err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(report) == 0 {
		t.Error("report should not be empty")
	}
}

func TestMiddlewareChain(t *testing.T) {
	cfg := &config.Config{DefaultTimeout: time.Second, MaxTimeout: time.Second, MaxSessions: 1}
	m := session.NewManager(cfg, &stubOpener{}, session.Deps{Store: storage.NewMemory(), Clock: clock.NewMock()})
	defer m.Close(context.Background())

	h := NewRouter(New(m, cfg, nil), middleware.CORS(middleware.CORSConfig{AllowedOrigins: []string{"https://example.com"}}))
	req := httptest.NewRequest(http.MethodOptions, "/v1", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing CORS Allow-Origin header")
	}
}

func BenchmarkRoute(b *testing.B) {
	cfg := &config.Config{DefaultTimeout: time.Second, MaxTimeout: time.Second, MaxSessions: 1}
	m := session.NewManager(cfg, &stubOpener{}, session.Deps{Store: storage.NewMemory(), Clock: clock.NewMock()})
	defer m.Close(context.Background())
	h := NewRouter(New(m, cfg, nil))
	body := []byte(`{"cmd":"sessions.list"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1", bytes.NewReader(body)))
	}
}
