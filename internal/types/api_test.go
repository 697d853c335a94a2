package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// TestRequestJSONFieldNames pins the wire names clients depend on.
func TestRequestJSONFieldNames(t *testing.T) {
	enabled := true
	req := Request{
		Cmd:        CmdSettingsUpdate,
		Session:    "test-session-0001",
		URL:        "https://example.com",
		Device:     json.RawMessage(`{"width":390}`),
		Enabled:    &enabled,
		Settings:   json.RawMessage(`{"brightness":90}`),
		Data:       json.RawMessage(`{}`),
		Pattern:    "*.example.com",
		Preset:     "NIGHT",
		CSS:        "body{}",
		Confirm:    true,
		MaxTimeout: 60000,
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	jsonStr := string(data)

	for _, field := range []string{
		`"cmd"`, `"session"`, `"url"`, `"device"`, `"enabled"`, `"settings"`,
		`"data"`, `"pattern"`, `"preset"`, `"css"`, `"confirm"`, `"maxTimeout"`,
	} {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("Expected field %s not found in JSON: %s", field, jsonStr)
		}
	}
}

func TestRequestOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Request{Cmd: CmdSessionsList})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	if got := string(data); got != `{"cmd":"sessions.list"}` {
		t.Errorf("got %s", got)
	}
}

func TestResponseJSONFieldNames(t *testing.T) {
	resp := Response{
		Status:    StatusOK,
		Message:   "ok",
		StartTime: 1,
		EndTime:   2,
		Version:   "v",
		Sessions:  []string{"a"},
		State: &SessionState{
			ID:              "a",
			URL:             "https://example.com",
			Site:            "example.com",
			DarkMode:        true,
			PerformanceTier: "HIGH",
		},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}
	jsonStr := string(data)

	for _, field := range []string{
		`"status"`, `"message"`, `"startTimestamp"`, `"endTimestamp"`, `"version"`,
		`"sessions"`, `"state"`, `"darkModeEnabled"`, `"extremeModeActive"`,
		`"performanceTier"`, `"forcedElementsCount"`, `"shadowRootsCount"`,
	} {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("Expected field %s not found in JSON: %s", field, jsonStr)
		}
	}
	for _, field := range []string{`"settings"`, `"export"`, `"report"`} {
		if strings.Contains(jsonStr, field) {
			t.Errorf("Empty field %s should be omitted: %s", field, jsonStr)
		}
	}
}

func TestRequestDeserialization(t *testing.T) {
	jsonStr := `{
		"cmd": "extreme.set",
		"session": "my-session-000001",
		"enabled": false,
		"maxTimeout": 30000
	}`

	var req Request
	if err := json.Unmarshal([]byte(jsonStr), &req); err != nil {
		t.Fatalf("Failed to unmarshal request: %v", err)
	}
	if req.Cmd != CmdExtremeSet {
		t.Errorf("Cmd = %q", req.Cmd)
	}
	if req.Enabled == nil || *req.Enabled {
		t.Errorf("Enabled = %v, want explicit false", req.Enabled)
	}
	if req.MaxTimeout != 30000 {
		t.Errorf("MaxTimeout = %d", req.MaxTimeout)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestRequestValidate(t *testing.T) {
	off := false
	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{"missing cmd", Request{}, "cmd is required"},
		{"unknown cmd", Request{Cmd: "request.get"}, "Unknown command"},
		{"long cmd", Request{Cmd: strings.Repeat("x", MaxCmdLength+1)}, "maximum length"},
		{"create needs url", Request{Cmd: CmdSessionsCreate}, "url is required"},
		{"create bad scheme", Request{Cmd: CmdSessionsCreate, URL: "file:///etc/passwd"}, "scheme"},
		{"create ok", Request{Cmd: CmdSessionsCreate, URL: "https://example.com"}, ""},
		{"list needs nothing", Request{Cmd: CmdSessionsList}, ""},
		{"toggle needs session", Request{Cmd: CmdDarkModeToggle}, "session is required"},
		{"toggle ok", Request{Cmd: CmdDarkModeToggle, Session: "s"}, ""},
		{"extreme needs enabled", Request{Cmd: CmdExtremeSet, Session: "s"}, "enabled is required"},
		{"extreme ok", Request{Cmd: CmdExtremeSet, Session: "s", Enabled: &off}, ""},
		{"blank pattern", Request{Cmd: CmdExclusionsAdd, Session: "s", Pattern: "  "}, "pattern is required"},
		{"preset required", Request{Cmd: CmdPresetsApply, Session: "s"}, "preset is required"},
		{"settings required", Request{Cmd: CmdSettingsUpdate, Session: "s"}, "settings is required"},
		{"import data required", Request{Cmd: CmdSettingsImport, Session: "s"}, "data is required"},
		{"negative timeout", Request{Cmd: CmdSessionsList, MaxTimeout: -1}, "negative"},
		{"huge timeout", Request{Cmd: CmdSessionsList, MaxTimeout: MaxTimeoutMs + 1}, "maxTimeout exceeds"},
		{"css too large", Request{Cmd: CmdCustomCSSSet, Session: "s", CSS: strings.Repeat("a", MaxCSSLength+1)}, "css exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsKnownCommand(t *testing.T) {
	if !IsKnownCommand(CmdDiagnostics) || !IsKnownCommand(CmdCustomCSSSet) {
		t.Error("known commands rejected")
	}
	if IsKnownCommand("sessions.create ") || IsKnownCommand("") {
		t.Error("unknown commands accepted")
	}
}

func TestImportError(t *testing.T) {
	err := NewImportError("brightness", "must be between 0 and 200")
	if !errors.Is(err, ErrInvalidImport) {
		t.Error("ImportError should unwrap to ErrInvalidImport")
	}
	if got := err.Error(); got != "import failed: brightness: must be between 0 and 200" {
		t.Errorf("Error() = %q", got)
	}
	if got := NewImportError("", "not JSON").Error(); got != "import failed: not JSON" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDOMError(t *testing.T) {
	inner := errors.New("gone")
	err := &DOMError{Operation: "style", Node: 42, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("DOMError should unwrap")
	}
	if got := err.Error(); got != "dom style on node 42: gone" {
		t.Errorf("Error() = %q", got)
	}
	var pe error = &PatternError{Pattern: "[", Err: ErrInvalidPattern}
	if !errors.Is(pe, ErrInvalidPattern) {
		t.Error("PatternError should unwrap")
	}
}
