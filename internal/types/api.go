package types

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Request validation limits.
const (
	MaxCmdLength       = 64
	MaxURLLength       = 8192
	MaxSessionIDLength = 128
	MaxTimeoutMs       = 600000 // 10 minutes in milliseconds
	MaxPatternLength   = 512
	MaxPresetLength    = 64
	MaxCSSLength       = 256 * 1024
	MaxImportLength    = 512 * 1024
)

// Commands supported by the control API.
const (
	CmdSessionsCreate   = "sessions.create"
	CmdSessionsList     = "sessions.list"
	CmdSessionsDestroy  = "sessions.destroy"
	CmdDarkModeToggle   = "darkmode.toggle"
	CmdExtremeSet       = "extreme.set"
	CmdSettingsGet      = "settings.get"
	CmdSettingsUpdate   = "settings.update"
	CmdSettingsExport   = "settings.export"
	CmdSettingsImport   = "settings.import"
	CmdSettingsReset    = "settings.reset"
	CmdExclusionsAdd    = "exclusions.add"
	CmdExclusionsRemove = "exclusions.remove"
	CmdPresetsApply     = "presets.apply"
	CmdCustomCSSSet     = "customcss.set"
	CmdDiagnostics      = "diagnostics"
)

// Status values for API responses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents an incoming control API request.
type Request struct {
	Cmd        string          `json:"cmd"`
	Session    string          `json:"session,omitempty"`
	URL        string          `json:"url,omitempty"`
	Device     json.RawMessage `json:"device,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`
	Settings   json.RawMessage `json:"settings,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Pattern    string          `json:"pattern,omitempty"`
	Preset     string          `json:"preset,omitempty"`
	CSS        string          `json:"css,omitempty"`
	Confirm    bool            `json:"confirm,omitempty"`
	MaxTimeout int             `json:"maxTimeout,omitempty"`
}

// IsKnownCommand reports whether cmd is a command the API understands.
func IsKnownCommand(cmd string) bool {
	switch cmd {
	case CmdSessionsCreate, CmdSessionsList, CmdSessionsDestroy,
		CmdDarkModeToggle, CmdExtremeSet,
		CmdSettingsGet, CmdSettingsUpdate, CmdSettingsExport, CmdSettingsImport, CmdSettingsReset,
		CmdExclusionsAdd, CmdExclusionsRemove, CmdPresetsApply, CmdCustomCSSSet, CmdDiagnostics:
		return true
	}
	return false
}

// Validate validates the request and returns an error if invalid.
func (r *Request) Validate() error {
	if r.Cmd == "" {
		return fmt.Errorf("cmd is required")
	}
	if len(r.Cmd) > MaxCmdLength {
		return fmt.Errorf("cmd exceeds maximum length of %d", MaxCmdLength)
	}
	if !IsKnownCommand(r.Cmd) {
		// %q prevents log injection through the command name
		return fmt.Errorf("Unknown command: %q", r.Cmd)
	}

	if r.URL != "" {
		if len(r.URL) > MaxURLLength {
			return fmt.Errorf("url exceeds maximum length of %d", MaxURLLength)
		}
		u, err := url.Parse(r.URL)
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("url scheme must be http or https, got: %s", scheme)
		}
	}

	if len(r.Session) > MaxSessionIDLength {
		return fmt.Errorf("session exceeds maximum length of %d", MaxSessionIDLength)
	}
	if len(r.Pattern) > MaxPatternLength {
		return fmt.Errorf("pattern exceeds maximum length of %d", MaxPatternLength)
	}
	if len(r.Preset) > MaxPresetLength {
		return fmt.Errorf("preset exceeds maximum length of %d", MaxPresetLength)
	}
	if len(r.CSS) > MaxCSSLength {
		return fmt.Errorf("css exceeds maximum length of %d", MaxCSSLength)
	}
	if len(r.Data) > MaxImportLength {
		return fmt.Errorf("data exceeds maximum length of %d", MaxImportLength)
	}

	if r.MaxTimeout < 0 {
		return fmt.Errorf("maxTimeout cannot be negative")
	}
	if r.MaxTimeout > MaxTimeoutMs {
		return fmt.Errorf("maxTimeout exceeds maximum of %d ms", MaxTimeoutMs)
	}

	switch r.Cmd {
	case CmdSessionsCreate:
		if r.URL == "" {
			return fmt.Errorf("url is required")
		}
	case CmdSessionsList:
	default:
		if r.Session == "" {
			return fmt.Errorf("session is required")
		}
	}

	switch r.Cmd {
	case CmdExtremeSet:
		if r.Enabled == nil {
			return fmt.Errorf("enabled is required")
		}
	case CmdExclusionsAdd, CmdExclusionsRemove:
		if strings.TrimSpace(r.Pattern) == "" {
			return fmt.Errorf("pattern is required")
		}
	case CmdPresetsApply:
		if r.Preset == "" {
			return fmt.Errorf("preset is required")
		}
	case CmdSettingsUpdate:
		if len(r.Settings) == 0 {
			return fmt.Errorf("settings is required")
		}
	case CmdSettingsImport:
		if len(r.Data) == 0 {
			return fmt.Errorf("data is required")
		}
	}

	return nil
}

// Response represents an API response.
type Response struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	StartTime int64           `json:"startTimestamp"`
	EndTime   int64           `json:"endTimestamp"`
	Version   string          `json:"version"`
	Sessions  []string        `json:"sessions,omitempty"`
	State     *SessionState   `json:"state,omitempty"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	Export    json.RawMessage `json:"export,omitempty"`
	Report    json.RawMessage `json:"report,omitempty"`
}

// SessionState is the observable state of one themed page.
type SessionState struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Site            string `json:"site"`
	DarkMode        bool   `json:"darkModeEnabled"`
	ExtremeMode     bool   `json:"extremeModeActive"`
	Excluded        bool   `json:"excluded"`
	PerformanceTier string `json:"performanceTier"`
	ForcedElements  int    `json:"forcedElementsCount"`
	ShadowRoots     int    `json:"shadowRootsCount"`
}
