package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Rorqualx/darkmode-go/internal/browser"
	"github.com/Rorqualx/darkmode-go/internal/darkmode"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

// NewRouter mounts the control API on a chi router. Middleware run in the
// order given.
func NewRouter(h *Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, mw := range middleware {
		r.Use(mw)
	}
	r.Get("/health", h.HandleHealth)
	r.Post("/v1", h.HandleAPI)
	r.Get("/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleSession(w, r, chi.URLParam(r, "id"))
	})
	r.NotFound(h.HandleNotFound)
	r.MethodNotAllowed(h.HandleMethodNotAllowed)
	return r
}

type command func(h *Handler, ctx context.Context, req *types.Request) (*types.Response, error)

// commands maps every known command to its handler.
var commands = map[string]command{
	types.CmdSessionsCreate:   (*Handler).sessionCreate,
	types.CmdSessionsList:     (*Handler).sessionList,
	types.CmdSessionsDestroy:  (*Handler).sessionDestroy,
	types.CmdDarkModeToggle:   (*Handler).darkModeToggle,
	types.CmdExtremeSet:       (*Handler).extremeSet,
	types.CmdSettingsGet:      (*Handler).settingsGet,
	types.CmdSettingsUpdate:   (*Handler).settingsUpdate,
	types.CmdSettingsExport:   (*Handler).settingsExport,
	types.CmdSettingsImport:   (*Handler).settingsImport,
	types.CmdSettingsReset:    (*Handler).settingsReset,
	types.CmdExclusionsAdd:    (*Handler).exclusionsAdd,
	types.CmdExclusionsRemove: (*Handler).exclusionsRemove,
	types.CmdPresetsApply:     (*Handler).presetsApply,
	types.CmdCustomCSSSet:     (*Handler).customCSSSet,
	types.CmdDiagnostics:      (*Handler).diagnostics,
}

func (h *Handler) route(ctx context.Context, req *types.Request) (*types.Response, error) {
	cmd, ok := commands[req.Cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidCommand, req.Cmd)
	}
	return cmd(h, ctx, req)
}

func (h *Handler) sessionCreate(ctx context.Context, req *types.Request) (*types.Response, error) {
	var em browser.Emulation
	if len(req.Device) > 0 {
		if err := json.Unmarshal(req.Device, &em); err != nil {
			return nil, fmt.Errorf("%w: device: %v", types.ErrInvalidRequest, err)
		}
	}
	s, err := h.sessions.Create(ctx, req.Session, req.URL, em)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	info, err := s.Info(ctx)
	if err != nil {
		return nil, err
	}
	return &types.Response{
		Message:  "Session created successfully",
		Sessions: []string{s.ID},
		State:    stateOf(info),
	}, nil
}

func (h *Handler) sessionList(_ context.Context, _ *types.Request) (*types.Response, error) {
	return &types.Response{Message: "Session list retrieved", Sessions: h.sessions.List()}, nil
}

func (h *Handler) sessionDestroy(ctx context.Context, req *types.Request) (*types.Response, error) {
	if err := h.sessions.Destroy(ctx, req.Session); err != nil {
		return nil, err
	}
	return &types.Response{Message: "Session destroyed successfully"}, nil
}

func (h *Handler) darkModeToggle(ctx context.Context, req *types.Request) (*types.Response, error) {
	return h.withSession(ctx, req.Session, "Dark mode updated", func(ctx context.Context, c *darkmode.Controller) error {
		if req.Enabled == nil {
			return c.Toggle(ctx)
		}
		return c.SetDarkMode(ctx, *req.Enabled)
	})
}

func (h *Handler) extremeSet(ctx context.Context, req *types.Request) (*types.Response, error) {
	return h.withSession(ctx, req.Session, "Extreme mode updated", func(ctx context.Context, c *darkmode.Controller) error {
		return c.SetExtremeMode(ctx, *req.Enabled)
	})
}

// settingsResponse runs fn and returns the resulting global settings.
func (h *Handler) settingsResponse(ctx context.Context, id, message string, fn func(ctx context.Context, c *darkmode.Controller) error) (*types.Response, error) {
	var raw json.RawMessage
	resp, err := h.withSession(ctx, id, message, func(ctx context.Context, c *darkmode.Controller) error {
		if fn != nil {
			if err := fn(ctx, c); err != nil {
				return err
			}
		}
		var err error
		raw, err = json.Marshal(c.Settings())
		return err
	})
	if err != nil {
		return nil, err
	}
	resp.Settings = raw
	return resp, nil
}

func (h *Handler) settingsGet(ctx context.Context, req *types.Request) (*types.Response, error) {
	return h.settingsResponse(ctx, req.Session, "Settings retrieved", nil)
}

func (h *Handler) settingsUpdate(ctx context.Context, req *types.Request) (*types.Response, error) {
	return h.settingsResponse(ctx, req.Session, "Settings updated", func(ctx context.Context, c *darkmode.Controller) error {
		return c.UpdateSettings(ctx, req.Settings)
	})
}

func (h *Handler) settingsExport(ctx context.Context, req *types.Request) (*types.Response, error) {
	var data []byte
	resp, err := h.withSession(ctx, req.Session, "Settings exported", func(ctx context.Context, c *darkmode.Controller) error {
		var err error
		data, err = c.Export(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp.Export = data
	return resp, nil
}

func (h *Handler) settingsImport(ctx context.Context, req *types.Request) (*types.Response, error) {
	return h.settingsResponse(ctx, req.Session, "Settings imported", func(ctx context.Context, c *darkmode.Controller) error {
		return c.Import(ctx, req.Data)
	})
}

func (h *Handler) settingsReset(ctx context.Context, req *types.Request) (*types.Response, error) {
	return h.settingsResponse(ctx, req.Session, "Settings reset to defaults", func(ctx context.Context, c *darkmode.Controller) error {
		return c.Reset(ctx, func() bool { return req.Confirm })
	})
}

func (h *Handler) exclusionsAdd(ctx context.Context, req *types.Request) (*types.Response, error) {
	return h.settingsResponse(ctx, req.Session, "Exclusion added", func(ctx context.Context, c *darkmode.Controller) error {
		return c.AddExclusion(ctx, req.Pattern)
	})
}

func (h *Handler) exclusionsRemove(ctx context.Context, req *types.Request) (*types.Response, error) {
	return h.settingsResponse(ctx, req.Session, "Exclusion removed", func(ctx context.Context, c *darkmode.Controller) error {
		return c.RemoveExclusion(ctx, req.Pattern)
	})
}

func (h *Handler) presetsApply(ctx context.Context, req *types.Request) (*types.Response, error) {
	return h.settingsResponse(ctx, req.Session, "Preset applied", func(ctx context.Context, c *darkmode.Controller) error {
		return c.ApplyPreset(ctx, req.Preset)
	})
}

func (h *Handler) customCSSSet(ctx context.Context, req *types.Request) (*types.Response, error) {
	return h.withSession(ctx, req.Session, "Custom CSS saved", func(ctx context.Context, c *darkmode.Controller) error {
		return c.SetCustomCSS(ctx, req.CSS)
	})
}

func (h *Handler) diagnostics(ctx context.Context, req *types.Request) (*types.Response, error) {
	var report []byte
	resp, err := h.withSession(ctx, req.Session, "Diagnostics collected", func(ctx context.Context, c *darkmode.Controller) error {
		r, err := c.Diagnostics(ctx)
		if err != nil {
			return err
		}
		report, err = json.Marshal(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp.Report = report
	return resp, nil
}
