// Package handlers provides the HTTP control API: session management and
// the commands that drive each page's dark-mode controller.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/darkmode-go/internal/config"
	"github.com/Rorqualx/darkmode-go/internal/darkmode"
	"github.com/Rorqualx/darkmode-go/internal/metrics"
	"github.com/Rorqualx/darkmode-go/internal/security"
	"github.com/Rorqualx/darkmode-go/internal/session"
	"github.com/Rorqualx/darkmode-go/internal/types"
	"github.com/Rorqualx/darkmode-go/pkg/version"
)

// maxBodySize limits request bodies; imports are the largest payload.
const maxBodySize = types.MaxImportLength + 64*1024

// HealthChecker reports whether the browser is usable.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Handler serves the control API.
type Handler struct {
	sessions *session.Manager
	config   *config.Config
	browser  HealthChecker
}

// New creates a Handler. browser may be nil when no browser backs the
// sessions.
func New(sessions *session.Manager, cfg *config.Config, browser HealthChecker) *Handler {
	return &Handler{sessions: sessions, config: cfg, browser: browser}
}

// HandleHealth reports service health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	resp := types.Response{
		Status:    types.StatusOK,
		Message:   "Dark mode service is ready",
		StartTime: startTime.UnixMilli(),
		Version:   version.Full(),
		Sessions:  h.sessions.List(),
	}
	status := http.StatusOK
	if h.browser != nil && !h.browser.Healthy(r.Context()) {
		resp.Status = types.StatusError
		resp.Message = "Browser is not responding"
		status = http.StatusServiceUnavailable
	}
	resp.EndTime = time.Now().UnixMilli()
	h.writeJSONResponse(w, status, resp)
}

// HandleAPI decodes a command and routes it.
func (h *Handler) HandleAPI(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read request body")
		h.writeError(w, "Failed to read request", startTime)
		return
	}

	var req types.Request
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request")
		h.writeError(w, "Invalid JSON request", startTime)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, err.Error(), startTime)
		return
	}

	log.Info().
		Str("cmd", req.Cmd).
		Str("url", security.RedactURL(req.URL)).
		Str("session", req.Session).
		Msg("Request received")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout(&req))
	defer cancel()

	resp, err := h.route(ctx, &req)
	status := types.StatusOK
	if err != nil {
		status = types.StatusError
	}
	metrics.RecordRequest(req.Cmd, status, time.Since(startTime))

	if err != nil {
		log.Warn().Err(err).Str("cmd", req.Cmd).Str("session", req.Session).Msg("Command failed")
		h.writeError(w, errorMessage(err), startTime)
		return
	}
	resp.Status = types.StatusOK
	resp.StartTime = startTime.UnixMilli()
	resp.EndTime = time.Now().UnixMilli()
	resp.Version = version.Full()
	h.writeJSONResponse(w, http.StatusOK, *resp)
}

// HandleSession returns one session's state.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request, id string) {
	startTime := time.Now()
	resp, err := h.withSession(r.Context(), id, "Session state retrieved", nil)
	if err != nil {
		h.writeErrorWithStatus(w, statusFor(err), errorMessage(err), startTime)
		return
	}
	resp.Status = types.StatusOK
	resp.StartTime = startTime.UnixMilli()
	resp.EndTime = time.Now().UnixMilli()
	resp.Version = version.Full()
	h.writeJSONResponse(w, http.StatusOK, *resp)
}

// HandleMethodNotAllowed handles requests with unsupported HTTP methods.
func (h *Handler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeErrorWithStatus(w, http.StatusMethodNotAllowed, "Method not allowed", time.Now())
}

// HandleNotFound handles requests to unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeErrorWithStatus(w, http.StatusNotFound, "Not found", time.Now())
}

func (h *Handler) timeout(req *types.Request) time.Duration {
	timeout := h.config.DefaultTimeout
	if req.MaxTimeout > 0 {
		timeout = time.Duration(req.MaxTimeout) * time.Millisecond
		if timeout > h.config.MaxTimeout {
			timeout = h.config.MaxTimeout
		}
	}
	return timeout
}

// withSession runs fn on the session's loop and attaches its state.
func (h *Handler) withSession(ctx context.Context, id, message string, fn func(ctx context.Context, c *darkmode.Controller) error) (*types.Response, error) {
	s, err := h.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		if err := s.Do(ctx, fn); err != nil {
			return nil, err
		}
	}
	info, err := s.Info(ctx)
	if err != nil {
		return nil, err
	}
	return &types.Response{Message: message, State: stateOf(info)}, nil
}

func stateOf(info session.Info) *types.SessionState {
	st := &types.SessionState{ID: info.ID, URL: info.URL}
	if info.Status != nil {
		st.Site = info.Status.Site
		st.DarkMode = info.Status.Dark
		st.ExtremeMode = info.Status.Extreme
		st.Excluded = info.Status.Excluded
		st.PerformanceTier = string(info.Status.Tier)
		st.ForcedElements = info.Status.Engine.Forced
		st.ShadowRoots = info.Status.Engine.ShadowRoots
	}
	return st
}

// errorMessage maps errors to client-facing messages.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		return "Session not found"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, types.ErrContextCanceled):
		return "Command timed out: " + err.Error()
	default:
		return err.Error()
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes an error envelope. Command errors keep HTTP 200 with
// the error in the body, so clients only parse one response shape.
func (h *Handler) writeError(w http.ResponseWriter, message string, startTime time.Time) {
	h.writeErrorWithStatus(w, http.StatusOK, message, startTime)
}

func (h *Handler) writeErrorWithStatus(w http.ResponseWriter, statusCode int, message string, startTime time.Time) {
	resp := types.Response{
		Status:    types.StatusError,
		Message:   message,
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
	}
	h.writeJSONResponse(w, statusCode, resp)
}

// writeJSONResponse buffers the encoding so a failure never leaves a
// partial body behind.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp any) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}
