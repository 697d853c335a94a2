// Package tui is the terminal control panel: a live session table with
// key bindings for the common dark-mode commands.
package tui

import (
	"context"

	"github.com/Rorqualx/darkmode-go/internal/darkmode"
	"github.com/Rorqualx/darkmode-go/internal/session"
)

// Backend is what the panel drives.
type Backend interface {
	Sessions(ctx context.Context) []session.Info
	Toggle(ctx context.Context, id string) error
	SetExtreme(ctx context.Context, id string, on bool) error
	ApplyPreset(ctx context.Context, id, preset string) error
	Destroy(ctx context.Context, id string) error
}

// ManagerBackend drives a session manager.
type ManagerBackend struct {
	Manager *session.Manager
}

var _ Backend = ManagerBackend{}

// Sessions implements Backend. Sessions that close mid-read are skipped.
func (b ManagerBackend) Sessions(ctx context.Context) []session.Info {
	ids := b.Manager.List()
	infos := make([]session.Info, 0, len(ids))
	for _, id := range ids {
		s, err := b.Manager.Get(id)
		if err != nil {
			continue
		}
		info, err := s.Info(ctx)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

func (b ManagerBackend) do(ctx context.Context, id string, fn func(ctx context.Context, c *darkmode.Controller) error) error {
	s, err := b.Manager.Get(id)
	if err != nil {
		return err
	}
	return s.Do(ctx, fn)
}

// Toggle implements Backend.
func (b ManagerBackend) Toggle(ctx context.Context, id string) error {
	return b.do(ctx, id, func(ctx context.Context, c *darkmode.Controller) error {
		return c.Toggle(ctx)
	})
}

// SetExtreme implements Backend.
func (b ManagerBackend) SetExtreme(ctx context.Context, id string, on bool) error {
	return b.do(ctx, id, func(ctx context.Context, c *darkmode.Controller) error {
		return c.SetExtremeMode(ctx, on)
	})
}

// ApplyPreset implements Backend.
func (b ManagerBackend) ApplyPreset(ctx context.Context, id, preset string) error {
	return b.do(ctx, id, func(ctx context.Context, c *darkmode.Controller) error {
		return c.ApplyPreset(ctx, preset)
	})
}

// Destroy implements Backend.
func (b ManagerBackend) Destroy(ctx context.Context, id string) error {
	return b.Manager.Destroy(ctx, id)
}
