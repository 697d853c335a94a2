package darkmode

import (
	"context"
	"fmt"

	"github.com/Rorqualx/darkmode-go/internal/dom"
	"github.com/Rorqualx/darkmode-go/internal/settings"
	"github.com/Rorqualx/darkmode-go/internal/surface"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

// confirmValue is the value the reset button carries on its confirmation
// step.
const confirmValue = "confirm"

// HandleAction applies a control-surface action.
func (c *Controller) HandleAction(ctx context.Context, a dom.Action) (err error) {
	defer c.guard("action "+a.Name, &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	ctx = c.scope(ctx)
	c.logger.Debug().Str("action", a.Name).Str("value", a.Value).Msg("Control surface action")

	if a.Name != surface.ActionReset && c.armed {
		c.armed = false
		defer c.render(ctx)
	}

	switch a.Name {
	case surface.ActionToggle:
		return c.Toggle(ctx)
	case surface.ActionExtreme:
		return c.SetExtremeMode(ctx, a.Value != "off")
	case surface.ActionPreset:
		return c.ApplyPreset(ctx, a.Value)
	case surface.ActionExclude:
		return c.AddExclusion(ctx, "")
	case surface.ActionReset:
		if a.Value != confirmValue {
			c.armed = true
			c.render(ctx)
			return nil
		}
		c.armed = false
		return c.Reset(ctx, func() bool { return true })
	case surface.ActionDiagnostics:
		return c.ShowDiagnostics(ctx)
	case surface.ActionDiagnosticsClose:
		return c.surface.CloseDiagnostics(ctx)
	case surface.ActionOpen:
		if c.surface.PanelOpen() {
			return c.surface.ClosePanel(ctx)
		}
		return c.surface.OpenPanel(ctx, c.model())
	case surface.ActionClose:
		return c.surface.ClosePanel(ctx)
	case surface.ActionMove:
		top, left := a.Y, a.X
		c.store.Update(func(g *settings.Global) {
			g.UIPosition = settings.UIPosition{Mode: "custom", Top: &top, Left: &left}
		})
		c.render(ctx)
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", types.ErrInvalidCommand, a.Name)
	}
}
