package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/darkmode-go/internal/session"
	"github.com/Rorqualx/darkmode-go/internal/settings"
)

// refreshInterval is how often the table is re-read.
const refreshInterval = time.Second

// commandTimeout bounds one key-triggered command.
const commandTimeout = 10 * time.Second

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	Extreme key.Binding
	Preset  key.Binding
	Destroy key.Binding
	Refresh key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Extreme, k.Preset, k.Destroy, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Refresh},
		{k.Toggle, k.Extreme, k.Preset},
		{k.Destroy, k.Help, k.Quit},
	}
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("↓/j", "down")),
		Toggle:  key.NewBinding(key.WithKeys("d", " "), key.WithHelp("d", "toggle dark")),
		Extreme: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "extreme")),
		Preset:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "next preset")),
		Destroy: key.NewBinding(key.WithKeys("D"), key.WithHelp("D", "close session")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type sessionsMsg []session.Info

type tickMsg time.Time

type resultMsg struct {
	status string
	err    error
}

// Model is the bubbletea model of the panel.
type Model struct {
	ctx     context.Context
	backend Backend
	keys    keyMap
	help    help.Model
	theme   theme

	rows     []session.Info
	selected int
	presets  []string
	preset   int
	confirm  string // session awaiting a destroy confirmation
	status   string
	err      error
	width    int
}

// New returns a panel over backend. ctx bounds every command it issues.
func New(ctx context.Context, backend Backend) Model {
	return Model{
		ctx:     ctx,
		backend: backend,
		keys:    defaultKeyMap(),
		help:    help.New(),
		theme:   newTheme(),
		presets: settings.PresetNames(),
		width:   100,
	}
}

// Run shows the panel until the user quits or ctx ends.
func Run(ctx context.Context, backend Backend) error {
	p := tea.NewProgram(New(ctx, backend), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) load() tea.Msg {
	return sessionsMsg(m.backend.Sessions(m.ctx))
}

// run issues fn for the selected session and reports the outcome.
func (m Model) run(done string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, commandTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Debug().Err(err).Msg("Panel command failed")
			return resultMsg{err: err}
		}
		return resultMsg{status: done}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.load, tick())

	case sessionsMsg:
		m.rows = msg
		if m.selected >= len(m.rows) {
			m.selected = max(len(m.rows)-1, 0)
		}
		return m, nil

	case resultMsg:
		m.status, m.err = msg.status, msg.err
		return m, m.load

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirm != "" {
		id := m.confirm
		m.confirm = ""
		if msg.String() == "y" {
			return m, m.run("Closed session "+short(id), func(ctx context.Context) error {
				return m.backend.Destroy(ctx, id)
			})
		}
		m.status = "Cancelled"
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
		return m, nil
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.rows)-1 {
			m.selected++
		}
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, m.load
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	sel, ok := m.current()
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Toggle):
		return m, m.run("Toggled dark mode on "+sel.site(), func(ctx context.Context) error {
			return m.backend.Toggle(ctx, sel.ID)
		})
	case key.Matches(msg, m.keys.Extreme):
		on := sel.Status == nil || !sel.Status.Extreme
		return m, m.run(fmt.Sprintf("Extreme mode %s on %s", onOff(on), sel.site()), func(ctx context.Context) error {
			return m.backend.SetExtreme(ctx, sel.ID, on)
		})
	case key.Matches(msg, m.keys.Preset):
		if len(m.presets) == 0 {
			return m, nil
		}
		name := m.presets[m.preset%len(m.presets)]
		m.preset++
		return m, m.run("Applied preset "+name, func(ctx context.Context) error {
			return m.backend.ApplyPreset(ctx, sel.ID, name)
		})
	case key.Matches(msg, m.keys.Destroy):
		m.confirm = sel.ID
		m.status = fmt.Sprintf("Close session %s? (y/n)", short(sel.ID))
		return m, nil
	}
	return m, nil
}

type row session.Info

func (r row) site() string {
	if r.Status != nil && r.Status.Site != "" {
		return r.Status.Site
	}
	return r.URL
}

func (m Model) current() (row, bool) {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return row{}, false
	}
	return row(m.rows[m.selected]), true
}

// View implements tea.Model.
func (m Model) View() string {
	t := m.theme
	var b strings.Builder

	b.WriteString(t.title.Render("darkmode"))
	b.WriteString(t.subtle.Render(fmt.Sprintf("  %d session(s)", len(m.rows))))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(t.subtle.Render("  No sessions. Create one through the API or START_URLS."))
		b.WriteString("\n")
	} else {
		var table strings.Builder
		table.WriteString(t.subtle.Render(fmt.Sprintf("%-10s %-28s %-6s %-8s %-7s %s", "SESSION", "SITE", "DARK", "EXTREME", "TIER", "FORCED")))
		for i, info := range m.rows {
			table.WriteString("\n")
			line := m.renderRow(row(info))
			if i == m.selected {
				table.WriteString(t.selected.Render(line))
			} else {
				table.WriteString(t.row.Render(line))
			}
		}
		b.WriteString(t.box.Render(table.String()))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(t.err.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(t.subtle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderRow(r row) string {
	dark, extreme, tier, forced := "-", "-", "-", 0
	if s := r.Status; s != nil {
		dark, extreme, tier = onOff(s.Dark), onOff(s.Extreme), string(s.Tier)
		forced = s.Engine.Forced
		if s.Excluded {
			dark = "excl"
		}
	}
	return fmt.Sprintf("%-10s %-28s %-6s %-8s %-7s %d", short(r.ID), truncate(r.site(), 28), dark, extreme, tier, forced)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
