// Package watch is a terminal observer for the relay: it subscribes over
// websocket like the visualization does and renders the live event stream.
package watch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ai-hq/server/internal/event"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxShown matches the relay's own history depth.
const maxShown = event.HistoryCapacity

// Model is the root Bubble Tea model.
type Model struct {
	client *Client
	ctx    context.Context
	cancel context.CancelFunc
	keys   KeyMap

	width  int
	height int

	connected  bool
	live       bool // connected ack received
	reconnects int

	events     []EventMsg // newest first
	toolCounts map[string]int
	sessions   map[string]string // sessionId -> title
}

func New(c *Client) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		client:     c,
		ctx:        ctx,
		cancel:     cancel,
		keys:       DefaultKeyMap(),
		toolCounts: make(map[string]int),
		sessions:   make(map[string]string),
	}
}

func (m Model) Init() tea.Cmd {
	return m.client.Listen(m.ctx)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			m.client.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.events = nil
			m.toolCounts = make(map[string]int)
			return m, nil
		}
		return m, nil

	case ConnectedMsg:
		m.connected = true
		return m, m.client.ReadLoop(m.ctx)

	case DisconnectedMsg:
		if m.connected {
			m.reconnects++
		}
		m.connected = false
		m.live = false
		return m, m.client.Listen(m.ctx)

	case EventMsg:
		m.record(msg)
		return m, m.client.ReadLoop(m.ctx)
	}

	return m, nil
}

func (m *Model) record(msg EventMsg) {
	e := msg.Event
	if e.Type == event.TypeConnected {
		m.live = true
		return
	}

	m.events = append([]EventMsg{msg}, m.events...)
	if len(m.events) > maxShown {
		m.events = m.events[:maxShown]
	}
	if e.Type == event.TypeToolStart && e.Tool != "" {
		m.toolCounts[e.Tool]++
	}
	if e.SessionID != "" {
		m.sessions[e.SessionID] = e.Title
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("AI HQ"))
	b.WriteString("  ")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if len(m.events) == 0 {
		b.WriteString(mutedStyle.Render("Waiting for tool events..."))
		b.WriteString("\n")
	}
	for _, msg := range m.events {
		b.WriteString(renderEvent(msg))
		b.WriteString("\n")
	}

	if tools := m.toolSummary(); tools != "" {
		b.WriteString("\n")
		b.WriteString(tools)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d sessions  %s  %s",
		len(m.sessions), m.keys.Clear.Help().Key+" "+m.keys.Clear.Help().Desc,
		m.keys.Quit.Help().Key+" "+m.keys.Quit.Help().Desc)))
	return b.String()
}

func (m Model) statusLine() string {
	switch {
	case m.live:
		return lipgloss.NewStyle().Foreground(colorHealthy).Render("● live")
	case m.connected:
		return lipgloss.NewStyle().Foreground(colorWarning).Render("◐ connected, waiting for ack")
	case m.reconnects > 0:
		return lipgloss.NewStyle().Foreground(colorDanger).Render(
			fmt.Sprintf("○ reconnecting (%d)", m.reconnects))
	default:
		return lipgloss.NewStyle().Foreground(colorDanger).Render("○ connecting...")
	}
}

func renderEvent(msg EventMsg) string {
	e := msg.Event
	parts := []string{
		mutedStyle.Render(msg.At.Format("15:04:05")),
		typeStyle(e.Type).Render(fmt.Sprintf("%-11s", e.Type)),
	}
	if e.Tool != "" {
		parts = append(parts, toolStyle.Render(e.Tool))
	}
	if e.Title != "" {
		parts = append(parts, e.Title)
	}
	if e.SessionID != "" {
		parts = append(parts, mutedStyle.Render("("+e.SessionID+")"))
	}
	return strings.Join(parts, " ")
}

// toolSummary lists tool_start counts, busiest first.
func (m Model) toolSummary() string {
	if len(m.toolCounts) == 0 {
		return ""
	}
	tools := make([]string, 0, len(m.toolCounts))
	for t := range m.toolCounts {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool {
		if m.toolCounts[tools[i]] != m.toolCounts[tools[j]] {
			return m.toolCounts[tools[i]] > m.toolCounts[tools[j]]
		}
		return tools[i] < tools[j]
	})

	parts := make([]string, len(tools))
	for i, t := range tools {
		parts[i] = fmt.Sprintf("%s×%d", t, m.toolCounts[t])
	}
	return strings.Join(parts, "  ")
}
