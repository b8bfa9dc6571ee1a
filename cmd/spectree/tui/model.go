package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"spectree/internal/orchestrator"
	"spectree/internal/statusbus"
)

// itemRow tracks one WorkItem's latest known state for display.
type itemRow struct {
	id      string
	phase   string
	status  string
	message string
}

// eventMsg wraps a statusbus.Event for delivery into the Bubble Tea
// update loop.
type eventMsg statusbus.Event

// Model is the interactive run view: it subscribes to an
// orchestrator's statusbus.Bus and renders phase/item progress live,
// forwarding "p"/"r"/"q" keys to Pause/Resume/Cancel on the
// Orchestrator it was built against. The bottom pane is a scrolling
// viewport of agent replies, rendered as markdown via glamour since
// coding agents routinely reply with fenced code blocks.
type Model struct {
	orch   *orchestrator.Orchestrator
	events <-chan statusbus.Event

	epicID   string
	phase    string
	paused   bool
	done     bool
	finalMsg string

	rows  map[string]*itemRow
	order []string

	log      []string
	viewport viewport.Model
	renderer *glamour.TermRenderer

	styles Styles
}

// New builds a run view wired to orch's event bus.
func New(orch *orchestrator.Orchestrator, events <-chan statusbus.Event, epicID string) Model {
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	vp := viewport.New(100, 10)
	return Model{
		orch:     orch,
		events:   events,
		epicID:   epicID,
		rows:     make(map[string]*itemRow),
		viewport: vp,
		renderer: renderer,
		styles:   DefaultStyles(),
	}
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan statusbus.Event) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(evt)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = msg.Height / 3
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.orch != nil {
				m.orch.Cancel()
			}
			return m, tea.Quit
		case "p":
			if m.orch != nil && !m.paused {
				m.orch.Pause()
				m.paused = true
			}
		case "r":
			if m.orch != nil && m.paused {
				m.orch.Resume()
				m.paused = false
			}
		}
	case eventMsg:
		evt := statusbus.Event(msg)
		m.apply(evt)
		if evt.Kind == statusbus.RunCompleted {
			m.done = true
			m.finalMsg = evt.Message
			return m, nil
		}
		return m, waitForEvent(m.events)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) apply(evt statusbus.Event) {
	switch evt.Kind {
	case statusbus.PhaseStarted:
		m.phase = evt.PhaseID
	case statusbus.AgentStarted:
		m.upsert(evt.ItemID, m.phase, "running", "")
	case statusbus.ItemCompleted:
		m.upsert(evt.ItemID, m.phase, "completed", evt.Message)
		m.appendLog(fmt.Sprintf("### %s\n\n%s", evt.ItemID, evt.Message))
	case statusbus.ItemFailed:
		m.upsert(evt.ItemID, m.phase, "failed", evt.Message)
		m.appendLog(fmt.Sprintf("### %s failed\n\n%s", evt.ItemID, evt.Message))
	case statusbus.Paused:
		m.paused = true
	case statusbus.Resumed:
		m.paused = false
	}
}

func (m *Model) appendLog(markdown string) {
	rendered := markdown
	if m.renderer != nil {
		if out, err := m.renderer.Render(markdown); err == nil {
			rendered = out
		}
	}
	m.log = append(m.log, rendered)
	m.viewport.SetContent(strings.Join(m.log, "\n"))
	m.viewport.GotoBottom()
}

func (m *Model) upsert(id, phase, status, message string) {
	if id == "" {
		return
	}
	row, ok := m.rows[id]
	if !ok {
		row = &itemRow{id: id}
		m.rows[id] = row
		m.order = append(m.order, id)
	}
	row.phase = phase
	row.status = status
	row.message = message
}

func (m Model) View() string {
	header := m.styles.Header.Render(fmt.Sprintf(" spectree — %s ", m.epicID))

	t := newTable("ITEM", "PHASE", "STATUS", "MESSAGE")
	for _, id := range m.order {
		row := m.rows[id]
		t.addRow(row.id, row.phase, colorizeStatus(m.styles, row.status), truncate(row.message, 40))
	}

	footer := m.styles.Footer.Render("p pause · r resume · q quit")
	if m.paused {
		footer = m.styles.Warning.Render("PAUSED") + "  " + footer
	}
	if m.done {
		footer = m.styles.Success.Render("run complete: "+m.finalMsg) + "  " + footer
	}

	return header + "\n\n" + t.render(m.styles) + "\n" + m.viewport.View() + "\n" + footer
}

func colorizeStatus(styles Styles, status string) string {
	switch status {
	case "completed":
		return styles.Success.Render(status)
	case "failed":
		return styles.Error.Render(status)
	case "running":
		return styles.Info.Render(status)
	default:
		return status
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
