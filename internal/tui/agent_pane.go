package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/alsksssass/deepagent/internal/events"
)

// AgentState is the display state of one agent. Batch items are folded into
// their agent.
type AgentState struct {
	Name      string
	Level     string
	Status    string // "running" or a terminal events status
	Log       []string
	Running   int // Invocations in flight
	StartTime time.Time
	Duration  time.Duration
}

// AgentPaneModel represents the agent list and log viewport pane.
type AgentPaneModel struct {
	agents      map[string]*AgentState // agent name -> state
	agentOrder  []string               // first-start order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewAgentPaneModel creates a new agent pane model.
func NewAgentPaneModel() AgentPaneModel {
	return AgentPaneModel{
		agents:   make(map[string]*AgentState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

func invocation(agent string, index int) string {
	if index < 0 {
		return agent
	}
	return fmt.Sprintf("%s[%d]", agent, index)
}

// Update handles messages for the agent pane.
func (m AgentPaneModel) Update(msg tea.Msg) (AgentPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.agentOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.AgentStartedEvent:
		a, exists := m.agents[msg.Agent]
		if !exists {
			a = &AgentState{Name: msg.Agent, Level: msg.Level, StartTime: msg.Timestamp}
			m.agents[msg.Agent] = a
			m.agentOrder = append(m.agentOrder, msg.Agent)
		}
		a.Status = "running"
		a.Running++
		line := fmt.Sprintf("%s %s started", msg.Timestamp.Format("15:04:05"), invocation(msg.Agent, msg.Index))
		if msg.Attempt > 1 {
			line += fmt.Sprintf(" (attempt %d)", msg.Attempt)
		}
		return m, m.appendLog(a, line)

	case events.AgentFinishedEvent:
		a, exists := m.agents[msg.Agent]
		if !exists {
			break
		}
		a.Running = max(0, a.Running-1)
		// Batched agents settle on the final BatchProgressEvent
		if msg.Index < 0 {
			a.Status = msg.Status
			a.Duration = msg.Timestamp.Sub(a.StartTime)
		}
		line := fmt.Sprintf("%s %s %s in %v", msg.Timestamp.Format("15:04:05"), invocation(msg.Agent, msg.Index), msg.Status, msg.Duration.Round(time.Millisecond))
		if msg.Error != "" {
			line += ": " + msg.Error
		}
		return m, m.appendLog(a, line)

	case events.BatchProgressEvent:
		if a, exists := m.agents[msg.Agent]; exists && msg.Done == msg.Total {
			a.Duration = msg.Timestamp.Sub(a.StartTime)
			if msg.Failed == msg.Total {
				a.Status = events.StatusFailed
			} else if msg.Failed > 0 {
				a.Status = events.StatusDegraded
			} else {
				a.Status = events.StatusSuccess
			}
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// appendLog adds a line to the agent's log and schedules a debounced
// viewport refresh when the agent is selected.
func (m *AgentPaneModel) appendLog(a *AgentState, line string) tea.Cmd {
	a.Log = append(a.Log, line)
	if len(m.agentOrder) == 1 {
		m.selectedIdx = 0
	}
	if m.selectedAgent() != a.Name {
		return nil
	}
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// View renders the agent pane.
func (m AgentPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderAgentList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m AgentPaneModel) renderAgentList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Agents")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.agentOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, name := range m.agentOrder {
		a := m.agents[name]
		if len(name) > width-6 {
			name = name[:width-9] + "..."
		}

		line := fmt.Sprintf("%s %s", StatusIcon(a.Status), name)
		if i == m.selectedIdx {
			line = lipgloss.NewStyle().
				Background(lipgloss.Color("62")).
				Foreground(lipgloss.Color("0")).
				Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// Agent returns the state of the named agent.
func (m AgentPaneModel) Agent(name string) (AgentState, bool) {
	a, ok := m.agents[name]
	if !ok {
		return AgentState{}, false
	}
	return *a, true
}

func (m AgentPaneModel) selectedAgent() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.agentOrder) {
		return m.agentOrder[m.selectedIdx]
	}
	return ""
}

func (m *AgentPaneModel) updateViewportContent() {
	a, exists := m.agents[m.selectedAgent()]
	if !exists {
		m.viewport.SetContent("Waiting for agents...")
		return
	}
	m.viewport.SetContent(strings.Join(a.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *AgentPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-28-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *AgentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *AgentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
