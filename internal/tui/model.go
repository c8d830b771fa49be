// Package tui is the terminal progress view of a running task: the pipeline
// levels with batch progress, and a per-agent invocation log.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/alsksssass/deepagent/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneAgents PaneID = iota
	PaneDAG
)

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	task        string
	agentPane   AgentPaneModel
	dagPane     DAGPaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	width       int
	height      int
	quitting    bool
	finished    *events.RunFinishedEvent
}

// New creates a TUI for task, subscribed to every topic of the bus. levels
// are the pipeline level names in execution order.
func New(bus *events.Bus, task string, levels []string) Model {
	return Model{
		task:        task,
		agentPane:   NewAgentPaneModel(),
		dagPane:     NewDAGPaneModel(levels),
		focusedPane: PaneAgents,
		eventSub:    bus.Subscribe(256),
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Finished returns the run outcome once the run is over.
func (m Model) Finished() (events.RunFinishedEvent, bool) {
	if m.finished == nil {
		return events.RunFinishedEvent{}, false
	}
	return *m.finished, true
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneAgents
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneDAG
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneAgents {
				var cmd tea.Cmd
				m.agentPane, cmd = m.agentPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.AgentStartedEvent, events.AgentFinishedEvent:
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.BatchProgressEvent:
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)
		m.dagPane, cmd = m.dagPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.RunFinishedEvent:
		m.finished = &msg
		var cmd tea.Cmd
		m.dagPane, cmd = m.dagPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.Event:
		// Remaining run, level and batch events drive the DAG pane
		var cmd tea.Cmd
		m.dagPane, cmd = m.dagPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	header := StyleTitle.Render(fmt.Sprintf("Task %s", m.task))
	if f, ok := m.Finished(); ok {
		header += " " + statusStyle(f.Status).Render(f.Status)
		if f.Err != nil {
			header += StyleStatusFailed.Render(": " + f.Err.Error())
		}
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.agentPane.View(), m.dagPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, mainContent, HelpView(m.finished != nil))
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	rightWidth := max((m.width*35)/100, 36)
	leftWidth := m.width - rightWidth
	availableHeight := m.height - 2 // header and help bar

	m.agentPane.SetSize(leftWidth, availableHeight)
	m.dagPane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.agentPane.SetFocused(m.focusedPane == PaneAgents)
	m.dagPane.SetFocused(m.focusedPane == PaneDAG)
}
