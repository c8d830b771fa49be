package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/alsksssass/deepagent/internal/events"
)

// LevelState is the display state of one pipeline level.
type LevelState struct {
	Name   string
	Mode   string
	Status string // "pending", "running" or a terminal events status
	Total  int    // Batched levels only
	Done   int
	Failed int
}

// DAGPaneModel shows the pipeline levels in execution order.
type DAGPaneModel struct {
	levels  []*LevelState
	byName  map[string]*LevelState
	run     string // Run status once finished
	width   int
	height  int
	focused bool
}

// NewDAGPaneModel creates a pane for the given level names.
func NewDAGPaneModel(levels []string) DAGPaneModel {
	m := DAGPaneModel{byName: make(map[string]*LevelState)}
	for _, name := range levels {
		m.level(name)
	}
	return m
}

func (m *DAGPaneModel) level(name string) *LevelState {
	if l, ok := m.byName[name]; ok {
		return l
	}
	l := &LevelState{Name: name, Status: "pending"}
	m.levels = append(m.levels, l)
	m.byName[name] = l
	return l
}

// Update handles messages for the DAG pane.
func (m DAGPaneModel) Update(msg tea.Msg) (DAGPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.RunStartedEvent:
		for _, name := range msg.Levels {
			m.level(name)
		}

	case events.LevelStartedEvent:
		l := m.level(msg.Level)
		l.Mode = msg.Mode
		l.Status = "running"

	case events.LevelFinishedEvent:
		m.level(msg.Level).Status = msg.Status

	case events.LevelSkippedEvent:
		m.level(msg.Level).Status = events.StatusSkipped

	case events.BatchPlannedEvent:
		m.level(msg.Level).Total = msg.Total

	case events.BatchProgressEvent:
		l := m.level(msg.Level)
		l.Total, l.Done, l.Failed = msg.Total, msg.Done, msg.Failed

	case events.RunFinishedEvent:
		m.run = msg.Status
	}

	return m, nil
}

// Finished returns the number of levels with a terminal status.
func (m DAGPaneModel) Finished() int {
	n := 0
	for _, l := range m.levels {
		if l.Status != "pending" && l.Status != "running" {
			n++
		}
	}
	return n
}

// View renders the DAG pane.
func (m DAGPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Pipeline")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	for _, l := range m.levels {
		fmt.Fprintf(&b, "%s %-10s %s\n", StatusIcon(l.Status), l.Name, StyleStatusPending.Render(l.Mode))
		if l.Total > 0 {
			b.WriteString("    ")
			b.WriteString(progressBar(l, min(m.width-20, 30)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Levels: %d/%d", m.Finished(), len(m.levels))
	if m.run != "" {
		fmt.Fprintf(&b, "  Run: %s", statusStyle(m.run).Render(m.run))
	}
	b.WriteString("\n")

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func progressBar(l *LevelState, barWidth int) string {
	barWidth = max(barWidth, 10)
	succeeded := l.Done - l.Failed
	okWidth := (succeeded * barWidth) / l.Total
	failedWidth := (l.Failed * barWidth) / l.Total
	pendingWidth := barWidth - okWidth - failedWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, okWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
	return fmt.Sprintf("[%s] %d/%d", bar, l.Done, l.Total)
}

// SetSize updates the pane dimensions.
func (m *DAGPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *DAGPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
