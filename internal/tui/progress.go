package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mlxcode/internal/app"
)

var (
	phaseStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	counterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// EventMsg wraps a planner progress event for the bubbletea update loop.
type EventMsg struct {
	Event app.ProgressEvent
}

// ResultMsg carries the planner's final outcome.
type ResultMsg struct {
	Summary string
	Err     error
}

// ProgressModel renders the task planner's progress events. It is a thin
// subscriber: all task state lives in the planner.
type ProgressModel struct {
	task    string
	spin    spinner.Model
	phase   string
	current string
	index   int
	total   int
	history []string
	summary string
	err     error
	done    bool
}

func NewProgressModel(task string) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return ProgressModel{task: task, spin: s, phase: "starting"}
}

func (m ProgressModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil

	case EventMsg:
		ev := msg.Event
		switch ev.Kind {
		case app.EventKindPlanning:
			m.phase = "planning"
			m.current = ev.Text
		case app.EventKindExecuting:
			m.phase = "executing"
			m.current = ev.Text
			m.index = ev.StepIndex
			m.total = ev.StepTotal
			m.history = append(m.history, fmt.Sprintf("step %d/%d: %s", ev.StepIndex, ev.StepTotal, ev.Text))
		case app.EventKindRetrying:
			m.phase = "retrying"
			m.history = append(m.history, fmt.Sprintf("retry %d: %s", ev.StepIndex, ev.Text))
		case app.EventKindSynthesizing:
			m.phase = "synthesizing"
			m.current = ev.Text
		case app.EventKindComplete:
			m.phase = "complete"
		case app.EventKindFailed:
			m.phase = "failed"
			m.current = ev.Text
		}
		return m, nil

	case ResultMsg:
		m.done = true
		m.summary = msg.Summary
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(phaseStyle.Render("mlxcode") + " " + stepStyle.Render(m.task) + "\n\n")

	keep := m.history
	if len(keep) > 8 {
		keep = keep[len(keep)-8:]
	}
	for _, line := range keep {
		b.WriteString("  " + counterStyle.Render(line) + "\n")
	}

	if m.done {
		if m.err != nil {
			b.WriteString("\n" + failStyle.Render("✗ "+m.err.Error()) + "\n")
		} else {
			b.WriteString("\n" + doneStyle.Render("✓ done") + "\n\n" + stepStyle.Render(m.summary) + "\n")
		}
		return b.String()
	}

	status := m.phase
	if m.phase == "executing" && m.total > 0 {
		status = fmt.Sprintf("%s %s", m.phase, counterStyle.Render(fmt.Sprintf("(%d/%d)", m.index, m.total)))
	}
	b.WriteString(fmt.Sprintf("\n%s %s %s\n", m.spin.View(), phaseStyle.Render(status), stepStyle.Render(m.current)))
	return b.String()
}
