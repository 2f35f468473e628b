package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/admit/internal/status"
)

const taskListWidth = 28

// TaskPaneModel lists the tasks of the selected run next to the output of
// the selected task.
type TaskPaneModel struct {
	tasks       []status.TaskView
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// SetTasks replaces the displayed tasks, keeping the selection when the
// run did not change.
func (m *TaskPaneModel) SetTasks(tasks []status.TaskView, sameRun bool) {
	selected := m.SelectedTaskID()
	m.tasks = tasks
	if !sameRun {
		m.selectedIdx = 0
		m.updateViewportContent()
		return
	}
	if m.SelectedTaskID() != selected {
		m.selectedIdx = 0
		for i, t := range tasks {
			if t.ID == selected {
				m.selectedIdx = i
			}
		}
	}
}

// Refresh redraws the output now.
func (m *TaskPaneModel) Refresh() {
	m.updateViewportContent()
}

// DebouncedRefresh redraws the output shortly, coalescing bursts of lines.
func (m *TaskPaneModel) DebouncedRefresh() tea.Cmd {
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.tasks)-1 {
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

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(taskListWidth),
		lipgloss.NewStyle().
			Width(m.width-taskListWidth-4).
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

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, task := range m.tasks {
		name := task.ID
		if len(name) > width-6 {
			name = name[:width-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(task.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case "ready":
		return StyleStatusReady.Render("◌")
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedTaskID returns the ID of the selected task, or "".
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.tasks) {
		return m.tasks[m.selectedIdx].ID
	}
	return ""
}

func (m *TaskPaneModel) updateViewportContent() {
	if m.SelectedTaskID() == "" {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	task := m.tasks[m.selectedIdx]

	var b strings.Builder
	fmt.Fprintf(&b, "%s  [%s]\n", task.ID, task.Status)
	fmt.Fprintf(&b, "demand: cpu=%d memory=%d disk=%d  priority: %d\n",
		task.Demand.CPU, task.Demand.Memory, task.Demand.Disk, task.Priority)
	if len(task.DependsOn) > 0 {
		fmt.Fprintf(&b, "after: %s\n", strings.Join(task.DependsOn, ", "))
	}
	if task.Implicit {
		b.WriteString("implicit (referenced but never declared)\n")
	}
	if task.LaunchedAt != nil && task.CompletedAt != nil {
		fmt.Fprintf(&b, "took %v\n", task.CompletedAt.Sub(*task.LaunchedAt).Round(time.Millisecond))
	}
	b.WriteString("\n")
	b.WriteString(strings.Join(task.Output, "\n"))

	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-taskListWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
