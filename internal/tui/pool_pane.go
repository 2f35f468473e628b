package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/admit/internal/status"
)

// PoolPaneModel shows a run's task counts and how much of each resource
// dimension is in use.
type PoolPaneModel struct {
	run     status.RunSummary
	runs    int // runs known to the tracker
	index   int // position of run among them
	bar     progress.Model
	width   int
	height  int
	focused bool
}

// NewPoolPaneModel creates an empty pool pane.
func NewPoolPaneModel() PoolPaneModel {
	return PoolPaneModel{
		bar: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// SetRun replaces the displayed run.
func (m *PoolPaneModel) SetRun(run status.RunSummary, index, runs int) {
	m.run = run
	m.index = index
	m.runs = runs
}

// View renders the pool pane.
func (m PoolPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Run")
	if m.runs > 0 {
		title = StyleTitle.Render(fmt.Sprintf("Run %d/%d: %s", m.index+1, m.runs, m.run.Name))
	}
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.runs == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting for a run..."))
		return m.frame(b.String())
	}

	fmt.Fprintf(&b, "Status:    %s\n", runStatus(m.run))
	if m.run.Reason != "" {
		fmt.Fprintf(&b, "%s\n", StyleStatusRejected.Render(m.run.Reason))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Total:     %d\n", m.run.Total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.run.Completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.run.Running)))
	fmt.Fprintf(&b, "Ready:     %s\n", StyleStatusReady.Render(fmt.Sprintf("%d", m.run.Ready)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.run.Pending)))
	b.WriteString("\n")

	if m.run.Total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (m.run.Completed * barWidth) / m.run.Total
		runningWidth := (m.run.Running * barWidth) / m.run.Total
		readyWidth := (m.run.Ready * barWidth) / m.run.Total
		pendingWidth := barWidth - completedWidth - runningWidth - readyWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusReady.Render(strings.Repeat("~", max(0, readyWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
		fmt.Fprintf(&b, "[%s]  %d/%d\n\n", bar, m.run.Completed, m.run.Total)
	}

	b.WriteString(StyleTitle.Render("Pool"))
	b.WriteString("\n")
	bar := m.bar
	bar.Width = max(min(m.width-28, 30), 5)
	dims := []struct {
		name       string
		total, avl int
	}{
		{"cpu", m.run.Capacity.CPU, m.run.Available.CPU},
		{"memory", m.run.Capacity.Memory, m.run.Available.Memory},
		{"disk", m.run.Capacity.Disk, m.run.Available.Disk},
	}
	for _, d := range dims {
		used := d.total - d.avl
		fmt.Fprintf(&b, "%-7s %s %d/%d\n", d.name, bar.ViewAs(ratio(used, d.total)), used, d.total)
	}
	fmt.Fprintf(&b, "\npeak: cpu=%d memory=%d disk=%d\n", m.run.Peak.CPU, m.run.Peak.Memory, m.run.Peak.Disk)

	return m.frame(b.String())
}

func (m PoolPaneModel) frame(content string) string {
	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func runStatus(run status.RunSummary) string {
	switch run.Status {
	case status.RunFinished:
		return StyleStatusComplete.Render(run.Status)
	case status.RunRejected:
		return StyleStatusRejected.Render(run.Status)
	default:
		return StyleStatusRunning.Render(run.Status)
	}
}

func ratio(used, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(used) / float64(total)
}

// SetSize updates the pane dimensions.
func (m *PoolPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *PoolPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
