package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/admit/internal/events"
	"github.com/aristath/admit/internal/status"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PanePool
)

const paneCount = 2

// DoneMsg tells the model that every run has ended.
type DoneMsg struct {
	Err error
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	tracker     *status.Tracker
	eventSub    <-chan events.Event
	taskPane    TaskPaneModel
	poolPane    PoolPaneModel
	focusedPane PaneID
	runID       string // run being displayed
	width       int
	height      int
	quitting    bool
	done        bool
	doneErr     error
}

// New creates a new TUI model subscribed to every topic of the bus.
func New(eventBus *events.EventBus) Model {
	m := Model{
		tracker:  status.NewTracker(500),
		taskPane: NewTaskPaneModel(),
		poolPane: NewPoolPaneModel(),
		eventSub: eventBus.SubscribeAll(1024),
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
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

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PanePool
			m.updateFocusStates()

		case KeyNextRun:
			m.switchRun(1)

		case KeyPrevRun:
			m.switchRun(-1)

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case DoneMsg:
		m.done = true
		m.doneErr = msg.Err

	case events.Event:
		m.tracker.Apply(msg)
		if _, ok := msg.(events.RunStartedEvent); ok && m.runID == "" {
			m.runID = msg.RunID()
		}
		if msg.RunID() == m.runID {
			m.sync(true)
			if out, ok := msg.(events.TaskOutputEvent); ok {
				if out.ID == m.taskPane.SelectedTaskID() {
					cmds = append(cmds, m.taskPane.DebouncedRefresh())
				}
			} else {
				m.taskPane.Refresh()
			}
		} else {
			m.syncPool()
		}
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// runIDs returns known runs in the order they started.
func (m Model) runIDs() []string {
	runs := m.tracker.Runs()
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[len(runs)-1-i] = r.ID
	}
	return ids
}

func (m *Model) switchRun(delta int) {
	ids := m.runIDs()
	if len(ids) == 0 {
		return
	}
	idx := 0
	for i, id := range ids {
		if id == m.runID {
			idx = i
		}
	}
	idx = (idx + delta + len(ids)) % len(ids)
	if ids[idx] == m.runID {
		return
	}
	m.runID = ids[idx]
	m.sync(false)
}

// sync copies the displayed run from the tracker into the panes.
func (m *Model) sync(sameRun bool) {
	run, ok := m.tracker.Run(m.runID)
	if !ok {
		return
	}
	m.taskPane.SetTasks(run.Tasks, sameRun)
	m.syncPool()
}

func (m *Model) syncPool() {
	ids := m.runIDs()
	for i, id := range ids {
		if id == m.runID {
			run, _ := m.tracker.Run(id)
			m.poolPane.SetRun(run.RunSummary, i, len(ids))
			return
		}
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.poolPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, m.statusLine())
}

func (m Model) statusLine() string {
	if !m.done {
		return HelpView()
	}
	if m.doneErr != nil {
		return StyleStatusRejected.Render(fmt.Sprintf("Finished with errors: %v (q to exit)", m.doneErr))
	}
	return StyleStatusComplete.Render("All runs finished (q to exit)")
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 60) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.poolPane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.poolPane.SetFocused(m.focusedPane == PanePool)
}
