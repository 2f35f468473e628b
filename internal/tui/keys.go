package tui

// Global keys.
const (
	KeyQuit     = "q"
	KeyCtrlC    = "ctrl+c"
	KeyTab      = "tab"
	KeyShiftTab = "shift+tab"
	KeyPane1    = "1"
	KeyPane2    = "2"
	KeyNextRun  = "n"
	KeyPrevRun  = "p"
)

// Task list navigation.
const (
	KeyUp   = "up"
	KeyDown = "down"
	KeyJ    = "j"
	KeyK    = "k"
)

// HelpView renders the help bar shown under the panes.
func HelpView() string {
	return StyleHelp.Render("Tab: cycle focus | 1/2: jump to pane | j/k: select task | n/p: next/previous run | q: quit")
}
