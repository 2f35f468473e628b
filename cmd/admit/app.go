package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/admit/internal/config"
	"github.com/aristath/admit/internal/logging"
)

const projectPathHelp = config.ProjectPath

// app is the state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// persistent flags
	configPath  string
	logLevel    string
	logFormat   string
	journalPath string

	settings *config.Settings
	logger   *slog.Logger

	// replaces the terminal options of the live view when set
	programOptions []tea.ProgramOption
}

// setup loads settings, applies persistent flag overrides and builds the
// logger. It runs before every subcommand.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	settings, err := a.loadSettings()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		settings.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		settings.Log.Format = a.logFormat
	}
	if flags.Changed("journal") {
		settings.Journal.Path = a.journalPath
		settings.Journal.Enabled = true
	}
	a.settings = settings

	logger, err := logging.New(settings.Log.Level, settings.Log.Format, a.stderr)
	if err != nil {
		return usageError(err)
	}
	a.logger = logger
	cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
	return nil
}

func (a *app) loadSettings() (*config.Settings, error) {
	if a.configPath == "" {
		settings, err := config.LoadDefault()
		if err != nil {
			return nil, fmt.Errorf("loading settings: %w", err)
		}
		return settings, nil
	}

	globalPath, err := config.GlobalPath()
	if err != nil {
		return nil, err
	}
	settings, err := config.Load(globalPath, a.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	settings.ApplyEnv(os.LookupEnv)
	return settings, nil
}
