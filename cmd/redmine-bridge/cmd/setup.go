package cmd

import (
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/redmine-bridge/internal/setup"
	"github.com/nhle/redmine-bridge/internal/ui/wizard"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Add or reconfigure a Redmine connection",
	Long: `Interactively connect to a Redmine instance.

The wizard asks for the base URL and an API key, verifies them, then lets
you pick default project, tracker and priority from what the server offers.
Running setup again for the same URL overwrites that connection.

Examples:
  # Add a connection
  redmine-bridge setup

  # Pre-fill the URL
  redmine-bridge setup --url https://redmine.example.com

  # Change defaults of an existing connection
  redmine-bridge setup --reconfigure "Redmine (redmine.example.com)"`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

var (
	setupURL         string
	setupReconfigure string
)

func init() {
	rootCmd.AddCommand(setupCmd)

	setupCmd.Flags().StringVar(&setupURL, "url", "", "Redmine base URL to pre-fill")
	setupCmd.Flags().StringVar(&setupReconfigure, "reconfigure", "",
		"ID or name of an existing connection to reconfigure")
}

func runSetup(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(io.Discard)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()

	var neg *setup.Negotiator
	if setupReconfigure != "" {
		neg, err = e.app.ReconfigureSetup(ctx, setupReconfigure)
		if err != nil {
			return err
		}
	} else {
		neg = e.app.NewSetup()
	}

	final, err := tea.NewProgram(wizard.New(neg, setupURL), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running setup wizard: %w", err)
	}

	m, ok := final.(wizard.Model)
	if !ok {
		return errors.New("setup wizard exited unexpectedly")
	}
	saved, done := m.Result()
	if !done {
		fmt.Fprintln(cmd.ErrOrStderr(), "Setup cancelled; nothing was saved.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved connection %q (%s) as %s\n", saved.Name, saved.BaseURL, saved.ID)
	return nil
}
