package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Short:   "List configured Redmine connections",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE:    runListConnections,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id-or-name>",
	Short: "Remove a connection and its stored API key",
	Long: `Remove a connection and its stored API key.

The issue history recorded for the connection is removed with it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemoveConnection,
}

var connectionsJSON bool

func init() {
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(removeCmd)

	connectionsCmd.Flags().BoolVar(&connectionsJSON, "json", false, "Output as JSON")
}

func runListConnections(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(os.Stderr)
	if err != nil {
		return err
	}
	defer e.Close()

	conns, err := e.app.Connections.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if connectionsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(conns)
	}

	if len(conns) == 0 {
		fmt.Fprintln(out, "No connections configured. Run 'redmine-bridge setup' to add one.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tURL\tPROJECT\tTRACKER\tPRIORITY")
	for _, c := range conns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Name, c.BaseURL,
			orDash(c.DefaultProjectID), orDash(c.DefaultTrackerID), orDash(c.DefaultPriorityID))
	}
	return w.Flush()
}

func runRemoveConnection(cmd *cobra.Command, args []string) error {
	e, err := openEnv(os.Stderr)
	if err != nil {
		return err
	}
	defer e.Close()

	removed, err := e.app.Connections.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed connection %q (%s)\n", removed.Name, removed.BaseURL)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
