package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nhle/redmine-bridge/internal/model"
)

var createIssueCmd = &cobra.Command{
	Use:   "create-issue",
	Short: "Create a Redmine issue",
	Long: `Create an issue on a configured connection.

Project, tracker and priority fall back to the connection defaults chosen
during setup. The description is read from stdin when --description is "-".

Examples:
  redmine-bridge create-issue -c home --subject "Buy salt"
  redmine-bridge create-issue -c home --subject "Fix gate" --tracker 1 --priority 4
  git log -1 --format=%B | redmine-bridge create-issue -c work --subject "Review" --description -`,
	Args: cobra.NoArgs,
	RunE: runCreateIssue,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently created issues",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var (
	issueConnection  string
	issueSubject     string
	issueProject     string
	issueTracker     string
	issuePriority    string
	issueDescription string
	issueJSON        bool

	historyConnection string
	historyLimit      int
)

func init() {
	rootCmd.AddCommand(createIssueCmd)
	rootCmd.AddCommand(historyCmd)

	createIssueCmd.Flags().StringVarP(&issueConnection, "connection", "c", "", "Connection ID or name")
	createIssueCmd.Flags().StringVarP(&issueSubject, "subject", "s", "", "Issue subject")
	createIssueCmd.Flags().StringVar(&issueProject, "project", "", "Project identifier (default: connection default)")
	createIssueCmd.Flags().StringVar(&issueTracker, "tracker", "", "Tracker ID (default: connection default)")
	createIssueCmd.Flags().StringVar(&issuePriority, "priority", "", "Priority ID (default: connection default)")
	createIssueCmd.Flags().StringVarP(&issueDescription, "description", "d", "", `Issue description ("-" reads stdin)`)
	createIssueCmd.Flags().BoolVar(&issueJSON, "json", false, "Output as JSON")
	_ = createIssueCmd.MarkFlagRequired("connection")
	_ = createIssueCmd.MarkFlagRequired("subject")

	historyCmd.Flags().StringVarP(&historyConnection, "connection", "c", "", "Only show issues for this connection")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of entries")
}

func runCreateIssue(cmd *cobra.Command, _ []string) error {
	description := issueDescription
	if description == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading description: %w", err)
		}
		description = strings.TrimRight(string(data), "\n")
	}

	e, err := openEnv(os.Stderr)
	if err != nil {
		return err
	}
	defer e.Close()

	req := model.IssueRequest{
		Subject:     issueSubject,
		ProjectID:   model.ID(issueProject),
		TrackerID:   model.ID(issueTracker),
		PriorityID:  model.ID(issuePriority),
		Description: description,
	}

	created, err := e.app.CreateIssue(cmd.Context(), issueConnection, req, model.OriginCLI)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if issueJSON {
		return json.NewEncoder(out).Encode(created)
	}
	fmt.Fprintf(out, "Created issue #%d %s\n", created.ID, created.URL)
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(os.Stderr)
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.app.History(cmd.Context(), historyConnection, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No issues created yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tISSUE\tPROJECT\tORIGIN\tSUBJECT")
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t#%d\t%s\t%s\t%s\n",
			entry.CreatedAt.Local().Format("2006-01-02 15:04"),
			entry.IssueID, entry.ProjectID, entry.Origin, truncate(entry.Subject, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
