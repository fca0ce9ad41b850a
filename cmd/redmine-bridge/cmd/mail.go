package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nhle/redmine-bridge/internal/credential"
	"github.com/nhle/redmine-bridge/internal/mailbox"
)

// mailPasswordEnv overrides the keyring for the IMAP password.
const mailPasswordEnv = "REDMINE_BRIDGE_MAIL_PASSWORD"

var watchMailCmd = &cobra.Command{
	Use:   "watch-mail",
	Short: "Create issues from unseen messages in an IMAP mailbox",
	Long: `Poll an IMAP mailbox and create one issue per unseen message.

The subject becomes the issue subject and the text body its description.
Lines such as "Project: garden", "Tracker: Bug" or "Priority: High" at the
top of the body override the connection defaults. Processed messages are
flagged \Seen; messages that could not be filed also get $RedmineFailed.

The IMAP password is read from ` + mailPasswordEnv + ` or from the keyring
(store it once with --store-password).

Examples:
  redmine-bridge watch-mail --store-password
  redmine-bridge watch-mail -c home
  redmine-bridge watch-mail --once`,
	Args: cobra.NoArgs,
	RunE: runWatchMail,
}

var (
	watchConnection    string
	watchOnce          bool
	watchStorePassword bool
)

func init() {
	rootCmd.AddCommand(watchMailCmd)

	watchMailCmd.Flags().StringVarP(&watchConnection, "connection", "c", "",
		"Connection ID or name (default: mail.connection from config)")
	watchMailCmd.Flags().BoolVar(&watchOnce, "once", false, "Process the mailbox once and exit")
	watchMailCmd.Flags().BoolVar(&watchStorePassword, "store-password", false,
		"Prompt for the IMAP password and store it in the keyring")
}

func runWatchMail(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(os.Stderr)
	if err != nil {
		return err
	}
	defer e.Close()

	mailCfg := e.cfg.Mail
	if mailCfg.Host == "" || mailCfg.Username == "" {
		return errors.New("mail.host and mail.username must be configured")
	}

	if watchStorePassword {
		return storeMailPassword(cmd, e.creds, mailCfg.Username)
	}

	ref := watchConnection
	if ref == "" {
		ref = mailCfg.Connection
	}
	if ref == "" {
		return errors.New("no connection given: pass --connection or set mail.connection")
	}

	password, err := mailPassword(e.creds, mailCfg.Username)
	if err != nil {
		return err
	}
	e.logger.Redact(password)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(mailCfg.PollIntervalSec) * time.Second
	poller := mailbox.NewPoller(mailbox.NewIMAPClient(mailCfg, password), e.app, ref, interval, e.logger)

	if watchOnce {
		result, err := poller.PollOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %d issue(s), %d message(s) failed\n", len(result.Created), result.Failed)
		return nil
	}

	e.logger.Info("watching mailbox",
		"host", mailCfg.Host,
		"mailbox", mailCfg.Mailbox,
		"connection", ref,
		"interval", interval,
	)
	return poller.Run(ctx)
}

func mailPassword(creds *credential.Store, username string) (string, error) {
	if pw := os.Getenv(mailPasswordEnv); pw != "" {
		return pw, nil
	}
	pw, err := creds.Get(credential.MailKey(username))
	if errors.Is(err, credential.ErrNotFound) {
		return "", fmt.Errorf("no IMAP password for %s: set %s or run 'redmine-bridge watch-mail --store-password'",
			username, mailPasswordEnv)
	}
	return pw, err
}

func storeMailPassword(cmd *cobra.Command, creds *credential.Store, username string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("--store-password needs an interactive terminal")
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "IMAP password for %s: ", username)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if len(pw) == 0 {
		return errors.New("empty password, nothing stored")
	}

	if err := creds.Set(credential.MailKey(username), string(pw)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored IMAP password for %s\n", username)
	return nil
}
