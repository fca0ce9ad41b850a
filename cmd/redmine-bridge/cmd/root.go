package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nhle/redmine-bridge/internal/app"
	"github.com/nhle/redmine-bridge/internal/credential"
	"github.com/nhle/redmine-bridge/internal/logging"
	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/store"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	appConfig *model.AppConfig

	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "redmine-bridge",
	Short: "Connect to Redmine and file issues from the CLI, HTTP or mail",
	Long: `redmine-bridge stores Redmine connections (URL, API key and default
project, tracker and priority) and creates issues against them.

Run 'redmine-bridge setup' to add a connection, then file issues with
'redmine-bridge create-issue', the HTTP endpoint ('serve') or a mailbox
('watch-mail').`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build information for the version command.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "redmine-bridge %s (commit %s, built %s)\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.config/redmine-bridge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(versionCmd)
}

func initConfig() error {
	path := cfgFile
	if path == "" {
		path = model.DefaultConfigPath()
	}

	cfg, err := model.LoadConfig(viper.GetViper(), path)
	if err != nil {
		return err
	}
	appConfig = cfg
	return nil
}

// env bundles the resources a command needs. Close releases them.
type env struct {
	cfg    *model.AppConfig
	logger *logging.Logger
	store  *store.SQLiteStore
	creds  *credential.Store
	app    *app.App
}

// openEnv opens the database and keyring and wires an App. Logs go to
// logOut; interactive commands pass io.Discard to keep the terminal clean.
func openEnv(logOut io.Writer) (*env, error) {
	cfg := appConfig
	if cfg == nil {
		if err := initConfig(); err != nil {
			return nil, err
		}
		cfg = appConfig
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: logOut,
	})

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	creds, err := credential.Open(model.DefaultConfigDir())
	if err != nil {
		st.Close()
		return nil, err
	}

	a := app.New(app.Options{
		Store:   st,
		Creds:   creds,
		Timeout: cfg.Tracker.Timeout(),
		Logger:  logger,
	})

	return &env{cfg: cfg, logger: logger, store: st, creds: creds, app: a}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing database", "error", err)
	}
}
