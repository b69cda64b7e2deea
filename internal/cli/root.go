// Package cli provides the command-line interface for dbrowse.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/dbrowse/internal/cli/commands"
	"github.com/leapstack-labs/dbrowse/internal/config"

	// Register every engine adapter.
	_ "github.com/leapstack-labs/dbrowse/pkg/adapters/all"
)

var (
	cfgFile     string
	profileFlag string
	metricsOut  string
	session     *commands.Session
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbrowse",
		Short: "dbrowse - browse and query databases from one tool",
		Long: `dbrowse lists, describes, pages through and queries PostgreSQL, MySQL,
SQLite, MongoDB and ClickHouse databases with one set of commands.

Connections come from the connections: section of dbrowse.yaml, from
DATABASE_URL, or from a URL passed to --profile.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip session setup for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" || cmd.Name() == "version" {
				return nil
			}

			loader := config.NewLoader()
			cfg, err := loader.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger := newLogger(cmd, cfg.Verbose)
			if used := loader.FileUsed(); used != "" {
				logger.Debug("using config file", slog.String("path", used))
			}

			session, err = commands.NewSession(commands.SessionOptions{
				Config:      cfg,
				Logger:      logger,
				Out:         cmd.OutOrStdout(),
				ErrOut:      cmd.ErrOrStderr(),
				ProfileName: profileFlag,
				MetricsOut:  metricsOut,
			})
			if err != nil {
				return err
			}
			cmd.SetContext(commands.WithSession(cmd.Context(), session))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./dbrowse.yaml)")
	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "Connection profile name or database URL")
	rootCmd.PersistentFlags().String("timeout", "", "Per-query timeout, e.g. 10s")
	rootCmd.PersistentFlags().Int("page-size", 0, "Default rows per page")
	rootCmd.PersistentFlags().Int("max-rows", 0, "Maximum rows kept from a raw query")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|table|json|csv|md|yaml)")
	rootCmd.PersistentFlags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics to this file on exit")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return commands.Formats, cobra.ShellCompDirectiveNoFileComp
	})

	_ = rootCmd.RegisterFlagCompletionFunc("profile", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		cfg, err := config.NewLoader().Load(cfgFile, nil)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		names := make([]string, 0, len(cfg.Connections))
		for name := range cfg.Connections {
			names = append(names, name)
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewTablesCommand())
	rootCmd.AddCommand(commands.NewDescribeCommand())
	rootCmd.AddCommand(commands.NewPageCommand())
	rootCmd.AddCommand(commands.NewCountCommand())
	rootCmd.AddCommand(commands.NewQueryCommand())
	rootCmd.AddCommand(commands.NewProfilesCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// newLogger builds the CLI's text logger on stderr.
func newLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command and closes the session it opened.
func Execute() error {
	rootCmd := NewRootCmd()
	err := rootCmd.Execute()
	if session != nil {
		if closeErr := session.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		session = nil
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for dbrowse.

To load completions:

Bash:
  $ source <(dbrowse completion bash)

Zsh:
  $ dbrowse completion zsh > "${fpath[1]}/_dbrowse"

Fish:
  $ dbrowse completion fish | source

PowerShell:
  PS> dbrowse completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
