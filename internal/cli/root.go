// internal/cli/root.go

// Package cli wires configuration, credentials and the mailbox provider into
// the claimintake commands.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/claimintake/internal/config"
	"github.com/joshsymonds/claimintake/internal/gmail"
	"github.com/joshsymonds/claimintake/internal/runtime"
)

// app carries what every command shares: global flags, standard streams and
// the loaded configuration.
type app struct {
	configPath string
	envFile    string

	in  io.Reader
	out io.Writer
	err io.Writer

	cfg    *config.Config
	logger *slog.Logger

	// connect replaces the configured provider when set.
	connect func(ctx context.Context) (gmail.Client, func() error, error)
}

// NewRootCommand builds the claimintake command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{in: os.Stdin, out: os.Stdout, err: os.Stderr})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "claimintake",
		Short: "Collect attachments from unread mail",
		Long: `claimintake lists unread messages that carry attachments, downloads
and decodes every attachment, and marks each message read once processed.

Examples:
  claimintake auth                        # authorize and store the credential
  claimintake list                        # print the first page of pending messages
  claimintake fetch --dry-run             # download without marking anything read
  claimintake fetch --follow-pages        # drain the whole backlog into sink.dir
  claimintake backlog --json report.json  # summarise what is still waiting
  claimintake deliveries --message 18c2   # show what the ledger recorded`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.err)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultConfigPath()+")")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newAuthCommand(a),
		newListCommand(a),
		newFetchCommand(a),
		newBacklogCommand(a),
		newDeliveriesCommand(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = runtime.NewLogger(cfg.LogLevel)
	return nil
}

// Execute runs the command tree and reports a failure on stderr.
func Execute(ctx context.Context) error {
	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		runtime.DefaultLogger().ErrorContext(ctx, "claimintake failed", "error", err)
		return err
	}
	return nil
}
