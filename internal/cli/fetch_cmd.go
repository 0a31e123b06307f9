package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/claimintake/internal/intake"
	"github.com/joshsymonds/claimintake/internal/sink"
)

type fetchFlags struct {
	maxResults  int
	followPages bool
	maxPages    int
	dryRun      bool
	clearPolicy string
}

func newFetchCommand(a *app) *cobra.Command {
	var f fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download attachments and mark their messages read",
		Long: `fetch lists unread messages with attachments, downloads every attachment
and clears the unread marker. With sink.dir configured the attachments are
written to <sink.dir>/<message id>/ and recorded in the delivery ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			opts, err := a.fetchOptions(cmd, f)
			if err != nil {
				return err
			}

			if a.cfg.Sink.Dir != "" {
				ledger, err := a.openLedger(false)
				if err != nil {
					return err
				}
				defer func() { _ = ledger.Close() }()
				sk, err := sink.New(a.cfg.Sink.Dir, ledger, a.logger)
				if err != nil {
					return err
				}
				opts.Handler = sk.Handle
			}

			client, closeClient, err := a.mailClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeClient(); cerr != nil && err == nil {
					err = fmt.Errorf("close mailbox: %w", cerr)
				}
			}()
			limiter, stop := a.limiter()
			defer stop()

			res, runErr := intake.NewService(client, limiter, a.logger).Run(cmd.Context(), opts)
			printResult(cmd.OutOrStdout(), res, opts)
			if runErr != nil {
				return fmt.Errorf("run intake: %w", runErr)
			}
			return nil
		},
	}
	bindFetchFlags(cmd, &f)
	return cmd
}

func bindFetchFlags(cmd *cobra.Command, f *fetchFlags) {
	cmd.Flags().IntVar(&f.maxResults, "max-results", 10, "page size (defaults to max_results)")
	cmd.Flags().BoolVar(&f.followPages, "follow-pages", false, "keep listing until no pages remain")
	cmd.Flags().IntVar(&f.maxPages, "max-pages", 0, "with --follow-pages, stop after this many pages")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "download only; leave messages unread")
	cmd.Flags().StringVar(&f.clearPolicy, "clear-policy", "always", "always|on-success")
}

// fetchOptions merges explicitly set flags over the configuration.
func (a *app) fetchOptions(cmd *cobra.Command, f fetchFlags) (intake.Options, error) {
	flags := cmd.Flags()
	opts := intake.Options{
		MaxResults:  a.cfg.MaxResults,
		FollowPages: a.cfg.FollowPages,
		MaxPages:    a.cfg.MaxPages,
		DryRun:      a.cfg.DryRun,
	}
	if flags.Changed("max-results") {
		opts.MaxResults = f.maxResults
	}
	if flags.Changed("follow-pages") {
		opts.FollowPages = f.followPages
	}
	if flags.Changed("max-pages") {
		opts.MaxPages = f.maxPages
	}
	if flags.Changed("dry-run") {
		opts.DryRun = f.dryRun
	}
	policy := a.cfg.ClearPolicy
	if flags.Changed("clear-policy") {
		policy = f.clearPolicy
	}
	p, err := intake.ParseClearPolicy(policy)
	if err != nil {
		return intake.Options{}, err
	}
	opts.Policy = p
	if opts.MaxResults <= 0 {
		return intake.Options{}, fmt.Errorf("max-results must be positive, got %d", opts.MaxResults)
	}

	a.logger.Debug("fetch options",
		slog.Int("max_results", opts.MaxResults),
		slog.Bool("follow_pages", opts.FollowPages),
		slog.Bool("dry_run", opts.DryRun),
		slog.String("policy", opts.Policy.String()),
	)
	return opts, nil
}

func printResult(w io.Writer, res intake.Result, opts intake.Options) {
	for _, att := range res.Attachments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d bytes\n", att.MessageID, att.Filename, att.MimeType, len(att.Data))
	}
	fmt.Fprintf(w, "%d messages, %d attachments, %d marked read", len(res.Messages), len(res.Attachments), len(res.Cleared))
	if opts.DryRun {
		fmt.Fprint(w, " (dry run)")
	}
	fmt.Fprintln(w)
}
