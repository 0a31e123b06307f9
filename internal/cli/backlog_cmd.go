package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/claimintake/internal/backlog"
)

func newBacklogCommand(a *app) *cobra.Command {
	var (
		opts     backlog.Options
		jsonPath string
	)
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Summarise unread messages with attachments without touching them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
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

			svc := backlog.NewService(client, limiter, a.logger, nil)
			ledger, err := a.openLedger(true)
			if err != nil {
				return err
			}
			if ledger != nil {
				defer func() { _ = ledger.Close() }()
				svc.Ledger = ledger
			}

			rep, err := svc.Run(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("backlog: %w", err)
			}
			if jsonPath != "" {
				if err := backlog.WriteJSON(rep, jsonPath); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			return backlog.PrintHuman(rep, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 100, "listing page size (<=500)")
	cmd.Flags().IntVar(&opts.MaxPages, "max-pages", 0, "stop after this many pages (0 = all)")
	cmd.Flags().IntVar(&opts.TopN, "top", 20, "number of sender domains to show")
	cmd.Flags().StringVar(&jsonPath, "json", "", "also write the report as JSON to this relative path")
	return cmd
}
