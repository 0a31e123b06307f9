package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/claimintake/internal/intake"
)

func newListCommand(a *app) *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the first page of unread messages with attachments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if !cmd.Flags().Changed("max-results") {
				maxResults = a.cfg.MaxResults
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

			ids, err := intake.NewService(client, limiter, a.logger).ListUnreadWithAttachments(cmd.Context(), maxResults)
			if err != nil {
				return fmt.Errorf("list messages: %w", err)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxResults, "max-results", 10, "page size (defaults to max_results)")
	return cmd
}
