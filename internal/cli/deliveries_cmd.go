package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/claimintake/internal/store"
)

func newDeliveriesCommand(a *app) *cobra.Command {
	var filter store.Filter
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "List attachments recorded in the delivery ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := a.openLedger(true)
			if err != nil {
				return err
			}
			if ledger == nil {
				return errors.New("no delivery ledger; set sink.dir or sink.ledger and run fetch first")
			}
			defer func() { _ = ledger.Close() }()

			rows, err := ledger.ListDeliveries(cmd.Context(), filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DELIVERED\tMESSAGE\tSTORED AS\tSIZE\tSHA256")
			for _, d := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.12s\n",
					d.DeliveredAt.Local().Format(time.DateTime), d.MessageID, d.StoredAs, d.Size, d.SHA256)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.MessageID, "message", "", "only this message id")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum rows (0 = all)")
	return cmd
}
