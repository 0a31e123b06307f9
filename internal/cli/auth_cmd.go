package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newAuthCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize mailbox access and store the credential",
		Long: `auth loads the stored credential, refreshes it when expired, or runs the
configured consent flow once and persists the result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !needsOAuth(a.cfg) {
				fmt.Fprintln(cmd.OutOrStdout(), "imap.password is set; no OAuth credential needed")
				return nil
			}
			sess, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), "authenticated")
			if !sess.Token.Expiry.IsZero() {
				fmt.Fprintf(cmd.OutOrStdout(), "; access token valid until %s", sess.Token.Expiry.Local().Format(time.RFC3339))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
