package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianlabs/backoffice/internal/service"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and clean up login sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionPruneCmd())

	return cmd
}

// ---------- session list ----------

func newSessionListCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list <id|username>",
		Short: "List an account's sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(cmd.Context(), func(svc *service.AuthService) error {
				ctx := cmd.Context()
				acct, err := resolveAccount(ctx, svc, args[0])
				if err != nil {
					return err
				}
				sessions, err := svc.ListSessions(ctx, acct.ID)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(cmd.OutOrStdout(), sessions)
				}

				out := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintf(out, "%q has no sessions.\n", acct.Username)
					return nil
				}
				now := time.Now()
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tLAST SEEN\tEXPIRES\tCLIENT IP\tSTATE")
				for _, s := range sessions {
					state := "live"
					if s.Expired(now) {
						state = "expired"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						s.ID,
						s.CreatedAt.Format(time.RFC3339),
						s.LastAccessedAt.Format(time.RFC3339),
						s.ExpiresAt.Format(time.RFC3339),
						s.ClientIP,
						state)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

// ---------- session prune ----------

func newSessionPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete all expired sessions",
		Long:  "Delete expired sessions now. serve does this on auth.prune_schedule; this command is for cron jobs and maintenance windows.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(cmd.Context(), func(svc *service.AuthService) error {
				n, err := svc.PruneExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired session(s)\n", n)
				return nil
			})
		},
	}
}
