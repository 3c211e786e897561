package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
		Long:  "Create, list, update and deactivate the accounts that can sign in to the back office.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())
	cmd.AddCommand(newAdminUpdateCmd())
	cmd.AddCommand(newAdminDeactivateCmd())
	cmd.AddCommand(newAdminRevokeSessionsCmd())
	cmd.AddCommand(newAdminRotateKeyCmd())

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		username string
		email    string
		password string
		role     string
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new administrator account",
		Example: `  backoffice admin create --username root --email root@example.com --role super_admin
  backoffice admin create --username alice --email a@x.io --password hunter22`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := model.ParseRole(role)
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = promptPassword(cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			return withAuthService(cmd.Context(), func(svc *service.AuthService) error {
				acct, err := svc.CreateAccount(cmd.Context(), username, email, password, r)
				if err != nil {
					return describe(err)
				}
				if jsonOut {
					return printJSON(cmd.OutOrStdout(), acct)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created %s account %q (%s)\n", acct.Role, acct.Username, acct.ID)
				fmt.Fprintf(out, "API key: %s\n", acct.APIKey)
				fmt.Fprintln(out, "Store the key now; it is only shown in full on creation and rotation.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Login name (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&role, "role", string(model.RoleAdmin), "Role: admin or super_admin")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")

	return cmd
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List administrator accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(cmd.Context(), func(svc *service.AuthService) error {
				accounts, err := svc.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				redacted := make([]*model.Account, 0, len(accounts))
				for i := range accounts {
					redacted = append(redacted, accounts[i].Redacted())
				}
				if jsonOut {
					return printJSON(cmd.OutOrStdout(), redacted)
				}
				return printAccounts(cmd.OutOrStdout(), redacted)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

func printAccounts(w io.Writer, accounts []*model.Account) error {
	if len(accounts) == 0 {
		fmt.Fprintln(w, "No accounts. Use 'backoffice admin create' to create one.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tROLE\tSTATUS\tLAST LOGIN\tAPI KEY")
	for _, a := range accounts {
		lastLogin := "never"
		if a.LastLoginAt != nil {
			lastLogin = a.LastLoginAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Username, a.Email, a.Role, a.Status, lastLogin, a.APIKey)
	}
	return tw.Flush()
}

// ---------- admin update ----------

func newAdminUpdateCmd() *cobra.Command {
	var (
		username      string
		email         string
		role          string
		resetPassword bool
	)

	cmd := &cobra.Command{
		Use:   "update <id|username>",
		Short: "Change an account's username, email, role or password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd model.AccountUpdate
			if cmd.Flags().Changed("username") {
				upd.Username = &username
			}
			if cmd.Flags().Changed("email") {
				upd.Email = &email
			}
			if cmd.Flags().Changed("role") {
				r, err := model.ParseRole(role)
				if err != nil {
					return err
				}
				upd.Role = &r
			}
			if resetPassword {
				pw, err := promptPassword(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				upd.Password = &pw
			}
			if upd.Empty() {
				return fmt.Errorf("nothing to update; pass --username, --email, --role or --reset-password")
			}

			return withAuthService(cmd.Context(), func(svc *service.AuthService) error {
				ctx := cmd.Context()
				acct, err := resolveAccount(ctx, svc, args[0])
				if err != nil {
					return err
				}
				updated, err := svc.UpdateAccount(ctx, acct.ID, upd)
				if err != nil {
					return describe(err)
				}
				if updated == nil {
					return fmt.Errorf("account %s no longer exists", acct.ID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated account %q (%s)\n", updated.Username, updated.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "New login name")
	cmd.Flags().StringVar(&email, "email", "", "New email address")
	cmd.Flags().StringVar(&role, "role", "", "New role: admin or super_admin")
	cmd.Flags().BoolVar(&resetPassword, "reset-password", false, "Prompt for a new password")

	return cmd
}

// ---------- admin deactivate ----------

func newAdminDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id|username>",
		Short: "Deactivate an account and revoke all of its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(cmd.Context(), func(svc *service.AuthService) error {
				ctx := cmd.Context()
				acct, err := resolveAccount(ctx, svc, args[0])
				if err != nil {
					return err
				}
				revoked, err := svc.Deactivate(ctx, acct.ID)
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %q; %d session(s) revoked\n", acct.Username, revoked)
				return nil
			})
		},
	}
}

// ---------- admin revoke-sessions ----------

func newAdminRevokeSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-sessions <id|username>",
		Short: "Sign an account out everywhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(cmd.Context(), func(svc *service.AuthService) error {
				ctx := cmd.Context()
				acct, err := resolveAccount(ctx, svc, args[0])
				if err != nil {
					return err
				}
				n, err := svc.InvalidateAllSessions(ctx, acct.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked %d session(s) for %q\n", n, acct.Username)
				return nil
			})
		},
	}
}

// ---------- admin rotate-key ----------

func newAdminRotateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key <id|username>",
		Short: "Replace an account's API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(cmd.Context(), func(svc *service.AuthService) error {
				ctx := cmd.Context()
				acct, err := resolveAccount(ctx, svc, args[0])
				if err != nil {
					return err
				}
				rotated, err := svc.RotateAPIKey(ctx, acct.ID)
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "New API key for %q: %s\n", rotated.Username, rotated.APIKey)
				return nil
			})
		},
	}
}

// describe turns service validation errors into CLI-friendly messages.
func describe(err error) error {
	switch {
	case errors.Is(err, service.ErrConflict):
		return fmt.Errorf("username, email or API key already in use")
	case errors.Is(err, service.ErrPasswordTooShort):
		return fmt.Errorf("password must be at least %d characters", service.MinPasswordLength)
	case errors.Is(err, service.ErrInvalidRole):
		return fmt.Errorf("role must be admin or super_admin")
	case errors.Is(err, service.ErrInvalidAccount):
		return fmt.Errorf("a username and a valid email are required")
	default:
		return err
	}
}
