package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/clientdesk/crm/model"
	"github.com/spf13/cobra"
)

var (
	tokenEmail   string
	tokenName    string
	tokenScope   string
	tokenExpires string
	tokenID      uint
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

func tokenUser(ctx context.Context, store *model.Store) (*model.User, error) {
	u, err := store.GetUserByEmail(ctx, tokenEmail)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", tokenEmail, err)
	}
	return u, nil
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API token and print it once",
	Example: `  crm token create --email jane@example.com --name ci --scope read
  crm token create --email jane@example.com --expires 2027-01-31`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var expires *time.Time
		if tokenExpires != "" {
			t, err := time.Parse("2006-01-02", tokenExpires)
			if err != nil {
				return fmt.Errorf("--expires: %w", err)
			}
			expires = &t
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		u, err := tokenUser(cmd.Context(), store)
		if err != nil {
			return err
		}
		plain, rec, err := store.CreateAPIToken(cmd.Context(), u.ID, tokenName, tokenScope, expires)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "token %d (%s) scope %q\n", rec.ID, rec.TokenPrefix, rec.Scope)
		fmt.Fprintln(out, plain)
		fmt.Fprintln(out, "Store it now, it cannot be shown again.")
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tokens of a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		u, err := tokenUser(cmd.Context(), store)
		if err != nil {
			return err
		}
		page, err := store.ListAPITokens(cmd.Context(), u.ID, 1, 200)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPREFIX\tNAME\tSCOPE\tEXPIRES\tSTATE")
		for _, t := range page.Items {
			expires := "never"
			if t.ExpiresAt != nil {
				expires = t.ExpiresAt.Format("2006-01-02")
			}
			state := "active"
			if t.Disabled {
				state = "revoked"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.TokenPrefix, t.Name, t.Scope, expires, state)
		}
		return w.Flush()
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke a token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		u, err := tokenUser(cmd.Context(), store)
		if err != nil {
			return err
		}
		if err = store.RevokeAPIToken(cmd.Context(), u.ID, tokenID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token %d revoked\n", tokenID)
		return nil
	},
}

func init() {
	tokenCmd.PersistentFlags().StringVar(&tokenEmail, "email", "", "e-mail of the token owner")
	_ = tokenCmd.MarkPersistentFlagRequired("email")

	tokenCreateCmd.Flags().StringVar(&tokenName, "name", "", "label for the token")
	tokenCreateCmd.Flags().StringVar(&tokenScope, "scope", "", `space separated scopes (default "read write")`)
	tokenCreateCmd.Flags().StringVar(&tokenExpires, "expires", "", "expiry date YYYY-MM-DD")

	tokenRevokeCmd.Flags().UintVar(&tokenID, "id", 0, "token id")
	_ = tokenRevokeCmd.MarkFlagRequired("id")

	tokenCmd.AddCommand(tokenCreateCmd, tokenListCmd, tokenRevokeCmd)
	rootCmd.AddCommand(tokenCmd)
}
