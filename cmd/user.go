package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	userEmail    string
	userName     string
	userPassword string
	userQuery    string
	userPage     int
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	Example: `  crm user create --email jane@example.com --name "Jane Doe"
  CRM_USER_PASSWORD=secret123 crm user create --email ops@example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if userPassword == "" {
			userPassword = os.Getenv("CRM_USER_PASSWORD")
		}
		if userPassword == "" {
			return errors.New("provide --password or CRM_USER_PASSWORD")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		u, err := store.CreateUser(cmd.Context(), userEmail, userName, userPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created user %d <%s>\n", u.ID, u.Email)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		page, err := store.ListUsers(cmd.Context(), userQuery, userPage, 50)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tNAME\tLAST LOGIN")
		for _, u := range page.Items {
			last := "-"
			if u.LastLoginAt != nil {
				last = u.LastLoginAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", u.ID, u.Email, u.FullName, last)
		}
		if err = w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d, %d users\n", page.Page, page.LastPage(), page.Total)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "login e-mail address")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "full name")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "password (at least 8 characters)")
	_ = userCreateCmd.MarkFlagRequired("email")

	userListCmd.Flags().StringVarP(&userQuery, "query", "q", "", "filter by e-mail or name")
	userListCmd.Flags().IntVar(&userPage, "page", 1, "page number")

	userCmd.AddCommand(userCreateCmd, userListCmd)
	rootCmd.AddCommand(userCmd)
}
