package cmd

import (
	"fmt"

	"github.com/clientdesk/crm/model"
	"github.com/spf13/cobra"
)

var maintenanceVacuum bool

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run housekeeping tasks",
	Long: `maintenance deletes revoked and expired API tokens and marks sent
invoices past their due date as overdue. Run it from cron, e.g. nightly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		rep, err := model.RunMaintenance(cmd.Context(), store, logger, maintenanceVacuum)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d tokens deleted, %d invoices overdue\n", rep.TokensDeleted, rep.InvoicesOverdue)
		return nil
	},
}

func init() {
	maintenanceCmd.Flags().BoolVar(&maintenanceVacuum, "vacuum", false, "also VACUUM/ANALYZE the database")
	rootCmd.AddCommand(maintenanceCmd)
}
