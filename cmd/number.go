package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var numberCmd = &cobra.Command{
	Use:   "next-number",
	Short: "Show the invoice number the next invoice will get",
	Long: `next-number previews the next invoice number of the current year.
The number is not reserved; a concurrent create may take it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		n, err := store.GenerateInvoiceNumber(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(numberCmd)
}
