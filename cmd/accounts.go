package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/model"
)

var (
	accountAddress      string
	accountOrders       bool
	accountOffers       bool
	accountOrdersFilter string
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage polled email accounts",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an email account for ingestion",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		account, err := st.CreateAccount(ctx, model.EmailAccount{
			Address:      accountAddress,
			OrdersActive: accountOrders,
			OffersActive: accountOffers,
			OrdersFilter: accountOrdersFilter,
		})
		if err != nil {
			return err
		}

		zap.L().Info("account registered",
			zap.String("account_id", account.ID),
			zap.String("address", account.Address),
		)
		fmt.Printf("%s  %s\n", account.ID, account.Address)
		fmt.Println("run `intake connect --address " + account.Address + "` to authorize mailbox access")
		return nil
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active email accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		accounts, err := st.ListActiveAccounts(ctx)
		if err != nil {
			return err
		}

		for _, a := range accounts {
			flows := ""
			if a.OrdersActive {
				flows += " orders"
			}
			if a.OffersActive {
				flows += " offers"
			}
			fmt.Printf("%s  %s %s\n", a.ID, a.Address, flows)
		}
		return nil
	},
}

func init() {
	accountsAddCmd.Flags().StringVar(&accountAddress, "address", "", "mailbox address (required)")
	accountsAddCmd.Flags().BoolVar(&accountOrders, "orders", true, "poll this mailbox for order documents")
	accountsAddCmd.Flags().BoolVar(&accountOffers, "offers", false, "poll this mailbox for offer documents")
	accountsAddCmd.Flags().StringVar(&accountOrdersFilter, "orders-filter", "", "document filter: by_attachment_extension or whole_body_as_document")
	accountsAddCmd.MarkFlagRequired("address")

	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd)
	rootCmd.AddCommand(accountsCmd)
}
