package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ceedaragents/cyrus/pkg/config"
)

func newBillingCmd() *cobra.Command {
	billing := &cobra.Command{
		Use:   "billing",
		Short: "Billing-related configuration",
	}

	billing.AddCommand(&cobra.Command{
		Use:   "set-customer-id <customer-id>",
		Short: "Persist the billing customer id used by the proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Initialize(cmd.Context(), cyrusHome())
			if err != nil {
				return err
			}
			cfg.StripeCustomerID = args[0]
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Println("Customer id saved.")
			return nil
		},
	})
	return billing
}
