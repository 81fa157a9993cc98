package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"confsched/internal/payment"
)

func newPayCmd(a *app) *cobra.Command {
	var (
		amount   string
		currency string
		provider string
		manual   bool
	)

	cmd := &cobra.Command{
		Use:   "pay <registration-id> <complete|cancel|pending|reject>",
		Short: "Apply a payment action to a registration",
		Example: `  confsched pay reg-42 complete --amount 120.00 --currency EUR --provider bank
  confsched pay reg-42 cancel --manual`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := payment.ParseAction(args[1])
			if err != nil {
				return err
			}
			var amt decimal.Decimal
			if amount != "" {
				if amt, err = decimal.NewFromString(amount); err != nil {
					return fmt.Errorf("invalid amount %q: %w", amount, err)
				}
			}

			ctx := cmd.Context()
			_, st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			tx, err := payment.NewLedger(st).Register(ctx, payment.Request{
				RegistrationID: args[0],
				Action:         action,
				Amount:         amt,
				Currency:       currency,
				Provider:       provider,
				Manual:         manual,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s (%s)\n",
				tx.RegistrationID, tx.Status, tx.Amount.StringFixed(2), tx.Currency, tx.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "paid amount; manual actions default to the registration price")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO currency code; defaults to the registration currency")
	cmd.Flags().StringVar(&provider, "provider", "", "payment provider name")
	cmd.Flags().BoolVar(&manual, "manual", false, "action taken by a manager rather than a provider")
	return cmd
}
