package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"storefront/internal/app"
)

func reconcileCmd() *cobra.Command {
	var (
		flow     string
		rawURL   string
		markerID string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Show the verdict a provider return URL would get",
		Long: `Replays a payment provider's return URL against the live catalog and prints
the verdict and the view a shopper would see. Marker and ledger are in memory,
so nothing in the configured stores is read or changed.

Examples:
  storefront reconcile --flow library --url '/library?status=success&payment_id=pay_1' --marker ebook-42
  storefront reconcile --flow nutrition --url 'https://shop.example/nutrition?razorpay_payment_link_status=paid&internal_plan_id=plan-7'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			rep, err := app.Offline(cmd.Context(), cfg, log, flow, rawURL, markerID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}

	cmd.Flags().StringVar(&flow, "flow", "", "flow name, e.g. library")
	cmd.Flags().StringVar(&rawURL, "url", "", "return URL the provider redirected to")
	cmd.Flags().StringVar(&markerID, "marker", "", "item id the shopper's pending purchase marker held")
	_ = cmd.MarkFlagRequired("flow")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}
