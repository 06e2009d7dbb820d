package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print realized P&L across all recorded ledgers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.syncer.Report(context.Background(), userID)
			if err != nil {
				return err
			}
			for _, day := range report.Days {
				fmt.Printf("%s  trades=%-3d  pnl=%+.2f\n", day.Date, day.Trades, day.PnL)
			}
			fmt.Printf("\ntotal: %d trades, pnl %+.2f (%d wins / %d losses / %d breakeven)\n",
				report.Overall.Trades, report.Overall.PnL,
				report.Overall.Wins, report.Overall.Losses, report.Overall.Breakevens)
			for _, skipped := range report.Overall.Skipped {
				fmt.Printf("warning: skipped %s/%s: %s\n", skipped.Date, skipped.Key, skipped.Reason)
			}
			for _, pos := range report.Open {
				fmt.Printf("open: %s %s %.2f\n", pos.Symbol, pos.Side, pos.Remaining)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to report on")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
