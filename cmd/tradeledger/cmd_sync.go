package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradeledger/internal/source"
	"tradeledger/internal/trace"
)

func newSyncCmd() *cobra.Command {
	var userID string
	var sourceName string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile upstream fills into the day's ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if a.archive != nil {
				a.archive.Start(ctx)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = trace.Shutdown(shutdownCtx)
			}()

			cred := credentialFromEnv(sourceName)
			if cred.AccessToken == "" {
				return fmt.Errorf("no credential for source %s: set its access token in the environment", sourceName)
			}

			result, err := a.syncer.Sync(ctx, userID, sourceName, cred)
			if err != nil {
				var adapterErr *source.AdapterError
				if errors.As(err, &adapterErr) {
					return fmt.Errorf("upstream fetch failed, re-authenticate and retry: %w", err)
				}
				return err
			}
			if result.NoNewTrades {
				fmt.Println("No new trades found.")
				return nil
			}
			fmt.Printf("Recorded %d new trades for %s.\n", result.NewTradeCount, result.Date)
			a.log.Info("sync finished", zap.String("run_id", result.RunID))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to reconcile")
	cmd.Flags().StringVar(&sourceName, "source", "", "upstream source (zerodha, fyers, dhan)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}
