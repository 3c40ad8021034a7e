package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rua/internal/stats"
)

func newStatsCommand(load func(*cobra.Command) (*app, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print registry statistics as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			snap, err := a.stats.Compute(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	cmd.AddCommand(newStatsExportCommand(load))
	return cmd
}

func newStatsExportCommand(load func(*cobra.Command) (*app, error)) *cobra.Command {
	var (
		requestedBy string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a statistics CSV to the blob store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			ctx := cmd.Context()
			a.exports.Start()
			defer func() { _ = a.exports.Stop(ctx) }()

			record, err := a.exports.Enqueue(ctx, requestedBy)
			if err != nil {
				return err
			}
			deadline := time.Now().Add(timeout)
			for {
				got, _ := a.exports.Get(record.ID)
				switch got.Status {
				case stats.ExportSucceeded:
					_, err := fmt.Fprintln(cmd.OutOrStdout(), got.Key)
					return err
				case stats.ExportFailed:
					return fmt.Errorf("export %s failed: %s", got.ID, got.Error)
				}
				if time.Now().After(deadline) {
					return fmt.Errorf("export %s still %s after %s", got.ID, got.Status, timeout)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(50 * time.Millisecond):
				}
			}
		},
	}
	cmd.Flags().StringVar(&requestedBy, "requested-by", "sistema", "login recorded on the export")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long to wait for the export")
	return cmd
}
