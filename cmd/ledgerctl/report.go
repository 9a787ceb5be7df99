package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/donationledger/internal/engine"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
	"github.com/gyaneshwarpardhi/donationledger/internal/projection"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print read-model reports",
	}
	cmd.AddCommand(reportMonthlyCmd())
	cmd.AddCommand(reportLeaderboardCmd())
	return cmd
}

func reportMonthlyCmd() *cobra.Command {
	var from, to, format string
	cmd := &cobra.Command{
		Use:   "monthly",
		Short: "Monthly reconciliation by event creation month (UTC)",
		Example: `  ledgerctl report monthly > monthly.csv
  ledgerctl report monthly --from 2026-01 --to 2026-03 --format table`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f ledger.DonationFilter
			if from != "" {
				t, err := projection.ParseMonth(from)
				if err != nil {
					return err
				}
				f.From = t
			}
			if to != "" {
				t, err := projection.ParseMonth(to)
				if err != nil {
					return err
				}
				f.To = t.AddDate(0, 1, 0)
			}
			_, store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			rows, err := store.Donations(cmd.Context(), f)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), format, projection.MonthlyColumns, projection.MonthlyReconciliation(rows))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first month, YYYY-MM (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "last month, YYYY-MM (inclusive)")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format: csv or table")
	return cmd
}

func reportLeaderboardCmd() *cobra.Command {
	var limit int
	var format string
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Company leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			rules, err := engine.BuildRules(cfg)
			if err != nil {
				return err
			}
			rows, err := store.Donations(cmd.Context(), ledger.DonationFilter{})
			if err != nil {
				return err
			}
			board := projection.Leaderboard(rows, limit, rules.Companies.Normalize)
			return render(cmd.OutOrStdout(), format, projection.LeaderboardColumns, board)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum entries (0 = all)")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: csv or table")
	return cmd
}

func render[T projection.Recorder](w io.Writer, format string, header []string, rows []T) error {
	switch format {
	case "csv":
		return projection.WriteCSV(w, header, rows)
	case "table":
		table := tablewriter.NewWriter(w)
		table.SetHeader(header)
		for _, r := range rows {
			table.Append(r.Record())
		}
		table.Render()
		return nil
	}
	return fmt.Errorf("unknown format %q (want csv or table)", format)
}
