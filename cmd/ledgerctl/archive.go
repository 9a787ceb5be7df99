package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/donationledger/internal/archive"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
	"github.com/gyaneshwarpardhi/donationledger/internal/projection"
)

func archiveCmd() *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Upload one month's donation lines to S3 as CSV",
		Long: `Exports every donation whose event was created in --month (UTC) and uploads
it to s3://<archive.bucket>/<archive.prefix>/<month>/donations.csv. Running it
again for the same month overwrites the object. Defaults to last month.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if month == "" {
				month = projection.Month(time.Now().UTC().AddDate(0, -1, 0))
			}
			start, err := projection.ParseMonth(month)
			if err != nil {
				return err
			}
			cfg, store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			a, err := archive.NewS3(cmd.Context(), cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.Region, nil)
			if err != nil {
				return err
			}
			rows, err := store.Donations(cmd.Context(), ledger.DonationFilter{From: start, To: start.AddDate(0, 1, 0)})
			if err != nil {
				return err
			}
			res, err := a.ArchiveMonth(cmd.Context(), month, rows)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d donations to s3://%s/%s (gross %d, net %d pence)\n",
				res.Rows, res.Bucket, res.Key, res.Summary.GrossPence, res.Summary.NetToMembersPence)
			return nil
		},
	}
	cmd.Flags().StringVarP(&month, "month", "m", "", "month to archive, YYYY-MM (default: last month)")
	return cmd
}
