package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
	"github.com/gyaneshwarpardhi/donationledger/internal/projection"
)

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay the donation ledger and compare it with live member totals",
		Long: `Replays every applied donation from scratch and compares the result with
each member's stored spendable, savings and lifetime totals. On Postgres
the database-side replay view is checked as well.

Exits non-zero when any member drifts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var (
				members []ledger.Member
				rows    []event.DonationEvent
				sqlIDs  []string
			)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() (err error) {
				members, err = store.Members(gctx)
				return err
			})
			g.Go(func() (err error) {
				rows, err = store.Donations(gctx, ledger.DonationFilter{})
				return err
			})
			if pg, ok := store.(*ledger.Postgres); ok {
				g.Go(func() (err error) {
					sqlIDs, err = pg.ReplayDrift(gctx)
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			drift := projection.Verify(members, rows)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "members: %d  donations: %d\n", len(members), len(rows))
			if len(drift) == 0 && len(sqlIDs) == 0 {
				fmt.Fprintln(out, "ok: live totals match the ledger replay")
				return nil
			}
			if len(drift) > 0 {
				table := tablewriter.NewWriter(out)
				table.SetHeader([]string{"member", "field", "live", "replayed"})
				for _, d := range drift {
					table.Append([]string{d.MemberID, d.Field, strconv.FormatInt(d.Live, 10), strconv.FormatInt(d.Replayed, 10)})
				}
				table.Render()
			}
			for _, id := range sqlIDs {
				fmt.Fprintf(out, "database replay view disagrees for member %s\n", id)
			}
			return fmt.Errorf("%d drifted field(s), %d member(s) flagged by the replay view", len(drift), len(sqlIDs))
		},
	}
}
