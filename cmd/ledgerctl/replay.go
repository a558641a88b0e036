package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"payhook/internal/ledger"
)

func replayCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [event-id...]",
		Short: "Enqueue events for reprocessing by the replay worker",
		Long: `Enqueue events on the replay queue. With explicit event ids those are
sent as given; otherwise up to --limit records in --status are selected.
Terminal records are skipped by the worker, so replaying them is harmless.

--unmapped selects PROCESSED records that were acknowledged without a
matching subscription and reopens them to PENDING before enqueueing. Use
it once the missing subscriptions have been created.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			reason, _ := cmd.Flags().GetString("reason")
			unmapped, _ := cmd.Flags().GetBool("unmapped")
			ctx := cmd.Context()

			ids := args
			if unmapped {
				if len(ids) > 0 {
					return errors.New("--unmapped does not take event ids")
				}
				reopened, err := reopenUnmapped(ctx, d, limit)
				if err != nil {
					return err
				}
				ids = reopened
			} else if len(ids) == 0 {
				st := ledger.Status(strings.ToUpper(status))
				if st != ledger.StatusFailed && st != ledger.StatusPending {
					return fmt.Errorf("replay only selects FAILED or PENDING records, got %q", status)
				}
				store, closeFn, err := d.openLedger(ctx)
				if err != nil {
					return err
				}
				recs, err := store.ListByStatus(ctx, st, limit)
				closeFn()
				if err != nil {
					return err
				}
				for _, r := range recs {
					ids = append(ids, r.EventID)
				}
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to replay")
				return nil
			}

			pub, err := d.openPublisher(ctx)
			if err != nil {
				return err
			}
			sent, err := pub.Enqueue(ctx, ids, reason)
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d of %d events\n", sent, len(ids))
			return err
		},
	}
	cmd.Flags().StringP("status", "s", string(ledger.StatusFailed), "Status to select when no ids are given")
	cmd.Flags().IntP("limit", "n", 100, "Maximum records to select")
	cmd.Flags().String("reason", "manual", "Reason attached to each queue message")
	cmd.Flags().Bool("unmapped", false, "Reopen and enqueue records acknowledged without a subscription")
	return cmd
}

// reopenUnmapped returns the event ids it moved back to PENDING. A record
// reopened concurrently by another operator is skipped.
func reopenUnmapped(ctx context.Context, d *deps, limit int) ([]string, error) {
	store, closeFn, err := d.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	recs, err := store.ListUnmapped(ctx, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, r := range recs {
		err := store.ReopenUnmapped(ctx, r.ID)
		if errors.Is(err, ledger.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return ids, fmt.Errorf("reopen %s: %w", r.EventID, err)
		}
		ids = append(ids, r.EventID)
	}
	return ids, nil
}
