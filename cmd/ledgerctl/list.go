package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"payhook/internal/ledger"
)

func listCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger records by status, or processed events that matched no subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			unmapped, _ := cmd.Flags().GetBool("unmapped")
			limit, _ := cmd.Flags().GetInt("limit")

			st := ledger.Status(strings.ToUpper(status))
			if !unmapped && !st.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			ctx := cmd.Context()
			store, closeFn, err := d.openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			var recs []*ledger.Record
			if unmapped {
				recs, err = store.ListUnmapped(ctx, limit)
			} else {
				recs, err = store.ListByStatus(ctx, st, limit)
			}
			if err != nil {
				return err
			}
			return printRecords(cmd, recs)
		},
	}
	cmd.Flags().StringP("status", "s", string(ledger.StatusFailed), "Status to list (PENDING, PROCESSED, IGNORED, FAILED)")
	cmd.Flags().Bool("unmapped", false, "List processed events that matched no subscription")
	cmd.Flags().IntP("limit", "n", 50, "Maximum records")
	return cmd
}

func showCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show one ledger record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withPayload, _ := cmd.Flags().GetBool("payload")

			ctx := cmd.Context()
			store, closeFn, err := d.openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := store.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("event %s: %w", args[0], ledger.ErrNotFound)
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "id:\t%s\n", rec.ID)
			fmt.Fprintf(w, "event_id:\t%s\n", rec.EventID)
			fmt.Fprintf(w, "event_type:\t%s\n", rec.EventType)
			fmt.Fprintf(w, "status:\t%s\n", rec.Status)
			fmt.Fprintf(w, "attempts:\t%d\n", rec.Attempts)
			fmt.Fprintf(w, "received_at:\t%s\n", formatTime(&rec.ReceivedAt))
			fmt.Fprintf(w, "processed_at:\t%s\n", formatTime(rec.ProcessedAt))
			fmt.Fprintf(w, "event_created_at:\t%s\n", formatTime(rec.EventCreatedAt))
			fmt.Fprintf(w, "last_error:\t%s\n", deref(rec.LastError))
			if err := w.Flush(); err != nil {
				return err
			}

			if withPayload {
				raw, err := store.LoadPayload(ctx, rec.EventID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%s\n", raw)
			}
			return nil
		},
	}
	cmd.Flags().Bool("payload", false, "Also print the stored raw payload")
	return cmd
}

func printRecords(cmd *cobra.Command, recs []*ledger.Record) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT ID\tTYPE\tSTATUS\tATTEMPTS\tRECEIVED\tLAST ERROR")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.EventID, r.EventType, r.Status, r.Attempts, formatTime(&r.ReceivedAt), truncate(deref(r.LastError), 60))
	}
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
