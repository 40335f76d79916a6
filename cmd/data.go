package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Show crawled data",
	}
	cmd.AddCommand(newDataListCmd("events", "List crawled events", listEvents))
	cmd.AddCommand(newDataListCmd("windows", "List crawled payment windows", listWindows))
	cmd.AddCommand(newDataListCmd("reservations", "List claimed reservations", listReservations))
	return cmd
}

func newDataListCmd(use, short string, list func(ctx context.Context, a *app, w io.Writer) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if err := list(ctx, a, w); err != nil {
				return err
			}
			return w.Flush()
		},
	}
}

func listEvents(ctx context.Context, a *app, w io.Writer) error {
	evs, err := a.store.Events(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "UID\tDATE\tTITLE\tANTENNA\tPRICE\tSTATUS\tFULL")
	for _, e := range evs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n", e.UID, e.StartDate, e.Title, e.AntennaName, e.Price, e.Status, e.Full)
	}
	return nil
}

func listWindows(ctx context.Context, a *app, w io.Writer) error {
	ws, err := a.store.PaymentWindows(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "TIME_SHIFT\tEVENT\tWINDOW\tMORNING")
	for _, pw := range ws {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", pw.TimeShiftUID, pw.EventUID, pw.Timeshift(), pw.IsMorning)
	}
	return nil
}

func listReservations(ctx context.Context, a *app, w io.Writer) error {
	rs, err := a.store.Reservations(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "ACCOUNT\tEVENT\tDATE\tWINDOW\tAT")
	for _, r := range rs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Account.Email, r.Event.Title, r.Event.StartDate, r.Window.Timeshift(),
			r.CreatedAt.Local().Format(time.RFC3339))
	}
	return nil
}
