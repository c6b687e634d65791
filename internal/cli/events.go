package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/programhealth/internal/ir"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	ProgramID string
	Limit     int
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List canonical events in append order",
		Long: `List accepted canonical events in append (seq) order.

Examples:
  phk events --db ./ph.db
  phk events --db ./ph.db --program prog-1 --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ProgramID, "program", "", "only events for this program")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	f := newFormatter(opts.RootOptions, cmd)
	events, err := app.Store.ListEvents(cmd.Context(), opts.ProgramID, opts.Limit)
	if err != nil {
		return f.Fail(ExitFailure, "failed to list events", err, nil)
	}
	if events == nil {
		events = []ir.CanonicalEvent{}
	}

	return f.Emit(events, func(w io.Writer) {
		if len(events) == 0 {
			fmt.Fprintln(w, "No events found.")
			return
		}
		for _, ev := range events {
			fmt.Fprintf(w, "%6d  %s  %s  %s  %s  %s\n",
				ev.Seq, ir.FormatTime(ev.CreatedAt), ev.ProgramID, ev.Horizon, ev.InputsHash, ev.ID)
		}
	})
}
