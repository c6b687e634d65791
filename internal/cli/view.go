package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/readmodel"
)

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "view <programId>",
		Short: "Show the Program Health view for a program",
		Long: `Show the Program Health view: the default snapshot (first of H1, H2,
H3, H0 that exists), the latest snapshot and recent history per horizon,
every absence determination and the active capability nodes.

Examples:
  phk view --db ./ph.db prog-1
  phk view --db ./ph.db --format json prog-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(rootOpts, args[0], cmd)
		},
	}
}

func runView(opts *RootOptions, programID string, cmd *cobra.Command) error {
	app, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	f := newFormatter(opts, cmd)
	view, err := app.Views.ReadProgramHealthView(cmd.Context(), programID)
	if err != nil {
		return f.Fail(ExitFailure, "failed to read view", err, nil)
	}

	return f.Emit(view, func(w io.Writer) {
		printView(w, view)
	})
}

func printView(w io.Writer, view *readmodel.View) {
	fmt.Fprintf(w, "Program %s\n", view.ProgramID)
	if view.SnapshotHorizon == nil {
		fmt.Fprintln(w, "  No snapshots.")
	} else {
		fmt.Fprintf(w, "  Default horizon: %s (ledger %s)\n", *view.SnapshotHorizon, view.Snapshot.LedgerID)
	}

	fmt.Fprintln(w, "\nHorizons:")
	for _, h := range ir.Horizons {
		latest := view.LatestSnapshotsByHorizon[h]
		if latest == nil {
			fmt.Fprintf(w, "  %s  -\n", h)
			continue
		}
		fmt.Fprintf(w, "  %s  %s  history=%d\n",
			h, ir.FormatTime(latest.CreatedAt), len(view.SnapshotHistoryByHorizon[h]))
	}

	fmt.Fprintf(w, "\nAbsences (%d):\n", len(view.Absences))
	for _, a := range view.Absences {
		fmt.Fprintf(w, "  %s  type=%s severity=%s node=%s\n",
			a.AbsenceKey, orDash(a.AbsenceType), formatSeverity(a.Severity), orDash(deref(a.CapabilityNodeID)))
	}

	fmt.Fprintf(w, "\nActive capability nodes (%d):\n", len(view.CapabilityNodes))
	for _, n := range view.CapabilityNodes {
		fmt.Fprintf(w, "  %s  %s\n", n.ID, n.Name)
	}
}

func formatSeverity(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
