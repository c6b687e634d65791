package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/programhealth/internal/store"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <programId>",
		Short: "Check ledger and projection consistency for a program",
		Long: `Verify that every accepted event has exactly one ledger entry and one
snapshot, that snapshots and absences reference existing ledger entries,
and that stored payloads still match their digests.

Exit codes:
  0 - No findings
  1 - Projection findings (PROJECTION_INVARIANT_VIOLATION)
  2 - Command error

Examples:
  phk audit --db ./ph.db prog-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(rootOpts, args[0], cmd)
		},
	}
}

func runAudit(opts *RootOptions, programID string, cmd *cobra.Command) error {
	app, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	f := newFormatter(opts, cmd)
	report, err := app.Store.AuditProgram(cmd.Context(), programID)
	if err != nil {
		return f.Fail(ExitFailure, "audit failed", err, nil)
	}

	if err := f.Emit(report, func(w io.Writer) { printAudit(w, report) }); err != nil {
		return err
	}
	if !report.OK {
		return WrapExitError(ExitFailure, "audit found projection findings", report.Err())
	}
	return nil
}

func printAudit(w io.Writer, r store.AuditReport) {
	mark := "✓"
	if !r.OK {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s: events=%d ledger=%d snapshots=%d absences=%d\n",
		mark, r.ProgramID, r.Events, r.Ledger, r.Snapshots, r.Absences)
	for _, finding := range r.Findings {
		fmt.Fprintf(w, "  - %s\n", finding)
	}
}
