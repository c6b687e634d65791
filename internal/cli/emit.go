package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/programhealth/internal/emission"
	"github.com/roach88/programhealth/internal/ir"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Token string
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit <request.json|->",
		Short: "Append and project one Program Health evaluation",
		Long: `Send one emission through the gateway. The request is the JSON body
accepted by POST /v1/program-health/emissions:

  {"programId": "...", "sport": "xc", "horizon": "H1", "inputsHash": "...",
   "resultPayload": {"summary": {...}, "absences": [...]}}

Resubmitting an accepted inputsHash with the same payload is reported as
deduplicated. A different payload under the same inputsHash is rejected.

Exit codes:
  0 - Accepted or deduplicated
  1 - Rejected (invalid input, divergent resubmission, storage failure)
  2 - Command error (unreadable request, database not found, etc.)

Examples:
  phk emit --db ./ph.db request.json
  cat request.json | phk emit --db ./ph.db --token "$JWT" -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer JWT identifying the acting user")

	return cmd
}

func runEmit(opts *EmitOptions, source string, cmd *cobra.Command) error {
	req, err := readEmissionRequest(source, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read emission request", err)
	}

	app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, err := app.bindActor(cmd.Context(), opts.Token)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid token", err)
	}

	f := newFormatter(opts.RootOptions, cmd)
	res, err := app.Gateway.Emit(ctx, req)
	if err != nil {
		return f.Fail(ExitFailure, "emission rejected", err, nil)
	}

	return f.Emit(res, func(w io.Writer) {
		printEmitResult(w, req, res)
	})
}

func readEmissionRequest(source string, stdin io.Reader) (emission.Request, error) {
	var r io.Reader = stdin
	if source != "-" {
		file, err := os.Open(source)
		if err != nil {
			return emission.Request{}, err
		}
		defer file.Close()
		r = file
	}

	var req emission.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return emission.Request{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return req, nil
}

func printEmitResult(w io.Writer, req emission.Request, res ir.EmitResult) {
	if res.Deduplicated {
		fmt.Fprintf(w, "✓ Deduplicated %s %s (inputs hash %s)\n", req.ProgramID, req.Horizon, req.InputsHash)
	} else {
		fmt.Fprintf(w, "✓ Accepted %s %s (inputs hash %s)\n", req.ProgramID, req.Horizon, req.InputsHash)
	}
	fmt.Fprintf(w, "  Canonical event:   %s\n", res.CanonicalEventID)
	fmt.Fprintf(w, "  Ledger entry:      %s\n", res.LedgerID)
	fmt.Fprintf(w, "  Absences upserted: %d\n", res.AbsencesUpserted)
	fmt.Fprintf(w, "  Snapshot written:  %t\n", res.SnapshotWritten)
}
