package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/m3"
	"github.com/roach88/programhealth/internal/moduleruntime"
)

// M3Options holds flags shared by the m3 subcommands.
type M3Options struct {
	*RootOptions
	ProgramID  string
	TeamID     string
	Horizon    string
	Candidates string
	Persist    bool
}

func (o *M3Options) target() moduleruntime.Target {
	return moduleruntime.Target{ProgramID: o.ProgramID, TeamID: o.TeamID}
}

// horizon parses --horizon; empty means all horizons.
func (o *M3Options) horizon() (*ir.Horizon, error) {
	if o.Horizon == "" {
		return nil, nil
	}
	h, err := ir.ParseHorizon(o.Horizon)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// NewM3Command creates the m3 command group.
func NewM3Command(rootOpts *RootOptions) *cobra.Command {
	opts := &M3Options{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "m3",
		Short: "Inspect and run the auxiliary M3 impact module",
		Long: `The M3 module reads Program Health through the read model and writes
only its own m3_impacts table. Its impacts are visible only while the
module is active and the program is eligible (mode active_available).`,
	}

	cmd.PersistentFlags().StringVar(&opts.ProgramID, "program", "", "program id")
	cmd.PersistentFlags().StringVar(&opts.TeamID, "team", "", "team id (resolved to its program)")

	cmd.AddCommand(newM3StateCommand(opts))
	cmd.AddCommand(newM3ImpactsCommand(opts))
	cmd.AddCommand(newM3EvaluateCommand(opts))
	cmd.AddCommand(newM3MigrateCommand(opts))

	return cmd
}

func newM3StateCommand(opts *M3Options) *cobra.Command {
	return &cobra.Command{
		Use:           "state",
		Short:         "Show the module runtime state for a program",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			f := newFormatter(opts.RootOptions, cmd)
			state, err := app.M3.State(cmd.Context(), opts.target())
			if err != nil {
				return f.Fail(ExitFailure, "failed to read runtime state", err, nil)
			}
			return f.Emit(state, func(w io.Writer) { printRuntimeState(w, state) })
		},
	}
}

func newM3ImpactsCommand(opts *M3Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "impacts",
		Short: "List persisted M3 impacts visible for a program",
		Long: `List persisted impacts, newest first. Nothing is listed unless the
module mode is active_available.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			horizon, err := opts.horizon()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --horizon", err)
			}

			app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			f := newFormatter(opts.RootOptions, cmd)
			ctx := cmd.Context()
			state, err := app.M3.State(ctx, opts.target())
			if err != nil {
				return f.Fail(ExitFailure, "failed to read runtime state", err, nil)
			}
			impacts, err := app.M3.Impacts(ctx, opts.target(), horizon)
			if err != nil {
				return f.Fail(ExitFailure, "failed to list impacts", err, nil)
			}

			out := struct {
				Mode    ir.RuntimeMode    `json:"mode"`
				Impacts []ir.ImpactRecord `json:"impacts"`
			}{state.Mode, impacts}
			return f.Emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "Mode: %s\n", state.Mode)
				printImpacts(w, impacts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Horizon, "horizon", "", "only impacts for this horizon")
	return cmd
}

func newM3EvaluateCommand(opts *M3Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compute provisional impacts for candidates",
		Long: `Compute provisional impacts for a YAML list of candidates against the
program's absences and active capability nodes:

  - recruit_id: r-1
    capability_node_id: node-1
    evidence: 0.8
    cohort_tier: A

Without --persist this is a dry run and writes nothing. With --persist
each impact whose rationale passes the contract is stored; persisting is
refused unless the module mode is active_available.

Examples:
  phk m3 evaluate --db ./ph.db --program prog-1 --candidates c.yaml
  phk m3 evaluate --db ./ph.db --team team-1 --candidates c.yaml --persist`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runM3Evaluate(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Horizon, "horizon", "", "horizon to evaluate (default H1)")
	cmd.Flags().StringVar(&opts.Candidates, "candidates", "", "path to candidates YAML (required)")
	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "store accepted impacts")
	_ = cmd.MarkFlagRequired("candidates")
	return cmd
}

func runM3Evaluate(opts *M3Options, cmd *cobra.Command) error {
	candidates, err := loadCandidates(opts.Candidates)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read candidates", err)
	}
	req := m3.EvaluateRequest{
		Target:     opts.target(),
		Horizon:    ir.Horizon(opts.Horizon),
		Candidates: candidates,
	}

	app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	f := newFormatter(opts.RootOptions, cmd)
	eval, err := app.M3.Evaluate(cmd.Context(), req, opts.Persist)
	if err != nil {
		return f.Fail(ExitFailure, "evaluation failed", err, nil)
	}

	return f.Emit(eval, func(w io.Writer) {
		fmt.Fprintf(w, "Mode: %s\n", eval.State.Mode)
		printImpacts(w, eval.Impacts)
		for _, rej := range eval.Rejected {
			fmt.Fprintf(w, "✗ %s -> %s rejected:\n", rej.RecruitID, rej.CapabilityNodeID)
			for _, msg := range rej.Errors {
				fmt.Fprintf(w, "    - %s\n", msg)
			}
		}
		for _, s := range eval.Skipped {
			fmt.Fprintf(w, "- skipped %s\n", s)
		}
		if opts.Persist {
			fmt.Fprintf(w, "Persisted: %d\n", eval.Persisted)
		}
	})
}

func newM3MigrateCommand(opts *M3Options) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Create the m3_impacts table",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			f := newFormatter(opts.RootOptions, cmd)
			if err := m3.Migrate(cmd.Context(), app.Store.DB()); err != nil {
				return f.Fail(ExitFailure, "migration failed", err, nil)
			}
			return f.Emit(map[string]string{"table": m3.ImpactsTable}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s ready\n", m3.ImpactsTable)
			})
		},
	}
}

// loadCandidates reads a YAML list of candidates, rejecting unknown fields.
func loadCandidates(path string) ([]m3.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var candidates []m3.Candidate
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&candidates); err != nil {
		if err == io.EOF {
			return []m3.Candidate{}, nil
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return candidates, nil
}

func printRuntimeState(w io.Writer, s ir.ModuleRuntimeState) {
	fmt.Fprintf(w, "Program:     %s\n", s.ProgramID)
	fmt.Fprintf(w, "Module:      %s\n", s.RuntimeKey)
	fmt.Fprintf(w, "Active:      %t\n", s.IsActive)
	fmt.Fprintf(w, "Eligibility: %s\n", s.EligibilityStatus)
	for _, code := range s.EligibilityReasonCodes {
		fmt.Fprintf(w, "  - %s\n", code)
	}
	fmt.Fprintf(w, "Mode:        %s\n", s.Mode)
}

func printImpacts(w io.Writer, impacts []ir.ImpactRecord) {
	if len(impacts) == 0 {
		fmt.Fprintln(w, "No impacts.")
		return
	}
	for _, imp := range impacts {
		fmt.Fprintf(w, "  %.3f  %s -> %s  [%s]\n", imp.ImpactScore, imp.RecruitID, imp.CapabilityNodeID, imp.Horizon)
		fmt.Fprintf(w, "         %s\n", imp.Rationale)
	}
}
