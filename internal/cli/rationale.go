package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/programhealth/internal/rationale"
)

// RationaleOptions holds flags for the rationale command.
type RationaleOptions struct {
	*RootOptions
	File            string
	RequireTemporal bool
	MaxLength       int
}

// NewRationaleCommand creates the rationale command.
func NewRationaleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RationaleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rationale [text]",
		Short: "Check text against the impact rationale contract",
		Long: `Validate a rationale the way M3 impacts are validated before they are
stored. All violated rules are reported together.

Defaults for --max-length and --require-temporal come from the config
file (rationale.max_length, rationale.require_temporal).

Exit codes:
  0 - Valid
  1 - RATIONALE_CONTRACT_VIOLATION
  2 - Command error

Examples:
  phk rationale "Could pressure coverage of the depth gap because ..."
  phk rationale --file rationale.txt --require-temporal`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRationale(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "read the rationale from a file (- for stdin)")
	cmd.Flags().BoolVar(&opts.RequireTemporal, "require-temporal", false, "require a temporal cue")
	cmd.Flags().IntVar(&opts.MaxLength, "max-length", 0, "maximum length in characters")

	return cmd
}

func runRationale(opts *RationaleOptions, args []string, cmd *cobra.Command) error {
	text, err := rationaleText(opts, args, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read rationale", err)
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	ropts := rationale.Options{
		RequireTemporal: cfg.Rationale.RequireTemporal,
		MaxLength:       cfg.Rationale.MaxLength,
	}
	if cmd.Flags().Changed("require-temporal") {
		ropts.RequireTemporal = opts.RequireTemporal
	}
	if cmd.Flags().Changed("max-length") {
		ropts.MaxLength = opts.MaxLength
	}

	res := rationale.Validate(text, ropts)

	f := newFormatter(opts.RootOptions, cmd)
	if err := f.Emit(res, func(w io.Writer) {
		if res.OK {
			fmt.Fprintln(w, "✓ Rationale satisfies the contract")
			return
		}
		fmt.Fprintf(w, "✗ Rationale violates %d rule(s):\n", len(res.Violations))
		for _, v := range res.Violations {
			fmt.Fprintf(w, "  - [%s] %s\n", v.Rule, v.Message)
		}
	}); err != nil {
		return err
	}
	if !res.OK {
		return WrapExitError(ExitFailure, "rationale rejected", rationale.AssertValidM3Rationale(text, ropts))
	}
	return nil
}

func rationaleText(opts *RationaleOptions, args []string, stdin io.Reader) (string, error) {
	switch {
	case opts.File != "" && len(args) > 0:
		return "", fmt.Errorf("pass the text as an argument or --file, not both")
	case opts.File == "-":
		data, err := io.ReadAll(stdin)
		return strings.TrimSpace(string(data)), err
	case opts.File != "":
		data, err := os.ReadFile(opts.File)
		return strings.TrimSpace(string(data)), err
	case len(args) == 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("no rationale given")
	}
}
