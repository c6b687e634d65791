package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/programhealth/internal/ir"
)

// NodeFile is one entry of a capability node seed file.
type NodeFile struct {
	ID        string `yaml:"id"`
	ProgramID string `yaml:"program_id"`
	Name      string `yaml:"name"`
	Active    bool   `yaml:"active"`
}

// NewSeedCommand creates the seed command group.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write collaborator rows (capability nodes, teams)",
		Long: `Capability nodes and teams are owned by other systems. These commands
write them directly so the kernel can be exercised on its own.`,
	}
	cmd.AddCommand(newSeedNodesCommand(rootOpts))
	cmd.AddCommand(newSeedTeamCommand(rootOpts))
	return cmd
}

func newSeedNodesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes <nodes.yaml>",
		Short: "Upsert capability nodes from a YAML list",
		Long: `Upsert capability nodes from a YAML list:

  - id: node-1
    program_id: prog-1
    name: distance
    active: true`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := loadNodes(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read nodes", err)
			}

			app, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			f := newFormatter(opts, cmd)
			for _, n := range nodes {
				node := ir.CapabilityNode{ID: n.ID, ProgramID: n.ProgramID, Name: n.Name, IsActive: n.Active}
				if err := app.Store.PutCapabilityNode(cmd.Context(), node); err != nil {
					return f.Fail(ExitFailure, fmt.Sprintf("failed to write node %s", n.ID), err, nil)
				}
				f.VerboseLog("wrote node %s (%s)", n.ID, n.ProgramID)
			}

			return f.Emit(map[string]int{"nodes": len(nodes)}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Wrote %d capability node(s)\n", len(nodes))
			})
		},
	}
}

func newSeedTeamCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "team <teamId> <programId>",
		Short:         "Map a team to its program",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			f := newFormatter(opts, cmd)
			if err := app.Store.PutTeam(cmd.Context(), args[0], args[1]); err != nil {
				return f.Fail(ExitFailure, "failed to write team", err, nil)
			}
			return f.Emit(map[string]string{"teamId": args[0], "programId": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Team %s -> program %s\n", args[0], args[1])
			})
		},
	}
}

func loadNodes(path string) ([]NodeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var nodes []NodeFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&nodes); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return nodes, nil
}
