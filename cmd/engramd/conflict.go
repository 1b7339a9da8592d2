package main

import (
	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/output"
)

func newConflictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflict",
		Short: "Manage conflict-stash entries",
	}
	cmd.AddCommand(newConflictResolveCmd())
	return cmd
}

func newConflictResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "resolve <stash-id> <resolution>",
		Short:         "Resolve a conflict-stash entry: KEEP_EXISTING, ACCEPT_PROPOSED, or KEEP_BOTH",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKernel(func(k *kernel.Kernel) error {
				resolution := models.ConflictResolution(args[1])
				if err := k.ResolveConflict(args[0], resolution, resolveToken(cmd)); err != nil {
					return err
				}
				return output.PrintSuccess(map[string]string{"stash_id": args[0], "resolution": string(resolution)})
			})
		},
	}
}
