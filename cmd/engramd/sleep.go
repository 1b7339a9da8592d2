package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/output"
	"github.com/engram-kernel/engram/internal/sleep"
)

func newSleepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sleep",
		Short:         "Run one sleep-cycle maintenance pass",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("for-user")
			date, _ := cmd.Flags().GetString("date")
			applyDecay, _ := cmd.Flags().GetBool("decay")
			cleanupStale, _ := cmd.Flags().GetBool("cleanup-stale-refs")
			deepSleep, _ := cmd.Flags().GetBool("deep")

			return withKernel(func(k *kernel.Kernel) error {
				report, err := k.RunSleepCycle(context.Background(), sleep.Options{
					User:             user,
					Date:             date,
					ApplyDecay:       applyDecay,
					CleanupStaleRefs: cleanupStale,
					DeepSleep:        deepSleep,
				}, resolveToken(cmd))
				if err != nil {
					return err
				}
				return output.PrintSuccess(report)
			})
		},
	}
	cmd.Flags().String("for-user", "", "user to run the cycle for (default: every user with a memory)")
	cmd.Flags().String("date", "", "YYYY-MM-DD target date (default: today, UTC)")
	cmd.Flags().Bool("decay", true, "apply strength/trace decay and forgetting")
	cmd.Flags().Bool("cleanup-stale-refs", true, "purge expired handoff subscriber refs")
	cmd.Flags().Bool("deep", false, "force a deeper trace cascade (deep sleep)")
	return cmd
}
