package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/output"
)

func newDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "digest [date]",
		Short:         "Fetch a user's daily digest (defaults to today, UTC)",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			date := time.Now().UTC().Format("2006-01-02")
			if len(args) == 1 {
				date = args[0]
			}
			return withKernel(func(k *kernel.Kernel) error {
				digest, err := k.GetDailyDigest(user, date, resolveToken(cmd))
				if err != nil {
					return err
				}
				return output.PrintSuccess(digest)
			})
		},
	}
	return cmd
}
