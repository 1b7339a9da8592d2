package main

import (
	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/output"
)

func newTrustCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "trust",
		Short:         "Fetch an agent's staging-commit trust record",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			agent := resolveAgent(cmd)
			return withKernel(func(k *kernel.Kernel) error {
				trust, err := k.GetAgentTrust(user, agent, resolveToken(cmd))
				if err != nil {
					return err
				}
				return output.PrintSuccess(trust)
			})
		},
	}
}
