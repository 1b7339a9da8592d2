package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/output"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "search <query>",
		Short:         "Hybrid semantic+keyword search over a user's memories",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			categoriesRaw, _ := cmd.Flags().GetString("categories")

			return withKernel(func(k *kernel.Kernel) error {
				packet, err := k.Search(context.Background(), kernel.SearchInput{
					Query:      args[0],
					User:       user,
					Agent:      resolveAgent(cmd),
					Token:      resolveToken(cmd),
					Limit:      limit,
					Categories: splitCSV(categoriesRaw),
				})
				if err != nil {
					return err
				}
				return output.PrintSuccess(packet)
			})
		},
	}
	cmd.Flags().Int("limit", 10, "maximum results to return")
	cmd.Flags().String("categories", "", "comma-separated category filter")
	return cmd
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
