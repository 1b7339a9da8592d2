package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/output"
)

func newCommitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Review staged proposal commits",
	}
	cmd.AddCommand(newCommitListCmd())
	cmd.AddCommand(newCommitApproveCmd())
	cmd.AddCommand(newCommitRejectCmd())
	return cmd
}

func newCommitListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List a user's proposal commits",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			return withKernel(func(k *kernel.Kernel) error {
				commits, err := k.ListPendingCommits(user, status, limit, resolveToken(cmd))
				if err != nil {
					return err
				}
				type resp struct {
					Count   int         `json:"count"`
					Commits interface{} `json:"commits"`
				}
				return output.PrintSuccess(resp{Count: len(commits), Commits: commits})
			})
		},
	}
	cmd.Flags().String("status", "PENDING", "commit status filter")
	cmd.Flags().Int("limit", 20, "maximum commits to return")
	return cmd
}

func newCommitApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "approve <commit-id>",
		Short:         "Approve a pending commit and apply its change",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKernel(func(k *kernel.Kernel) error {
				res, err := k.ApproveCommit(context.Background(), args[0], resolveToken(cmd))
				if err != nil {
					return err
				}
				return output.PrintSuccess(res)
			})
		},
	}
}

func newCommitRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "reject <commit-id>",
		Short:         "Reject a pending commit",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			return withKernel(func(k *kernel.Kernel) error {
				if err := k.RejectCommit(args[0], reason, resolveToken(cmd)); err != nil {
					return err
				}
				return output.PrintSuccess(map[string]string{"commit_id": args[0], "status": "rejected"})
			})
		},
	}
	cmd.Flags().String("reason", "", "rejection reason")
	return cmd
}
