package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/handoff"
	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/output"
)

func newHandoffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Session continuity: digests, checkpoints, and auto-resume",
	}
	cmd.AddCommand(newHandoffSaveCmd())
	cmd.AddCommand(newHandoffLastCmd())
	cmd.AddCommand(newHandoffListCmd())
	cmd.AddCommand(newHandoffResumeCmd())
	cmd.AddCommand(newHandoffCheckpointCmd())
	cmd.AddCommand(newHandoffFinalizeCmd())
	return cmd
}

func newHandoffSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "save <task-summary>",
		Short:         "Save or update a session digest for (user, agent, repo)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			repo, _ := cmd.Flags().GetString("repo")
			namespace, _ := cmd.Flags().GetString("namespace")
			decisions, _ := cmd.Flags().GetStringSlice("decision")
			files, _ := cmd.Flags().GetStringSlice("file")
			todos, _ := cmd.Flags().GetStringSlice("todo")
			metaRaw, _ := cmd.Flags().GetStringSlice("meta")

			return withKernel(func(k *kernel.Kernel) error {
				id, err := k.SaveSessionDigest(handoff.SaveDigestParams{
					User:         user,
					Agent:        resolveAgent(cmd),
					Repo:         repo,
					Namespace:    namespace,
					TaskSummary:  args[0],
					Decisions:    decisions,
					FilesTouched: files,
					Todos:        todos,
					Metadata:     parseKV(metaRaw),
				}, resolveToken(cmd))
				if err != nil {
					return err
				}
				return output.PrintSuccess(map[string]string{"session_id": id})
			})
		},
	}
	cmd.Flags().String("repo", "", "repository this session concerns")
	cmd.Flags().String("namespace", "", "namespace scope")
	cmd.Flags().StringSlice("decision", nil, "a decision made this session, repeatable")
	cmd.Flags().StringSlice("file", nil, "a file touched this session, repeatable")
	cmd.Flags().StringSlice("todo", nil, "an open todo, repeatable")
	cmd.Flags().StringSlice("meta", nil, "metadata key=value pairs, repeatable")
	return cmd
}

func newHandoffLastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "last",
		Short:         "Fetch the most recent handoff session for a scope",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			repo, _ := cmd.Flags().GetString("repo")
			namespace, _ := cmd.Flags().GetString("namespace")
			return withKernel(func(k *kernel.Kernel) error {
				sess, err := k.GetLastSession(user, resolveAgent(cmd), namespace, repo, resolveToken(cmd))
				if err != nil {
					return err
				}
				return output.PrintSuccess(sess)
			})
		},
	}
	cmd.Flags().String("repo", "", "repository this session concerns")
	cmd.Flags().String("namespace", "", "namespace scope")
	return cmd
}

func newHandoffListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List a user's handoff sessions, most recent first",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			return withKernel(func(k *kernel.Kernel) error {
				sessions, err := k.ListSessions(user, limit, resolveToken(cmd))
				if err != nil {
					return err
				}
				type resp struct {
					Count    int         `json:"count"`
					Sessions interface{} `json:"sessions"`
				}
				return output.PrintSuccess(resp{Count: len(sessions), Sessions: sessions})
			})
		},
	}
	cmd.Flags().Int("limit", 20, "maximum sessions to return")
	return cmd
}

func newHandoffResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "resume",
		Short:         "Compute (or return cached) auto-resume context for a scope",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			repo, _ := cmd.Flags().GetString("repo")
			namespace, _ := cmd.Flags().GetString("namespace")
			return withKernel(func(k *kernel.Kernel) error {
				ctx, err := k.AutoResumeContext(user, resolveAgent(cmd), namespace, repo, resolveToken(cmd))
				if err != nil {
					return err
				}
				return output.PrintSuccess(ctx)
			})
		},
	}
	cmd.Flags().String("repo", "", "repository this session concerns")
	cmd.Flags().String("namespace", "", "namespace scope")
	return cmd
}

func newHandoffCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "checkpoint <session-id> <lane-id>",
		Short:         "Append a checkpoint to an open lane",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, _ := cmd.Flags().GetString("snapshot")
			return withKernel(func(k *kernel.Kernel) error {
				res, err := k.AutoCheckpoint(args[0], args[1], resolveAgent(cmd), []byte(snapshot), time.Now(), resolveToken(cmd))
				if err != nil {
					return err
				}
				return output.PrintSuccess(res)
			})
		},
	}
	cmd.Flags().String("snapshot", "", "raw snapshot payload")
	return cmd
}

func newHandoffFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "finalize <session-id> <lane-id>",
		Short:         "Close a lane, completing the session if no lane remains open",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKernel(func(k *kernel.Kernel) error {
				if err := k.FinalizeLane(args[0], args[1], resolveToken(cmd)); err != nil {
					return err
				}
				return output.PrintSuccess(map[string]string{"session_id": args[0], "lane_id": args[1], "status": "closed"})
			})
		},
	}
}
