package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/output"
)

func newProposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "propose <content>",
		Short:         "Propose a memory write, staged for review or applied directly",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			categoriesRaw, _ := cmd.Flags().GetString("categories")
			metadataRaw, _ := cmd.Flags().GetStringSlice("meta")
			scope, _ := cmd.Flags().GetString("scope")
			namespace, _ := cmd.Flags().GetString("namespace")
			mode, _ := cmd.Flags().GetString("mode")
			sourceType, _ := cmd.Flags().GetString("source-type")
			sourceApp, _ := cmd.Flags().GetString("source-app")
			sourceEventID, _ := cmd.Flags().GetString("source-event-id")

			return withKernel(func(k *kernel.Kernel) error {
				res, err := k.ProposeWrite(context.Background(), kernel.ProposeWriteInput{
					Content:       args[0],
					User:          user,
					Agent:         resolveAgent(cmd),
					Token:         resolveToken(cmd),
					Categories:    splitCSV(categoriesRaw),
					Metadata:      parseKV(metadataRaw),
					Scope:         models.ConfidentialityScope(scope),
					Namespace:     namespace,
					Mode:          mode,
					SourceType:    sourceType,
					SourceApp:     sourceApp,
					SourceEventID: sourceEventID,
				})
				if err != nil {
					return err
				}
				return output.PrintSuccess(res)
			})
		},
	}
	cmd.Flags().String("categories", "", "comma-separated categories")
	cmd.Flags().StringSlice("meta", nil, "metadata key=value pairs, repeatable")
	cmd.Flags().String("scope", "", "confidentiality scope (work, personal, finance, health, private)")
	cmd.Flags().String("namespace", "", "target namespace")
	cmd.Flags().String("mode", "", "staging or direct; default resolves from agent policy")
	cmd.Flags().String("source-type", "", "provenance source type")
	cmd.Flags().String("source-app", "", "provenance source app")
	cmd.Flags().String("source-event-id", "", "provenance source event id, for idempotency")
	return cmd
}

func parseKV(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
