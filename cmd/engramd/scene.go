package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/output"
)

func newSceneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scene",
		Short: "Episodic scene search and lookup",
	}
	cmd.AddCommand(newSceneSearchCmd())
	cmd.AddCommand(newSceneGetCmd())
	return cmd
}

func newSceneSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "search <query>",
		Short:         "Search episodic scenes by topic, place, and entities",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			place, _ := cmd.Flags().GetString("place")
			entitiesRaw, _ := cmd.Flags().GetString("entities")
			namespace, _ := cmd.Flags().GetString("namespace")
			limit, _ := cmd.Flags().GetInt("limit")

			return withKernel(func(k *kernel.Kernel) error {
				matches, err := k.SearchScenes(context.Background(), kernel.SearchScenesInput{
					Query: args[0], User: user, Token: resolveToken(cmd),
					Place: place, Entities: splitCSV(entitiesRaw), Namespace: namespace, Limit: limit,
				})
				if err != nil {
					return err
				}
				type sceneResult struct {
					Scene interface{} `json:"scene"`
					Score float64     `json:"score"`
				}
				type resp struct {
					Count  int           `json:"count"`
					Scenes []sceneResult `json:"scenes"`
				}
				out := make([]sceneResult, 0, len(matches))
				for _, m := range matches {
					out = append(out, sceneResult{Scene: m.Scene, Score: m.Score})
				}
				return output.PrintSuccess(resp{Count: len(out), Scenes: out})
			})
		},
	}
	cmd.Flags().String("place", "", "filter/boost by place")
	cmd.Flags().String("entities", "", "comma-separated required entity names")
	cmd.Flags().String("namespace", "", "namespace to search within")
	cmd.Flags().Int("limit", 10, "maximum scenes to return")
	return cmd
}

func newSceneGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "get <scene-id>",
		Short:         "Fetch a scene by id",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKernel(func(k *kernel.Kernel) error {
				scene, err := k.GetScene(args[0], resolveToken(cmd))
				if err != nil {
					return err
				}
				return output.PrintSuccess(scene)
			})
		},
	}
}
