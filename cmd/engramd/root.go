package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/app"
	"github.com/engram-kernel/engram/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "engramd",
		Short:         "Personal memory kernel for AI agents (search, propose, approve, handoff)",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.EnsureConfigDir(); err != nil {
				return err
			}
			if dbPath, err := cmd.Flags().GetString("db-path"); err == nil && dbPath != "" {
				app.SetDBPathOverride(dbPath)
			}
			return nil
		},
	}

	root.PersistentFlags().String("db-path", "", "Override database path")
	root.PersistentFlags().StringP("user", "u", "", "Owning user (default: $ENGRAM_USER)")
	root.PersistentFlags().StringP("agent", "a", "", "Calling agent name (default: $ENGRAM_AGENT)")
	root.PersistentFlags().String("token", "", "Session bearer token (default: $ENGRAM_TOKEN)")
	root.Flags().BoolP("version", "v", false, "version for engramd")

	root.AddCommand(newSearchCmd())
	root.AddCommand(newSceneCmd())
	root.AddCommand(newProposeCmd())
	root.AddCommand(newCommitCmd())
	root.AddCommand(newConflictCmd())
	root.AddCommand(newDigestCmd())
	root.AddCommand(newSleepCmd())
	root.AddCommand(newTrustCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newHandoffCmd())

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Default().Error("command failed", "error", err.Error())
		}
	}
	return err
}
