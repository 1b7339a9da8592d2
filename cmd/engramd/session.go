package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/engram-kernel/engram/internal/kernel"
	"github.com/engram-kernel/engram/internal/output"
	"github.com/engram-kernel/engram/internal/policy"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create and authenticate capability-scoped sessions",
	}
	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionAuthCmd())
	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Issue a session token clamped to the agent's policy",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(cmd)
			if err != nil {
				return cmdErr(err)
			}
			scopesRaw, _ := cmd.Flags().GetString("scopes")
			capsRaw, _ := cmd.Flags().GetString("capabilities")
			nsRaw, _ := cmd.Flags().GetString("namespaces")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			return withKernel(func(k *kernel.Kernel) error {
				res, err := k.CreateSession(policy.CreateSessionRequest{
					User:         user,
					Agent:        resolveAgent(cmd),
					Scopes:       splitCSV(scopesRaw),
					Capabilities: splitCSV(capsRaw),
					Namespaces:   splitCSV(nsRaw),
					TTL:          ttl,
				})
				if err != nil {
					return err
				}
				type resp struct {
					Token   string      `json:"token"`
					Session interface{} `json:"session"`
				}
				return output.PrintSuccess(resp{Token: res.Token, Session: res.Session})
			})
		},
	}
	cmd.Flags().String("scopes", "*", "comma-separated confidentiality scopes, or *")
	cmd.Flags().String("capabilities", "*", "comma-separated capabilities, or *")
	cmd.Flags().String("namespaces", "*", "comma-separated namespaces, or *")
	cmd.Flags().Duration("ttl", 12*time.Hour, "session lifetime")
	return cmd
}

func newSessionAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authenticate <token>",
		Short:         "Validate a bearer token, optionally against a capability",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			capability, _ := cmd.Flags().GetString("capability")
			return withKernel(func(k *kernel.Kernel) error {
				sess, err := k.AuthenticateSession(args[0], capability)
				if err != nil {
					return err
				}
				return output.PrintSuccess(sess)
			})
		},
	}
	cmd.Flags().String("capability", "", "capability the token must carry")
	return cmd
}
