package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func queryCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question about processed meets with read-only tools",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := prepareRuntimeEnv(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer env.Close()

			answer, err := env.Session.Query.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
}
