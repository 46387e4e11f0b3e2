package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
)

func toolsCmd(g *globalFlags) *cobra.Command {
	var readOnly bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := prepareRuntimeEnv(cmd.Context(), g, true)
			if err != nil {
				return err
			}
			defer env.Close()

			reg := env.Registry
			if readOnly {
				reg = reg.ReadOnly()
			}
			return printCatalog(cmd.OutOrStdout(), reg)
		},
	}
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Show only the tools available to query")
	return cmd
}

func printCatalog(w io.Writer, reg *engine.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tREAD-ONLY\tDESCRIPTION")
	for _, name := range reg.Names() {
		t, _ := reg.Get(name)
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", t.Name, t.Metadata.Category, t.Metadata.ReadOnly, firstLine(t.Description))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || (r == '.' && i < len(s)-1 && s[i+1] == ' ') {
			return s[:i]
		}
	}
	return s
}
