package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
)

func checkpointCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or discard saved task progress",
	}

	store := func() (*checkpoint.Store, error) {
		cfg, _, err := loadConfig(g)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewStore(cfg.Agent.DataDir), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored checkpoints, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := store()
			if err != nil {
				return err
			}
			metas, err := s.List()
			if err != nil {
				return err
			}
			return printCheckpoints(cmd.OutOrStdout(), metas)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <task-id>",
		Short: "Print a task's checkpoint as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store()
			if err != nil {
				return err
			}
			cp, err := s.Load(args[0])
			if err != nil {
				return err
			}
			if cp == nil {
				return fmt.Errorf("no checkpoint for task %s", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "discard <task-id>",
		Short: "Delete a task's checkpoint so the next run starts fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store()
			if err != nil {
				return err
			}
			if !s.Exists(args[0]) {
				fmt.Fprintf(cmd.OutOrStdout(), "no checkpoint for task %s\n", args[0])
				return nil
			}
			if err := s.Discard(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discarded checkpoint for task %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func printCheckpoints(w io.Writer, metas []checkpoint.Meta) error {
	if len(metas) == 0 {
		_, err := fmt.Fprintln(w, "No checkpoints.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tREASON\tSAVED\tSUMMARY")
	for _, m := range metas {
		summary := strings.ReplaceAll(m.Summary, "\n", " ")
		if len(summary) > 60 {
			summary = summary[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.TaskID, m.Reason, m.Timestamp.Local().Format(time.DateTime), summary)
	}
	return tw.Flush()
}
