package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"vidbatch/internal/store"
	"vidbatch/internal/ui"
)

const historyHelp = `Show recorded runs.

Without arguments, lists the most recent runs. With a RUN_ID (or a unique
prefix of one), shows the outcome of every manifest line in that run.
`

type historyOptions struct {
	*rootOptions
	max          int
	colWidth     uint
	outputFormat string
}

func newHistoryCmd(root *rootOptions, out io.Writer) *cobra.Command {
	o := &historyOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:     "history [RUN_ID]",
		Short:   "show recorded runs",
		Long:    historyHelp,
		Aliases: []string{"hist"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args, out)
		},
	}

	f := cmd.Flags()
	f.IntVar(&o.max, "max", 20, "maximum number of runs to include")
	f.UintVar(&o.colWidth, "col-width", ui.DefaultColWidth, "specifies the max column width of output")
	f.StringVarP(&o.outputFormat, "output", "o", "table", "prints the output in the specified format (table|json)")

	return cmd
}

type runDetail struct {
	Run     store.Run     `json:"run"`
	Entries []store.Entry `json:"entries"`
}

func (o *historyOptions) run(cmd *cobra.Command, args []string, out io.Writer) error {
	if err := validateOutputFormat(o.outputFormat); err != nil {
		return err
	}
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ResolveDBPath(); err != nil {
		return err
	}
	st, err := store.Open(cfg.AbsDBPath, nil)
	if err != nil {
		return fmt.Errorf("open run journal: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		run, err := st.FindRunByPrefix(ctx, args[0])
		if err != nil {
			return err
		}
		entries, err := st.ListEntries(ctx, run.ID)
		if err != nil {
			return err
		}
		if o.outputFormat == "json" {
			return ui.EncodeJSON(out, runDetail{Run: run, Entries: entries})
		}
		fmt.Fprintf(out, "RUN %s (%s) %s\n", run.ID, run.Status, run.Manifest)
		fmt.Fprintln(out, ui.EntriesTable(entries, o.colWidth))
		return nil
	}

	runs, err := st.ListRuns(ctx, store.ListFilter{Limit: o.max})
	if err != nil {
		return err
	}
	if o.outputFormat == "json" {
		return ui.EncodeJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	fmt.Fprintln(out, ui.RunsTable(runs, o.colWidth))
	return nil
}
