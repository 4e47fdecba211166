package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vidbatch/internal/batch"
	"vidbatch/internal/download"
	"vidbatch/internal/logging"
	"vidbatch/internal/store"
	"vidbatch/internal/ui"
)

const runHelp = `Process a manifest, downloading each entry that is not already present.

MANIFEST defaults to the "manifest" configuration value (videos.txt).
Entries are processed one at a time. Interrupting the command stops the
current download, removes its partial files and skips the rest.
`

type runOptions struct {
	*rootOptions
	outputFormat string
	skipCheck    bool
}

func newRunCmd(root *rootOptions, out, errOut io.Writer) *cobra.Command {
	o := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run [MANIFEST]",
		Short: "download every entry of a manifest",
		Long:  runHelp,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args, out, errOut)
		},
	}

	f := cmd.Flags()
	f.String("output-dir", "", "directory for downloaded videos (default: $HOME/Videos/vidbatch)")
	f.String("binary", download.DefaultBinary, "media fetcher executable")
	f.String("format", download.DefaultFormat, "fetcher format selector")
	f.String("extra-args", "", "additional fetcher arguments, shell-quoted")
	f.Duration("min-interval", 0, "minimum time between two fetches")
	f.Duration("lock-timeout", 0, "how long to wait for another run to release the output directory")
	f.BoolVar(&o.skipCheck, "skip-check", false, "do not verify the fetcher binary before starting")
	f.StringVarP(&o.outputFormat, "output", "o", "table", "prints the summary in the specified format (table|json)")

	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, args []string, out, errOut io.Writer) error {
	if err := validateOutputFormat(o.outputFormat); err != nil {
		return err
	}
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Manifest = args[0]
	}
	if err := cfg.Resolve(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Debug("configuration", summaryFields(cfg.Summary())...)
	sink := logging.NewZapSink(logger)

	if !o.skipCheck {
		if err := download.CheckBinary(cfg.Fetcher.Binary); err != nil {
			return err
		}
	}
	extra, err := download.ParseExtraArgs(cfg.Fetcher.ExtraArgs)
	if err != nil {
		return err
	}

	fetcher := download.NewYTDLP(download.YTDLPOptions{
		Binary:      cfg.Fetcher.Binary,
		Format:      cfg.Fetcher.Format,
		MergeFormat: cfg.Fetcher.MergeFormat,
		ExtraArgs:   extra,
	}, logging.NewEmitter(sink))
	orch := download.NewOrchestrator(fetcher, download.Options{
		MinFetchInterval: cfg.Fetcher.MinInterval,
		Sink:             sink,
	})

	opts := batch.Options{
		OutputDir:   cfg.AbsOutputDir,
		Sink:        sink,
		LockTimeout: cfg.LockTimeout,
	}
	if cfg.Journal.Enabled {
		st, err := store.Open(cfg.AbsDBPath, sink)
		if err != nil {
			logger.Warn("run journal unavailable; continuing without it", zap.String("db_path", cfg.AbsDBPath), zap.Error(err))
		} else {
			defer st.Close()
			opts.Journal = st
		}
	}

	sum, runErr := batch.NewRunner(orch, opts).Run(cmd.Context(), cfg.AbsManifest)
	if errors.Is(runErr, batch.ErrManifestNotFound) {
		fmt.Fprintf(errOut, "Input file %q not found.\nPlease create it with lines in the format 'name | url'.\n", cfg.AbsManifest)
		return runErr
	}
	if sum.TotalLines == 0 && runErr != nil {
		return runErr
	}

	if o.outputFormat == "json" {
		if err := ui.EncodeJSON(out, sum); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, ui.SummaryTable(sum))
	}
	return runErr
}
