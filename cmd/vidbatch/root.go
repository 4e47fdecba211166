package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vidbatch/internal/config"
	"vidbatch/internal/logging"
)

const rootHelp = `vidbatch downloads every video listed in a manifest file.

Each manifest line has the form "name | url". Blank lines and lines starting
with '#' are ignored. Videos are stored as "<sanitized name>.mp4" in the
output directory; entries whose file already exists are skipped.

Configuration is read from --config (YAML), then VIDBATCH_* environment
variables, then flags, with later sources taking precedence.
`

type rootOptions struct {
	configPath string
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	o := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "vidbatch",
		Short:         "batch video downloader",
		Long:          rootHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "path to a YAML config file")
	f.String("log-level", "info", "log level (debug|info|warn|error)")
	f.String("log-format", "text", "log format (text|json)")
	f.String("db", "", "path to the run journal (default: OS cache dir: vidbatch/vidbatch.db)")
	f.Bool("journal", true, "record runs in the journal")

	cmd.AddCommand(
		newRunCmd(o, out, errOut),
		newHistoryCmd(o, out),
	)
	return cmd
}

// loadConfig reads configuration for cmd, letting its flags override file
// and environment values.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	l, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return l, nil
}

func summaryFields(m map[string]any) []zap.Field {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, m[k]))
	}
	return fields
}

func validateOutputFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("invalid output format %q (must be table|json)", format)
	}
}
