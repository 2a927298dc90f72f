package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/rewind/pkg/rewind"
	"github.com/randalmurphal/rewind/pkg/rewind/config"
	"github.com/randalmurphal/rewind/pkg/rewind/observability"
)

// cli carries the state shared by every subcommand of one invocation.
type cli struct {
	v *viper.Viper

	workspace string
	cfgFile   string
	verbose   bool
	jsonOut   bool
	telemetry string

	styles styles
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "rewind",
		Short: "Point-in-time checkpoints for a workspace",
		Long: `rewind snapshots every tracked file of a workspace so it can be
compared against and restored later:
  - content-addressed file blobs with a manifest per checkpoint
  - a metadata index shared by every worktree of the repository
  - retention by age, count and preserve tags
  - automatic checkpoints while files change

Settings are read from <workspace>/.rewind.yaml and REWIND_* environment
variables (REWIND_STORE_BACKEND=sqlite sets store.backend).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.workspace, "workspace", "C", ".", "workspace directory")
	pf.StringVar(&c.cfgFile, "config", "", "config file (default <workspace>/.rewind.yaml)")
	pf.String("backend", "", "store backend: fs, memory, sqlite, badger")
	pf.String("index", "", "metadata index path (required outside a git repository)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "log operation detail to stderr")
	pf.BoolVar(&c.jsonOut, "json", false, "print JSON instead of text")
	pf.StringVar(&c.telemetry, "telemetry", "none", "export traces and metrics: none, stdout")
	_ = c.v.BindPFlag("store.backend", pf.Lookup("backend"))
	_ = c.v.BindPFlag("index.path", pf.Lookup("index"))

	root.AddCommand(
		newCreateCmd(c),
		newListCmd(c),
		newShowCmd(c),
		newDiffCmd(c),
		newRestoreCmd(c),
		newDeleteCmd(c),
		newRenameCmd(c),
		newDescribeCmd(c),
		newTagCmd(c),
		newUntagCmd(c),
		newExportCmd(c),
		newImportCmd(c),
		newPruneCmd(c),
		newMigrateCmd(c),
		newCleanupCmd(c),
		newRebuildCmd(c),
		newStatsCmd(c),
		newWatchCmd(c),
	)
	return root
}

// initConfig layers defaults, the config file and REWIND_* variables.
// Flags bound in newRootCmd take precedence over all of them.
func (c *cli) initConfig(cmd *cobra.Command) error {
	setDefaults(c.v)
	c.v.SetEnvPrefix("REWIND")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	path := c.cfgFile
	if path == "" {
		candidate := filepath.Join(c.workspace, config.FileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		c.v.SetConfigFile(path)
		c.v.SetConfigType("yaml")
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	switch c.telemetry {
	case "none", "stdout":
	default:
		return fmt.Errorf("%w: unknown telemetry exporter %q", rewind.ErrInvalidArgument, c.telemetry)
	}

	c.styles = newStyles(cmd.OutOrStdout())
	return nil
}

func (c *cli) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// withEngine opens the workspace engine, runs fn and closes everything,
// joining close errors into fn's.
func (c *cli) withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *rewind.Engine) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts := []rewind.Option{
		rewind.WithSettings(c.settings()),
		rewind.WithLogger(c.logger(cmd)),
	}
	if c.telemetry == "stdout" {
		shutdown, err := setupTelemetry(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, shutdown(context.Background()))
		}()
		opts = append(opts,
			rewind.WithMetrics(observability.NewMetricsRecorder()),
			rewind.WithTracing(observability.NewSpanManager()),
		)
	}

	eng, err := rewind.Open(ctx, c.workspace, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, eng.Close())
	}()
	return fn(ctx, eng)
}

func (c *cli) out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
