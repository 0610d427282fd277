// Package commands implements the blobtree command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/adapters"
	"github.com/brettbedarf/blobtree/config"
	"github.com/brettbedarf/blobtree/filesystem"
	"github.com/brettbedarf/blobtree/internal/metrics"
	"github.com/brettbedarf/blobtree/internal/util"
)

// app carries the global flags and everything built from them for the
// duration of one command.
type app struct {
	cfgFile     string
	verbose     int
	metricsAddr string

	cfg      *config.Config
	store    blobtree.BlobStore
	fs       *filesystem.FileSystem
	registry *prometheus.Registry
	logger   util.Logger
}

// Run executes the command line in args. The store opened for the command
// is closed before Run returns, whether or not the command failed.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blobtree",
		Short: "Folders and files on top of a flat blob store",
		Long: `blobtree presents the keys of a flat blob store as a tree of folders and
files. Folder deletes and moves fan out over every key below the folder and
report each key's outcome.

The store is selected in the config file:

  store:
    type: s3
    bucket: my-bucket
    region: eu-west-1

Use "blobtree [command] --help" for more information about a command.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup(cmd) },
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (.yaml, .yml or .json)")
	flags.IntVarP(&a.verbose, "verbose", "v", config.InfoVerbose, "log verbosity between 1 (error) and 5 (trace)")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while mounted")

	cmd.AddCommand(
		newLsCmd(a),
		newStatCmd(a),
		newTreeCmd(a),
		newMkdirCmd(a),
		newPutCmd(a),
		newCatCmd(a),
		newRmCmd(a),
		newMvCmd(a),
		newRenameCmd(a),
		newApplyCmd(a),
		newMountCmd(a),
	)
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

// setup loads the config, applies flag overrides and opens the store.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.NewDefaultConfig()
	if a.cfgFile != "" {
		var err error
		if cfg, err = config.NewConfigFromFile(a.cfgFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	if cmd.Flags().Changed("verbose") {
		cfg.LogLvl = util.LevelFromVerbosity(a.verbose)
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = a.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	util.InitializeLoggerTo(cmd.ErrOrStderr(), cfg.LogLvl)
	a.logger = util.GetLogger("cli")
	a.cfg = cfg

	raw, err := cfg.Store.Raw()
	if err != nil {
		return err
	}
	adapters.RegisterBuiltins()
	store, err := adapters.Open(raw)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	a.store = store
	a.registry = prometheus.NewRegistry()
	a.fs = filesystem.NewFS(store, cfg, filesystem.WithMetrics(metrics.New(a.registry)))

	a.logger.Debug().Str("config", a.cfgFile).Str("store", cfg.Store.Type).Msg("Store opened")
	return nil
}

func (a *app) close() error {
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// pathArg parses args[i], defaulting to the root when absent.
func pathArg(args []string, i int) (blobtree.Path, error) {
	if i >= len(args) {
		return blobtree.Root, nil
	}
	return blobtree.ParsePath(args[i])
}
