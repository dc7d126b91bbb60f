package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"expensifyos/internal/app"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// errFailed marks a run that already reported its own failure.
var errFailed = errors.New("one or more sources failed")

type options struct {
	configPath string
	verbose    bool
	log        *slog.Logger

	// loadOpts and wireOpts are overridden in tests.
	loadOpts app.LoadOptions
	wireOpts app.WireOptions
}

func Execute(ctx context.Context) error {
	return NewRootCmd(os.Stdin).ExecuteContext(ctx)
}

// NewRootCmd builds the command tree. stdin answers interactive prompts.
func NewRootCmd(stdin io.Reader) *cobra.Command {
	return newRootCmd(&options{wireOpts: app.WireOptions{Stdin: stdin}})
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:          "expensify-os",
		Short:        "Automated expense management",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if o.verbose {
				level = slog.LevelDebug
			}
			o.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			o.wireOpts.Logger = o.log
			if o.wireOpts.Stderr == nil {
				o.wireOpts.Stderr = cmd.ErrOrStderr()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(runCmd(o), validateCmd(o), pluginsCmd(o))
	return root
}

// load reads the config; offline leaves op:// references unresolved.
func (o *options) load(ctx context.Context, offline bool) (*app.Config, error) {
	opts := o.loadOpts
	opts.Offline = opts.Offline || offline
	return app.Load(ctx, o.configPath, opts)
}

func (o *options) wire(ctx context.Context) (*app.Wire, error) {
	cfg, err := o.load(ctx, false)
	if err != nil {
		return nil, err
	}
	o.log.Debug("config loaded", "path", cfg.Path)
	return app.NewWire(cfg, o.wireOpts)
}
