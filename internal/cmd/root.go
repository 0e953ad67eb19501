package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ilpatch/internal/config"
	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/metadata"
	"ilpatch/internal/refset"
)

// Global flag variables
var (
	VerboseFlag    bool
	NoColorFlag    bool
	ReferenceFlags []string
	RuntimeFlag    string
)

var (
	settings = config.DefaultConfig()
	logger   = zap.NewNop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ilpatch",
	Short: "Inspect and patch managed (.NET) assemblies",
	Long: `ilpatch loads a managed assembly, prints its types, methods and IL, and
applies structural edits described by a patch plan.

Examples:
  ilpatch dump App.dll                          List types, methods and IL
  ilpatch apply App.dll --plan rename.json      Write Modified_App.dll
  ilpatch apply App.dll --plan p.json --watch   Re-apply on every change
  ilpatch bindings App.dll --out ./bindings     Generate Go structs
  ilpatch refs fetch --out ./refs               Download reference assemblies`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if NoColorFlag {
			cfg.Color = false
		}
		if RuntimeFlag != "" {
			cfg.RuntimeAssembly = RuntimeFlag
		}
		cfg.References = append(cfg.References, ReferenceFlags...)
		settings = cfg

		logger, err = newLogger(cfg.LogLevel, VerboseFlag)
		return err
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line until it finishes or the process is
// interrupted. This is called by main.main().
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logger.Sync() }()
	return rootCmd.ExecuteContext(ctx)
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, ilerrors.WrapInvalidArgument("invalid log level %q", level)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// loadModule loads the assembly at path with the configured reference
// assemblies as its external namespace.
func loadModule(ctx context.Context, path string) (*metadata.Module, error) {
	refs, err := refset.LoadFiles(ctx, settings.References)
	if err != nil {
		return nil, err
	}
	logger.Debug("reference types loaded",
		zap.Int("assemblies", len(settings.References)),
		zap.Int("types", refs.Len()))

	opts := []metadata.Option{metadata.WithExternal(refs)}
	if settings.RuntimeAssembly != "" {
		opts = append(opts, metadata.WithCoreAssembly(settings.RuntimeAssembly))
	}
	m, err := metadata.Load(path, opts...)
	if err != nil {
		return nil, err
	}
	logger.Debug("module loaded",
		zap.String("path", path),
		zap.Int("types", len(m.Types())),
		zap.Int("assemblyRefs", len(m.AssemblyRefs())))
	return m, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(
		&VerboseFlag,
		"verbose",
		"v",
		false,
		"Log progress to stderr",
	)

	rootCmd.PersistentFlags().BoolVar(
		&NoColorFlag,
		"no-color",
		false,
		"Disable colored output",
	)

	rootCmd.PersistentFlags().StringArrayVar(
		&ReferenceFlags,
		"ref",
		nil,
		"Reference assembly consulted for external types (repeatable)",
	)

	rootCmd.PersistentFlags().StringVar(
		&RuntimeFlag,
		"runtime",
		"",
		"Assembly that receives imported core types (default: detected)",
	)
}
