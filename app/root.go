package app

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"

	"find-replace/config"
	"find-replace/search"
)

var version = "0.3"

// env bundles what every subcommand needs once flags and config are read
type env struct {
	settings *config.Settings
	registry *search.PluginRegistry
	logger   zerolog.Logger
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		printError(root.ErrOrStderr(), err)
		return 1
	}
	return 0
}

// NewRootCommand builds the command tree with its own viper instance
func NewRootCommand() *cobra.Command {
	v := viper.New()
	config.SetViperDefaults(v)
	v.SetConfigName(config.DefaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	v.SetEnvPrefix(config.DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "find-replace",
		Short: "Search and replace across many files",
		Long: `find-replace searches directory trees with plain, regex, XPath or fuzzy patterns,
looks inside documents, mail files and zip archives, and rewrites matches in place
with atomic renames and optional backups.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Config file (default: ./find-replace.yaml or $HOME/find-replace.yaml)")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Int("workers", 0, "Worker goroutines (0 = 2 x CPUs)")
	flags.Int("heavy-concurrency", config.DefaultHeavyConcurrency, "Concurrent document extractions")
	flags.Duration("extraction-timeout", config.DefaultExtractionTimeout, "Time limit per document extraction (0 = none)")
	flags.Int64("max-file-size", config.DefaultMaxFileSize, "Skip files larger than this many bytes (0 = unlimited)")
	flags.String("plugins", "", "YAML file overriding the built-in plugin set")
	flags.String("backup-dir", "", "Directory for backups (default: next to each file)")

	bind := map[string]string{
		"engine.workers":            "workers",
		"engine.heavy_concurrency":  "heavy-concurrency",
		"engine.extraction_timeout": "extraction-timeout",
		"engine.max_file_size":      "max-file-size",
		"plugins.config_path":       "plugins",
		"replace.backup.dir":        "backup-dir",
	}
	for key, name := range bind {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	e := &env{}
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			v.SetConfigFile(path)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return errors.Errorf("reading config: %w", err)
			}
		}

		settings, err := config.Load(v)
		if err != nil {
			return err
		}
		e.settings = settings

		level, err := zerolog.ParseLevel(settings.LogLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			level = zerolog.DebugLevel
		}
		e.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
		cmd.SetContext(e.logger.WithContext(cmd.Context()))

		plugins, err := config.LoadPluginConfigurations(settings.PluginConfigPath)
		if err != nil {
			return err
		}
		e.registry = search.NewPluginRegistry(plugins)

		e.logger.Debug().
			Str("config", v.ConfigFileUsed()).
			Int("workers", settings.EffectiveWorkers()).
			Int("plugins", len(plugins)).
			Msg("configured")
		return nil
	}

	root.AddCommand(newSearchCommand(e), newReplaceCommand(e), newUndoCommand(e), newPluginsCommand(e))
	return root
}
