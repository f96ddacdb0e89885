package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jchantrell/magiarchive/internal/config"
	"github.com/jchantrell/magiarchive/internal/store"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	cfg     *config.Config
	cfgFile string

	storeDir   string
	legacyDir  string
	stagingDir string
	catalog    string
	workers    int
	logLevel   string
	logFormat  string
	noProgress bool
)

var rootCmd = &cobra.Command{
	Use:   "magiarchive",
	Short: "Zipped asset store for a mobile game relay",
	Long: `magiarchive converts a tree of loose game assets and small zip archives
into a handful of large joined zip containers, and serves, verifies and cleans
up the content stored in them.

Containers are built once and indexed; restarts reuse a compact index cache
per container. An interrupted build resumes by rebuilding only the containers
that were not finished.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if cmd.Flags().Changed("store") {
			cfg.StoreDir = storeDir
		}
		if cmd.Flags().Changed("legacy") {
			cfg.LegacyDir = legacyDir
		}
		if cmd.Flags().Changed("staging") {
			cfg.StagingDir = stagingDir
		}
		if cmd.Flags().Changed("catalog") {
			cfg.Catalog = catalog
		}
		if cmd.Flags().Changed("workers") {
			cfg.BuildWorkers = max(workers, 1)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = logFormat
		}

		var level slog.Level
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var handler slog.Handler
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})
		} else {
			handler = tint.NewHandler(os.Stderr, &tint.Options{
				Level: level,
			})
		}

		logger := slog.New(handler)
		slog.SetDefault(logger)

		slog.Debug("Configuration",
			"store_dir", cfg.StoreDir,
			"legacy_dir", cfg.LegacyDir,
			"staging_dir", cfg.StagingDir,
			"catalog", cfg.Catalog,
			"categories", len(cfg.Categories),
			"web_container", cfg.WebContainer,
			"build_workers", cfg.BuildWorkers,
			"log_level", cfg.LogLevel,
			"log_format", cfg.LogFormat)

		return nil
	},
}

// progressEnabled reports whether a progress bar would not fight the logs
func progressEnabled() bool {
	return !(noProgress || cfg.LogFormat == "json" || cfg.LogLevel == "debug")
}

// storeOptions translates the configuration into store options
func storeOptions() store.Options {
	categories := make([]store.Category, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		categories = append(categories, store.Category{Name: c.Name, Manifest: c.Manifest, AssetLists: c.AssetLists})
	}
	return store.Options{
		StoreDir:     cfg.StoreDir,
		LegacyDir:    cfg.LegacyDir,
		StagingDir:   cfg.StagingDir,
		CatalogPath:  cfg.Catalog,
		AssetPrefix:  cfg.AssetPrefix,
		Categories:   categories,
		WebContainer: cfg.WebContainer,
		WebManifest:  cfg.WebManifest,
		Known404:     cfg.Known404,
		ContentTypes: cfg.ContentTypes,
		BuildWorkers: cfg.BuildWorkers,
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is magiarchive.yaml in home or pwd)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store", "", "directory holding the joined containers")
	rootCmd.PersistentFlags().StringVar(&legacyDir, "legacy", "", "legacy loose-file tree")
	rootCmd.PersistentFlags().StringVar(&stagingDir, "staging", "", "staging directory for saved files")
	rootCmd.PersistentFlags().StringVar(&catalog, "catalog", "", "staging catalog database path")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "containers built in parallel")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable progress bar")
}
