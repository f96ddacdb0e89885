package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/jchantrell/magiarchive/internal/build"
	"github.com/jchantrell/magiarchive/internal/cache"
	"github.com/jchantrell/magiarchive/internal/utils"
	"github.com/spf13/cobra"
)

var rebuild bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Convert the legacy tree into joined containers",
	Long: `Build joins every configured category of sub-archives into its own
container and the web resources into one more. Finished containers are
skipped; containers left unfinished by an interrupted run are rebuilt from
scratch. Use --rebuild to discard and rebuild every container.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		c := cache.CacheManager(cfg.StoreDir)

		categories := make([]build.Category, 0, len(cfg.Categories))
		for _, category := range cfg.Categories {
			categories = append(categories, build.Category{Name: category.Name, Manifest: category.Manifest})
		}
		options := build.Options{
			LegacyDir:    cfg.LegacyDir,
			Categories:   categories,
			WebContainer: cfg.WebContainer,
			WebManifest:  cfg.WebManifest,
			Workers:      cfg.BuildWorkers,
		}
		names := options.Containers()

		if rebuild {
			for _, name := range names {
				if err := os.Remove(c.GetContainerPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("removing container %s: %w", name, err)
				}
			}
		}

		builder := build.NewBuilder(c, options)

		progress := utils.NewProgress(len(names), progressEnabled())
		builder.SetProgress(func(current, total int, description string) {
			progress.Update(current, description)
		})

		slog.Info("Starting build", "containers", len(names), "workers", cfg.BuildWorkers)

		report, runErr := builder.Run(cmd.Context())
		progress.Finish()
		if report == nil {
			return runErr
		}

		var bytes int64
		for _, name := range report.Built {
			bytes += c.GetFileSize(c.GetContainerPath(name))
		}

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		sort.Strings(report.Built)
		fmt.Printf("Containers built: %d %v\n", len(report.Built), report.Built)
		fmt.Printf("Containers skipped: %d\n", len(report.Skipped))
		fmt.Printf("Containers failed: %d\n", len(report.Failed))
		fmt.Printf("Bytes written: %s\n", utils.Bytes(bytes))
		fmt.Printf("Total duration: %s\n", utils.Duration(time.Since(start)))
		if secs := time.Since(start).Seconds(); secs > 0 {
			fmt.Printf("Write rate: %s bytes/sec\n", utils.Rate(float64(bytes)/secs))
		}
		fmt.Printf("Memory usage: %.2fmb\n", float64(memStats.Alloc)/1024.0/1024.0)
		if runErr == nil {
			fmt.Println("Try running: magiarchive check <category>")
		}

		return runErr
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().BoolVar(&rebuild, "rebuild", false, "Discard existing containers and rebuild them")
}
