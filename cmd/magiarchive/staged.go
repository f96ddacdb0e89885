package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jchantrell/magiarchive/internal/database"
	"github.com/jchantrell/magiarchive/internal/utils"
	"github.com/spf13/cobra"
)

var stagedCmd = &cobra.Command{
	Use:   "staged [prefix]",
	Short: "List files saved to the staging area",
	Long: `Staged lists the staging catalog: every file saved outside the joined
containers, with its content type, size and checksums. An optional prefix
narrows the listing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		prefix := ""
		if len(args) > 0 {
			prefix = strings.TrimLeft(args[0], "/")
		}

		slog.Debug("Listing staged files", "catalog", cfg.Catalog, "prefix", prefix)

		db, err := database.NewDatabase(database.DefaultDatabaseOptions(cfg.Catalog))
		if err != nil {
			return fmt.Errorf("opening catalog: %w", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}

		files, err := db.ListStagedFiles(ctx, prefix)
		if err != nil {
			return fmt.Errorf("listing staged files: %w", err)
		}

		fmt.Printf("%-60s %-24s %12s %-8s %-32s %s\n", "Path", "Type", "Size", "CRC32", "MD5", "Saved")
		fmt.Println(strings.Repeat("-", 160))

		var total int64
		for _, f := range files {
			fmt.Printf("%-60s %-24s %12s %08x %-32s %s\n",
				f.Path, f.ContentType, utils.Number(f.Size), f.CRC32, f.MD5, f.SavedAt.Format(time.RFC3339))
			total += f.Size
		}

		fmt.Printf("\n%s files, %s bytes\n", utils.Number(int64(len(files))), utils.Number(total))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(stagedCmd)
}
