package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jchantrell/magiarchive/internal/build"
	"github.com/jchantrell/magiarchive/internal/cache"
	"github.com/jchantrell/magiarchive/internal/store"
	"github.com/jchantrell/magiarchive/internal/utils"
	"github.com/jchantrell/magiarchive/internal/zipfmt"
	"github.com/spf13/cobra"
)

var (
	verify      bool
	outputFile  string
	contentType string
)

// openStore opens the store, building missing containers with a progress bar
func openStore(ctx context.Context) (*store.Store, error) {
	options := storeOptions()

	var progress *utils.Progress
	if !build.ConversionFinished(cache.CacheManager(options.StoreDir)) {
		progress = utils.NewProgress(len(options.Containers()), progressEnabled())
		options.BuildProgress = func(current, total int, description string) {
			progress.Update(current, description)
		}
	}

	s, err := store.Open(ctx, options)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Write the content of a logical path to stdout or a file",
	Long: `Get resolves a logical path the way the serving layer does: staging area
first, then the legacy tree, then the joined containers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		data, ok := s.ReadFile(args[0], verify)
		if !ok {
			return fmt.Errorf("%s: %w", args[0], fs.ErrNotExist)
		}

		if outputFile == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(outputFile, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", outputFile, err)
		}
		slog.Info("Wrote file", "path", args[0], "output", outputFile, "bytes", len(data), "content_type", s.ContentType(args[0]))
		return nil
	},
}

var locateCmd = &cobra.Command{
	Use:   "locate <url-path>...",
	Short: "Show where request paths are stored in the joined containers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		for _, arg := range args {
			key, ok := s.PathInZip(arg)
			if !ok {
				fmt.Printf("%s: not in store\n", arg)
				continue
			}
			loc, ok := s.Locate(key)
			if !ok {
				fmt.Printf("%s: staged, not yet in a container\n", key)
				continue
			}
			method := "stored"
			if loc.Method == zipfmt.MethodDeflate {
				method = "deflate"
			}
			fmt.Printf("%s: %s.zip offset=%d size=%d method=%s crc32=%08x\n",
				key, loc.Container, loc.DataOffset, loc.CompressedSize, method, loc.CRC32)
		}
		return nil
	},
}

var saveCmd = &cobra.Command{
	Use:   "save <path> <file>",
	Short: "Save a local file into the staging area under a logical path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.SaveFile(cmd.Context(), args[0], data, contentType, nil); err != nil {
			return err
		}
		f, _ := s.Staged(args[0])
		fmt.Printf("Saved %s (%s, %s bytes, crc32 %08x)\n", f.Path, f.ContentType, utils.Number(f.Size), f.CRC32)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [category]...",
	Short: "Verify stored content against manifests and checksums",
	Long: `Check audits each named category, or every category when none is given.
Entries declared in asset lists are verified by md5, web resources and every
other entry by CRC-32.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		categories := args
		if len(categories) == 0 {
			categories = s.Checker().Categories()
		}

		failed := 0
		for _, category := range categories {
			status, err := s.Checker().Check(cmd.Context(), category)
			if err != nil {
				return err
			}
			result := "PASS"
			if !status.OK() {
				result = "FAIL"
				failed++
			}
			fmt.Printf("%-16s %s passed=%s missing=%d md5_mismatch=%d crc32_mismatch=%d (%s)\n",
				category, result, utils.Number(int64(status.Passed)), status.Missing,
				status.MD5Mismatch, status.CRC32Mismatch, utils.Duration(status.Duration))
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d categories failed the integrity check", failed, len(categories))
		}
		return nil
	},
}

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Delete legacy and staged files whose content is already stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		report, err := s.Fsck(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Files scanned: %s\n", utils.Number(int64(report.Scanned)))
		fmt.Printf("Files removed: %s\n", utils.Number(int64(report.Removed)))
		fmt.Printf("Files kept: %s\n", utils.Number(int64(report.Kept)))
		fmt.Printf("Staged copies removed: %s\n", utils.Number(int64(report.StagedRemoved)))
		fmt.Printf("Bytes freed: %s\n", utils.Bytes(report.FreedBytes))
		fmt.Printf("Total duration: %s\n", utils.Duration(time.Since(start)))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list [dir]",
	Short: "List stored paths under a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		root := "."
		if len(args) > 0 {
			root = args[0]
		}

		count := 0
		err = fs.WalkDir(s.FS(), root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			loc, _ := s.Locate(p)
			fmt.Printf("%-12s %10s  %s\n", loc.Container, utils.Number(int64(loc.CompressedSize)), p)
			count++
			return nil
		})
		if err != nil {
			return err
		}

		fmt.Printf("\n%s entries\n", utils.Number(int64(count)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd, locateCmd, saveCmd, checkCmd, fsckCmd, listCmd)
	getCmd.Flags().BoolVar(&verify, "verify", true, "Verify checksums before returning content")
	getCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write to file instead of stdout")
	saveCmd.Flags().StringVar(&contentType, "content-type", "", "Content type (default derived from the extension)")
}
