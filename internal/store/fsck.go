package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jchantrell/magiarchive/internal/build"
	"github.com/jchantrell/magiarchive/internal/checksum"
)

// ErrConversionUnfinished is returned by Fsck while containers are still missing.
var ErrConversionUnfinished = errors.New("conversion is unfinished")

// Fsck removes files from the legacy tree whose content is already in the
// zipped store, then staged copies that add nothing over the store. A file
// is removed only if a checksum-verified read from the store returns exactly
// its bytes.
func (s *Store) Fsck(ctx context.Context) (FsckReport, error) {
	var report FsckReport

	if !build.ConversionFinished(s.cache) {
		return report, ErrConversionUnfinished
	}
	if s.options.LegacyDir == "" {
		return report, fmt.Errorf("no legacy directory configured")
	}

	err := filepath.WalkDir(s.options.LegacyDir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.options.LegacyDir, file)
		if err != nil {
			return err
		}
		report.Scanned++

		freed, err := s.removeIfStored(filepath.ToSlash(rel), file)
		if err != nil {
			return err
		}
		if freed < 0 {
			report.Kept++
			return nil
		}
		report.Removed++
		report.FreedBytes += freed
		slog.Debug("Removed legacy file", "path", rel)

		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walking legacy tree: %w", err)
	}

	if err := s.pruneStaged(ctx, &report); err != nil {
		return report, err
	}

	slog.Info("Fsck finished",
		"scanned", report.Scanned,
		"removed", report.Removed,
		"kept", report.Kept,
		"staged_removed", report.StagedRemoved,
		"freed_bytes", report.FreedBytes)

	return report, nil
}

// removeIfStored deletes file when the store holds the same bytes under key.
// It returns the bytes freed, or -1 if the file was kept.
func (s *Store) removeIfStored(key, file string) (int64, error) {
	loc, ok := s.Locate(key)
	if !ok {
		return -1, nil
	}

	// A checksum mismatch settles it without extracting the entry.
	crc, _, err := checksum.CRC32File(file)
	if err != nil {
		return 0, fmt.Errorf("checksumming %s: %w", file, err)
	}
	if crc != loc.CRC32 {
		slog.Warn("Loose file differs from stored copy, keeping it", "path", key)
		return -1, nil
	}

	stored, ok := s.Read(key, true)
	if !ok {
		return -1, nil
	}
	loose, err := os.ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", file, err)
	}
	if !bytes.Equal(loose, stored) {
		slog.Warn("Loose file differs from stored copy, keeping it", "path", key)
		return -1, nil
	}

	if err := os.Remove(file); err != nil {
		return 0, fmt.Errorf("removing %s: %w", file, err)
	}
	return int64(len(loose)), nil
}

// pruneStaged drops staged files identical to their stored copy. A staged
// file that shadows a legacy file is kept, since removing it would change
// what ReadFile serves.
func (s *Store) pruneStaged(ctx context.Context, report *FsckReport) error {
	if s.options.StagingDir == "" {
		return nil
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.staged))
	for key := range s.staged {
		keys = append(keys, key)
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := os.Stat(build.LegacyFile(s.options.LegacyDir, key)); err == nil {
			continue
		}

		freed, err := s.removeIfStored(key, s.stagingFile(key))
		if errors.Is(err, fs.ErrNotExist) {
			freed, err = 0, nil
		}
		if err != nil {
			return err
		}
		if freed < 0 {
			continue
		}

		if s.catalog != nil {
			if err := s.catalog.DeleteStagedFile(ctx, key); err != nil {
				return err
			}
		}
		s.mu.Lock()
		delete(s.staged, key)
		s.mu.Unlock()

		report.StagedRemoved++
		report.FreedBytes += freed
		slog.Debug("Removed staged copy", "path", key)
	}
	return nil
}
