package build

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jchantrell/magiarchive/internal/manifest"
)

// Source is a file of the legacy tree that goes into a container.
type Source struct {
	// Path is the logical path, also used as the entry name.
	Path string
	// File is where the bytes live on disk.
	File string
	Size int64
}

// LegacyFile maps a logical path to its location in the legacy tree.
func LegacyFile(legacyDir, logicalPath string) string {
	return filepath.Join(legacyDir, filepath.FromSlash(logicalPath))
}

// DiscoverSources reads the path list at manifestPath (a logical path in the
// legacy tree) and resolves every listed file. Files missing from the legacy
// tree are logged and left out.
func DiscoverSources(legacyDir, manifestPath string) ([]Source, error) {
	listFile := LegacyFile(legacyDir, manifestPath)

	slog.Debug("Reading manifest", "path", listFile)
	data, err := os.ReadFile(listFile)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", manifestPath, err)
	}

	paths, err := manifest.ParsePathList(data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", manifestPath, err)
	}

	sources := make([]Source, 0, len(paths))
	missing := 0
	for _, p := range paths {
		file := LegacyFile(legacyDir, p)
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			slog.Warn("Source file missing from legacy tree", "path", p, "manifest", manifestPath)
			missing++
			continue
		}
		sources = append(sources, Source{Path: p, File: file, Size: info.Size()})
	}

	slog.Debug("Discovered sources", "manifest", manifestPath, "count", len(sources), "missing", missing)

	return sources, nil
}
