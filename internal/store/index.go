package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jchantrell/magiarchive/internal/cache"
	"github.com/jchantrell/magiarchive/internal/indexcache"
	"github.com/jchantrell/magiarchive/internal/zipfmt"
)

// assetIndex maps logical paths to locations. It is filled once while the
// store opens and read-only afterwards.
type assetIndex struct {
	entries map[string]ZipLocation
	// paths is every key, sorted, for directory listings
	paths []string
}

func newAssetIndex() *assetIndex {
	return &assetIndex{entries: map[string]ZipLocation{}}
}

// merge registers every entry of one container. An existing entry for the
// same path is replaced.
func (idx *assetIndex) merge(container string, entries []indexcache.Entry) int {
	replaced := 0
	for _, e := range entries {
		if prev, ok := idx.entries[e.Path]; ok && prev.Container != container {
			replaced++
		}
		idx.entries[e.Path] = ZipLocation{
			Container:      container,
			Method:         uint16(e.Method),
			DataOffset:     e.DataOffset,
			CompressedSize: e.CompressedSize,
			CRC32:          e.CRC32,
		}
	}
	return replaced
}

func (idx *assetIndex) seal() {
	idx.paths = make([]string, 0, len(idx.entries))
	for p := range idx.entries {
		idx.paths = append(idx.paths, p)
	}
	sort.Strings(idx.paths)
}

func (idx *assetIndex) lookup(path string) (ZipLocation, bool) {
	loc, ok := idx.entries[path]
	return loc, ok
}

// keys returns the sorted paths currently served from container
func (idx *assetIndex) keys(container string) []string {
	var keys []string
	for _, p := range idx.paths {
		if idx.entries[p].Container == container {
			keys = append(keys, p)
		}
	}
	return keys
}

// loadContainerIndex returns the entries of one finished container, from its
// index cache when that is usable and from the central directory otherwise.
// A freshly parsed index is written back to the cache.
func loadContainerIndex(c *cache.Cache, name string) ([]indexcache.Entry, error) {
	containerPath := c.GetContainerPath(name)
	indexPath := c.GetIndexPath(name)

	snapshot, err := indexcache.Read(indexPath, containerPath)
	if err == nil {
		slog.Debug("Index loaded from cache", "container", name, "entries", len(snapshot.Entries))
		return snapshot.Entries, nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("No index cache", "container", name)
	case errors.Is(err, indexcache.ErrCacheStale):
		slog.Info("Index cache is stale, rebuilding", "container", name)
	default:
		slog.Warn("Index cache unusable, rebuilding", "container", name, "error", err)
	}

	entries, err := parseContainerIndex(containerPath)
	if err != nil {
		return nil, err
	}

	snapshot = &indexcache.Snapshot{Container: filepath.Base(containerPath), Entries: entries}
	if err := indexcache.Write(indexPath, snapshot); err != nil {
		slog.Warn("Failed to write index cache", "container", name, "error", err)
	}

	slog.Debug("Index parsed from central directory", "container", name, "entries", len(entries))

	return entries, nil
}

// parseContainerIndex walks the central directory of a container and reads
// each local header to find where the entry's data starts.
func parseContainerIndex(containerPath string) ([]indexcache.Entry, error) {
	f, err := os.Open(containerPath)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat container: %w", err)
	}

	records, err := zipfmt.ReadCentralDirectory(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("reading central directory of %s: %w", containerPath, err)
	}

	entries := make([]indexcache.Entry, 0, len(records))
	for _, rec := range records {
		if rec.IsDir() {
			continue
		}
		method := rec.Method()
		if method != zipfmt.MethodStored && method != zipfmt.MethodDeflate {
			slog.Warn("Skipping entry with unsupported compression method", "path", rec.Name, "method", method)
			continue
		}

		lfh, err := zipfmt.ReadLocalFileHeader(f, int64(rec.LocalHeaderOffset))
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", rec.Name, err)
		}
		dataOffset := int64(rec.LocalHeaderOffset) + lfh.Len()
		if dataOffset+int64(rec.CompressedSize()) > info.Size() {
			return nil, fmt.Errorf("entry %s: data runs past end of container: %w", rec.Name, zipfmt.ErrFormat)
		}

		entries = append(entries, indexcache.Entry{
			Path:           rec.Name,
			Method:         uint8(method),
			DataOffset:     uint32(dataOffset),
			CompressedSize: rec.CompressedSize(),
			CRC32:          rec.CRC32(),
		})
	}

	return entries, nil
}
