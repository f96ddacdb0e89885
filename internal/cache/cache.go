// Package cache knows the on-disk layout of the zipped asset store: where
// containers, their index caches and their build markers live.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	containerExt     = ".zip"
	indexExt         = ".map.bin.gz"
	markerExt        = ".unfinished"
	conversionMarker = "conversion_is_unfinished"
	temporaryInfix   = ".tmp"
)

// Cache handles store directory operations
type Cache struct {
	root string
}

// CacheManager creates a new cache manager rooted at the store directory
func CacheManager(root string) *Cache {
	return &Cache{root: root}
}

// GetCacheDir returns the store directory
func (m *Cache) GetCacheDir() string {
	return m.root
}

// ContainerFile returns the file name of a container, e.g. "asset_main.zip"
func ContainerFile(name string) string {
	return name + containerExt
}

// GetContainerPath returns the path of a joined container
func (m *Cache) GetContainerPath(name string) string {
	return filepath.Join(m.root, ContainerFile(name))
}

// GetIndexPath returns the path of the cached index of a container
func (m *Cache) GetIndexPath(name string) string {
	return m.GetContainerPath(name) + indexExt
}

// GetMarkerPath returns the path of the unfinished marker of a container
func (m *Cache) GetMarkerPath(name string) string {
	return m.GetContainerPath(name) + markerExt
}

// GetConversionMarkerPath returns the path of the store-wide unfinished marker
func (m *Cache) GetConversionMarkerPath() string {
	return filepath.Join(m.root, conversionMarker)
}

// EnsureDir creates a directory and all parent directories
func (m *Cache) EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// FileExists checks if a file exists
func (m *Cache) FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// GetFileSize returns the size of a file, or 0 if it doesn't exist
func (m *Cache) GetFileSize(filename string) int64 {
	info, err := os.Stat(filename)
	if err != nil {
		return 0
	}
	return info.Size()
}

// ListContainers returns the names of all containers in the store directory,
// sorted. Markers and index caches are not containers.
func (m *Cache) ListContainers() ([]string, error) {
	dirents, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing store directory: %w", err)
	}

	var names []string
	for _, dirent := range dirents {
		name := dirent.Name()
		if dirent.IsDir() || !strings.HasSuffix(name, containerExt) || strings.Contains(name, temporaryInfix) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, containerExt))
	}
	sort.Strings(names)
	return names, nil
}
