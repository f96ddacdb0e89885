package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jchantrell/magiarchive/internal/build"
	"github.com/jchantrell/magiarchive/internal/checksum"
	"github.com/jchantrell/magiarchive/internal/database"
	"github.com/jchantrell/magiarchive/internal/manifest"
)

const defaultContentType = "application/octet-stream"

// normalizeKey cleans a logical path, or returns "" if it cannot be one
func normalizeKey(p string) string {
	key, err := manifest.CleanPath(p)
	if err != nil {
		return ""
	}
	return key
}

// PathInZip turns a request path into the key the store serves it under.
// The query and fragment are dropped and the path is URL-decoded. A path
// only saved to the staging area resolves too; Locate still reports it
// missing since it has no location in a container.
func (s *Store) PathInZip(urlPath string) (string, bool) {
	if i := strings.IndexAny(urlPath, "?#"); i >= 0 {
		urlPath = urlPath[:i]
	}
	decoded, err := url.PathUnescape(urlPath)
	if err != nil {
		return "", false
	}
	key := normalizeKey(decoded)
	if key == "" {
		return "", false
	}
	if indexed, _, ok := s.resolve(key); ok {
		return indexed, true
	}
	return s.stagedKey(key)
}

// stagedKey applies the same prefix retry as resolve to the staged files
func (s *Store) stagedKey(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.staged[key]; ok {
		return key, true
	}
	if s.options.AssetPrefix != "" && strings.HasPrefix(key, s.options.AssetPrefix) {
		key = strings.TrimPrefix(key, s.options.AssetPrefix)
		if _, ok := s.staged[key]; ok {
			return key, true
		}
	}
	return "", false
}

// ContentType returns the MIME type for path, by extension
func (s *Store) ContentType(p string) string {
	if ct, ok := s.options.ContentTypes[strings.ToLower(path.Ext(p))]; ok {
		return ct
	}
	return defaultContentType
}

func (s *Store) stagingFile(key string) string {
	return filepath.Join(s.options.StagingDir, filepath.FromSlash(key))
}

// SaveFile stores content fetched from upstream in the staging area. The
// joined containers are never modified. An empty contentType is derived from
// the extension; a nil precomputedCRC is computed.
func (s *Store) SaveFile(ctx context.Context, logicalPath string, content []byte, contentType string, precomputedCRC *uint32) error {
	if s.options.StagingDir == "" {
		return fmt.Errorf("no staging directory configured")
	}
	key := normalizeKey(logicalPath)
	if key == "" {
		return fmt.Errorf("invalid logical path %q", logicalPath)
	}

	if contentType == "" {
		contentType = s.ContentType(key)
	}
	var crc uint32
	if precomputedCRC != nil {
		crc = *precomputedCRC
	} else {
		crc = checksum.CRC32(content)
	}

	target := s.stagingFile(key)
	if err := writeFileAtomic(target, content); err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}

	f := database.StagedFile{
		Path:        key,
		ContentType: contentType,
		Size:        int64(len(content)),
		CRC32:       crc,
		MD5:         checksum.MD5Hex(content),
		SavedAt:     time.Now(),
	}
	if s.catalog != nil {
		if err := s.catalog.UpsertStagedFile(ctx, f); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.staged[key] = f
	s.mu.Unlock()

	slog.Debug("Saved file to staging", "path", key, "size", f.Size, "content_type", contentType)

	return nil
}

func writeFileAtomic(target string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// Staged returns the staging record for path, if SaveFile recorded one
func (s *Store) Staged(logicalPath string) (database.StagedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.staged[normalizeKey(logicalPath)]
	return f, ok
}

// ReadFile returns the content for a logical path from the first place that
// has it: the staging area, the legacy loose-file tree, then the zipped
// store. Known missing paths are answered without looking.
func (s *Store) ReadFile(logicalPath string, verify bool) ([]byte, bool) {
	key := normalizeKey(logicalPath)
	if key == "" {
		return nil, false
	}
	if _, ok := s.known[key]; ok {
		return nil, false
	}

	if data, ok := s.readStaged(key, verify); ok {
		return data, true
	}

	if s.options.LegacyDir != "" {
		if data, err := os.ReadFile(build.LegacyFile(s.options.LegacyDir, key)); err == nil {
			return data, true
		}
	}

	return s.Read(key, verify)
}

func (s *Store) readStaged(key string, verify bool) ([]byte, bool) {
	if s.options.StagingDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(s.stagingFile(key))
	if err != nil {
		return nil, false
	}
	if verify {
		if f, ok := s.Staged(key); ok && checksum.CRC32(data) != f.CRC32 {
			slog.Warn("Staged file checksum mismatch", "path", key)
			return nil, false
		}
	}
	return data, true
}
