package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/jchantrell/magiarchive/internal/checksum"
	"github.com/jchantrell/magiarchive/internal/zipfmt"
)

// readAttempts is one read plus two retries on a fresh handle
const readAttempts = 3

// errBadData marks extraction failures that a fresh handle cannot fix
var errBadData = errors.New("bad entry data")

// resolve finds the indexed key for path: first as given without a leading
// slash, then once more without the asset URL prefix.
func (s *Store) resolve(path string) (string, ZipLocation, bool) {
	key := strings.TrimPrefix(path, "/")
	if loc, ok := s.index.lookup(key); ok {
		return key, loc, true
	}
	if s.options.AssetPrefix != "" && strings.HasPrefix(key, s.options.AssetPrefix) {
		key = strings.TrimPrefix(key, s.options.AssetPrefix)
		if loc, ok := s.index.lookup(key); ok {
			return key, loc, true
		}
	}
	return "", ZipLocation{}, false
}

// Locate returns where path is stored in the zipped store
func (s *Store) Locate(path string) (ZipLocation, bool) {
	_, loc, ok := s.resolve(path)
	return loc, ok
}

// Read extracts path from the zipped store. With verify set, content whose
// CRC-32 does not match the index is reported as not found. I/O faults are
// retried on a freshly opened handle before giving up.
func (s *Store) Read(path string, verify bool) ([]byte, bool) {
	key, loc, ok := s.resolve(path)
	if !ok {
		return nil, false
	}

	var lastErr error
	for attempt := 1; attempt <= readAttempts; attempt++ {
		data, err := s.extract(loc)
		if err == nil {
			if verify {
				if got := checksum.CRC32(data); got != loc.CRC32 {
					slog.Warn("Checksum mismatch", "path", key, "container", loc.Container,
						"expected", fmt.Sprintf("%08x", loc.CRC32), "actual", fmt.Sprintf("%08x", got))
					return nil, false
				}
			}
			return data, true
		}
		lastErr = err
		if errors.Is(err, errBadData) {
			break
		}
		slog.Debug("Retrying extraction", "path", key, "attempt", attempt, "error", err)
	}

	slog.Error("Failed to extract entry", "path", key, "container", loc.Container, "error", lastErr)
	return nil, false
}

// extract reads the raw entry bytes and inflates them if needed. A fault
// while reading drops the container handle.
func (s *Store) extract(loc ZipLocation) ([]byte, error) {
	h, err := s.handles.get(loc.Container)
	if err != nil {
		return nil, fmt.Errorf("opening container %s: %w", loc.Container, err)
	}

	raw := make([]byte, loc.CompressedSize)
	n, err := h.ReadAt(raw, int64(loc.DataOffset))
	if n < len(raw) {
		s.handles.drop(loc.Container, h)
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading %d bytes at %d: %w", len(raw), loc.DataOffset, err)
	}

	switch loc.Method {
	case zipfmt.MethodStored:
		return raw, nil
	case zipfmt.MethodDeflate:
		zr := flate.NewReader(bytes.NewReader(raw))
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: inflating: %v", errBadData, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unsupported method %d", errBadData, loc.Method)
	}
}
