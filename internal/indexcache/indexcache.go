// Package indexcache persists the logical path -> location index of one
// container so a restart does not have to walk every central directory again.
//
// A cache file is a gzip stream holding:
//
//	magic        [8]byte "ZIPMAP01"
//	totalLength  uint32   length of the whole payload, magic included
//	entryCount   uint32
//	nameLen      uint16, container name
//	entryCount × {nameLen uint16, name, nameLen uint16, method uint8,
//	              dataOffset uint32, compressedSize uint32, crc32 uint32}
//	nameLen      uint16, container name
//
// All integers are little-endian. The container name and every entry name
// length appear twice so truncation and bit rot are caught while decoding.
package indexcache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

var magic = [8]byte{'Z', 'I', 'P', 'M', 'A', 'P', '0', '1'}

// ErrCacheCorrupt is returned when a cache file does not decode cleanly.
var ErrCacheCorrupt = errors.New("index cache corrupt")

// ErrCacheStale is returned when the container is newer than its cache.
var ErrCacheStale = errors.New("index cache stale")

// Entry is one cached index record.
type Entry struct {
	Path           string
	Method         uint8
	DataOffset     uint32
	CompressedSize uint32
	CRC32          uint32
}

// Snapshot is the cached index of a single container.
type Snapshot struct {
	Container string
	Entries   []Entry
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCacheCorrupt, fmt.Sprintf(format, args...))
}

// Encode serializes s into the uncompressed cache layout.
func Encode(s *Snapshot) ([]byte, error) {
	if len(s.Container) > 0xFFFF {
		return nil, fmt.Errorf("container name too long: %d bytes", len(s.Container))
	}

	total := len(magic) + 4 + 4 + 2*(2+len(s.Container))
	for _, e := range s.Entries {
		if len(e.Path) > 0xFFFF {
			return nil, fmt.Errorf("entry name too long: %d bytes", len(e.Path))
		}
		total += 2 + len(e.Path) + 2 + 1 + 4 + 4 + 4
	}
	if uint64(total) > 0xFFFFFFFF || uint64(len(s.Entries)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("index too large to cache: %d bytes", total)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, magic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(total))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Entries)))
	buf = appendName(buf, s.Container)
	for _, e := range s.Entries {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Path)))
		buf = append(buf, e.Path...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Path)))
		buf = append(buf, e.Method)
		buf = binary.LittleEndian.AppendUint32(buf, e.DataOffset)
		buf = binary.LittleEndian.AppendUint32(buf, e.CompressedSize)
		buf = binary.LittleEndian.AppendUint32(buf, e.CRC32)
	}
	buf = appendName(buf, s.Container)

	return buf, nil
}

func appendName(buf []byte, name string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(name)))
	return append(buf, name...)
}

// decoder walks the payload, turning any overrun into ErrCacheCorrupt.
type decoder struct {
	data []byte
	p    int
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.p+n > len(d.data) {
		return nil, corrupt("truncated at byte %d (need %d)", d.p, n)
	}
	b := d.data[d.p : d.p+n]
	d.p += n
	return b, nil
}

func (d *decoder) u16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) name() (string, error) {
	n, err := d.u16()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses the uncompressed cache layout.
func Decode(data []byte) (*Snapshot, error) {
	d := &decoder{data: data}

	m, err := d.take(len(magic))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(m, magic[:]) {
		return nil, corrupt("bad magic %q", m)
	}

	total, err := d.u32()
	if err != nil {
		return nil, err
	}
	if int64(total) != int64(len(data)) {
		return nil, corrupt("declared length %d, have %d", total, len(data))
	}

	count, err := d.u32()
	if err != nil {
		return nil, err
	}

	container, err := d.name()
	if err != nil {
		return nil, err
	}

	// Smallest possible entry is 17 bytes; reject absurd counts before allocating.
	if int64(count)*17 > int64(len(data)) {
		return nil, corrupt("entry count %d does not fit in %d bytes", count, len(data))
	}

	s := &Snapshot{Container: container, Entries: make([]Entry, 0, count)}
	for i := uint32(0); i < count; i++ {
		path, err := d.name()
		if err != nil {
			return nil, err
		}
		again, err := d.u16()
		if err != nil {
			return nil, err
		}
		if int(again) != len(path) {
			return nil, corrupt("entry %d: name length %d then %d", i, len(path), again)
		}

		fixed, err := d.take(13)
		if err != nil {
			return nil, err
		}
		s.Entries = append(s.Entries, Entry{
			Path:           path,
			Method:         fixed[0],
			DataOffset:     binary.LittleEndian.Uint32(fixed[1:]),
			CompressedSize: binary.LittleEndian.Uint32(fixed[5:]),
			CRC32:          binary.LittleEndian.Uint32(fixed[9:]),
		})
	}

	trailer, err := d.name()
	if err != nil {
		return nil, err
	}
	if trailer != container {
		return nil, corrupt("container name %q at start, %q at end", container, trailer)
	}
	if d.p != len(data) {
		return nil, corrupt("%d trailing bytes after %d entries", len(data)-d.p, count)
	}

	return s, nil
}

// Write stores s at path, gzip-compressed. The file is written to a
// temporary name first and renamed into place.
func Write(path string, s *Snapshot) error {
	payload, err := Encode(s)
	if err != nil {
		return fmt.Errorf("encoding index cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating index cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw, err := gzip.NewWriterLevel(tmp, gzip.BestSpeed)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("writing index cache: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finishing index cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing index cache: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming index cache into place: %w", err)
	}
	return nil
}

// Read loads the cache at path for the container at containerPath. It
// returns ErrCacheStale if the cache is older than the container and
// ErrCacheCorrupt for anything that does not decode or does not belong to
// the container.
func Read(path, containerPath string) (*Snapshot, error) {
	cacheInfo, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	containerInfo, err := os.Stat(containerPath)
	if err != nil {
		return nil, err
	}
	if cacheInfo.ModTime().Before(containerInfo.ModTime()) {
		return nil, fmt.Errorf("%w: cache %s older than %s", ErrCacheStale, cacheInfo.ModTime(), containerInfo.ModTime())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, corrupt("gzip header: %v", err)
	}
	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, corrupt("gzip stream: %v", err)
	}

	s, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	if want := filepath.Base(containerPath); s.Container != want {
		return nil, corrupt("cache is for %q, not %q", s.Container, want)
	}
	return s, nil
}
