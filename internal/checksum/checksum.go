// Package checksum computes the checksums the asset store records and
// verifies: CRC-32/ISO-HDLC (the ZIP variant) and MD5.
//
// CRC32 values are taken from the trailer of a gzip stream written at
// NoCompression. The payload itself is discarded as it is produced, so a
// multi-gigabyte container costs no more memory than a short string.
package checksum

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// gzip trailer: CRC32 then ISIZE, both little-endian uint32.
const trailerLen = 8

// trailerSink keeps the last trailerLen bytes written to it.
type trailerSink struct {
	tail [trailerLen]byte
	n    int
}

func (s *trailerSink) Write(p []byte) (int, error) {
	written := len(p)
	if len(p) >= trailerLen {
		copy(s.tail[:], p[len(p)-trailerLen:])
		s.n = trailerLen
		return written, nil
	}
	keep := trailerLen - len(p)
	if keep > s.n {
		keep = s.n
	}
	copy(s.tail[:keep], s.tail[s.n-keep:s.n])
	copy(s.tail[keep:], p)
	s.n = keep + len(p)
	return written, nil
}

func (s *trailerSink) crc() (uint32, error) {
	if s.n < trailerLen {
		return 0, fmt.Errorf("gzip stream ended before its trailer")
	}
	return binary.LittleEndian.Uint32(s.tail[:4]), nil
}

// CRC32Reader drains r and returns its CRC32 and length.
func CRC32Reader(r io.Reader) (uint32, int64, error) {
	sink := &trailerSink{}
	zw, err := gzip.NewWriterLevel(sink, gzip.NoCompression)
	if err != nil {
		return 0, 0, fmt.Errorf("creating gzip writer: %w", err)
	}

	n, err := io.Copy(zw, r)
	if err != nil {
		return 0, n, fmt.Errorf("reading checksum source: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, n, fmt.Errorf("finishing gzip stream: %w", err)
	}

	crc, err := sink.crc()
	if err != nil {
		return 0, n, err
	}
	return crc, n, nil
}

// CRC32 returns the CRC32 of b.
func CRC32(b []byte) uint32 {
	sink := &trailerSink{}
	zw, _ := gzip.NewWriterLevel(sink, gzip.NoCompression)
	// Writes to trailerSink never fail.
	_, _ = zw.Write(b)
	_ = zw.Close()
	crc, _ := sink.crc()
	return crc
}

// CRC32File returns the CRC32 and size of the file at path.
func CRC32File(path string) (uint32, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return CRC32Reader(f)
}

// MD5Hex returns the lower-case hex MD5 of b, the form asset lists declare.
func MD5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
