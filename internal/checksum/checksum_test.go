package checksum

import (
	"bytes"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

func TestCRC32(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short", data: []byte("{}")},
		{name: "seven bytes", data: []byte("1234567")},
		{name: "hello", data: []byte("hello")},
		{name: "large", data: bytes.Repeat([]byte("magia record "), 100000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := crc32.ChecksumIEEE(tt.data)
			if got := CRC32(tt.data); got != want {
				t.Errorf("CRC32() = 0x%08x, want 0x%08x", got, want)
			}

			got, n, err := CRC32Reader(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("CRC32Reader() error: %v", err)
			}
			if got != want {
				t.Errorf("CRC32Reader() = 0x%08x, want 0x%08x", got, want)
			}
			if n != int64(len(tt.data)) {
				t.Errorf("CRC32Reader() length = %d, want %d", n, len(tt.data))
			}
		})
	}
}

func TestCRC32KnownValue(t *testing.T) {
	if got := CRC32([]byte("hello")); got != 0x3610a686 {
		t.Fatalf("CRC32(hello) = 0x%08x, want 0x3610a686", got)
	}
}

func TestCRC32File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	data := bytes.Repeat([]byte{0, 1, 2, 3, 0xff}, 4096)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	crc, size, err := CRC32File(path)
	if err != nil {
		t.Fatalf("CRC32File() error: %v", err)
	}
	if crc != crc32.ChecksumIEEE(data) || size != int64(len(data)) {
		t.Errorf("CRC32File() = (0x%08x, %d), want (0x%08x, %d)", crc, size, crc32.ChecksumIEEE(data), len(data))
	}

	if _, _, err := CRC32File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("CRC32File() on missing file returned nil error")
	}
}

func TestTrailerSinkSmallWrites(t *testing.T) {
	sink := &trailerSink{}
	for _, b := range []byte("abcdefghijk") {
		sink.Write([]byte{b})
	}
	if got := string(sink.tail[:sink.n]); got != "defghijk" {
		t.Errorf("tail = %q, want %q", got, "defghijk")
	}
}

func TestMD5Hex(t *testing.T) {
	if got := MD5Hex([]byte("hello")); got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("MD5Hex(hello) = %s", got)
	}
}
