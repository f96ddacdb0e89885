package zipfmt

import (
	"archive/zip"
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"testing"
)

// stdZip builds an archive with the standard library writer.
func stdZip(t *testing.T, files map[string]string, order []string, method uint16) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, files[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadCentralDirectory(t *testing.T) {
	files := map[string]string{"a.txt": "hello", "dir/b.json": "{}"}
	data := stdZip(t, files, []string{"a.txt", "dir/b.json"}, zip.Store)

	records, err := ReadCentralDirectory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("ReadCentralDirectory() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	for _, rec := range records {
		want := files[rec.Name]
		if rec.Method() != MethodStored {
			t.Errorf("%s: method = %d, want stored", rec.Name, rec.Method())
		}
		if rec.CRC32() != crc32.ChecksumIEEE([]byte(want)) {
			t.Errorf("%s: crc mismatch", rec.Name)
		}
		if int(rec.CompressedSize()) != len(want) {
			t.Errorf("%s: compressed size = %d, want %d", rec.Name, rec.CompressedSize(), len(want))
		}

		lfh, err := ReadLocalFileHeader(bytes.NewReader(data), int64(rec.LocalHeaderOffset))
		if err != nil {
			t.Fatalf("%s: ReadLocalFileHeader() error: %v", rec.Name, err)
		}
		if int(lfh.NameLen) != len(rec.Name) {
			t.Errorf("%s: local name length = %d", rec.Name, lfh.NameLen)
		}
		start := int64(rec.LocalHeaderOffset) + lfh.Len()
		if got := string(data[start : start+int64(len(want))]); got != want {
			t.Errorf("%s: data = %q, want %q", rec.Name, got, want)
		}
	}
}

func TestScanEndOfCentralDirectorySkipsSignatureInComment(t *testing.T) {
	eocd, err := EndOfCentralDirectoryBytes(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	// A fake record sitting inside the comment of the real one.
	fake := append([]byte(nil), eocd...)
	comment := append(fake, []byte("trailing")...)

	record := append([]byte(nil), eocd...)
	le.PutUint16(record[20:], uint16(len(comment)))

	buf := append([]byte("leading bytes"), record...)
	buf = append(buf, comment...)

	want := len("leading bytes")
	if got := ScanEndOfCentralDirectory(buf); got != want {
		t.Fatalf("ScanEndOfCentralDirectory() = %d, want %d", got, want)
	}
}

func TestScanEndOfCentralDirectoryPrefersTrailingRecord(t *testing.T) {
	eocd, _ := EndOfCentralDirectoryBytes(0, 0, 0)

	// Signature bytes that appear before the real record but whose declared
	// comment length does not reach the end of the buffer.
	buf := append([]byte(nil), eocd...)
	buf = append(buf, []byte("content")...)
	realPos := len(buf)
	buf = append(buf, eocd...)

	if got := ScanEndOfCentralDirectory(buf); got != realPos {
		t.Fatalf("ScanEndOfCentralDirectory() = %d, want %d", got, realPos)
	}
}

func TestFindEndOfCentralDirectoryErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "too small", data: []byte("PK")},
		{name: "no signature", data: bytes.Repeat([]byte{0}, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FindEndOfCentralDirectory(bytes.NewReader(tt.data), int64(len(tt.data)))
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("error = %v, want ErrFormat", err)
			}
		})
	}

	t.Run("directory crosses end record", func(t *testing.T) {
		eocd, _ := EndOfCentralDirectoryBytes(1, 100, 0)
		_, err := FindEndOfCentralDirectory(bytes.NewReader(eocd), int64(len(eocd)))
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("error = %v, want ErrFormat", err)
		}
	})
}

func TestParseCentralDirectoryErrors(t *testing.T) {
	rec, err := CentralDirectoryHeaderBytes("a.txt", 0, MethodStored, 5, 5, 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ParseCentralDirectory(rec[:len(rec)-1]); !errors.Is(err, ErrFormat) {
		t.Errorf("truncated name: error = %v, want ErrFormat", err)
	}
	if _, err := ParseCentralDirectory(append(append([]byte(nil), rec...), 1, 2, 3)); !errors.Is(err, ErrFormat) {
		t.Errorf("trailing garbage: error = %v, want ErrFormat", err)
	}

	bad := append([]byte(nil), rec...)
	bad[0] = 'X'
	if _, err := ParseCentralDirectory(bad); !errors.Is(err, ErrFormat) {
		t.Errorf("bad signature: error = %v, want ErrFormat", err)
	}
}

func TestSynthesizedArchiveOpensWithStdlib(t *testing.T) {
	entries := []struct {
		name string
		data []byte
	}{
		{"a.txt", []byte("hello")},
		{"web/index.html", []byte("<html></html>")},
	}

	var out bytes.Buffer
	var central []byte
	for _, e := range entries {
		crc := crc32.ChecksumIEEE(e.data)
		offset := int64(out.Len())
		lfh, err := LocalFileHeaderBytes(e.name, MethodStored, int64(len(e.data)), int64(len(e.data)), crc)
		if err != nil {
			t.Fatal(err)
		}
		out.Write(lfh)
		out.Write(e.data)
		cdfh, err := CentralDirectoryHeaderBytes(e.name, offset, MethodStored, int64(len(e.data)), int64(len(e.data)), crc)
		if err != nil {
			t.Fatal(err)
		}
		central = append(central, cdfh...)
	}
	dirOffset := int64(out.Len())
	out.Write(central)
	eocd, err := EndOfCentralDirectoryBytes(len(entries), int64(len(central)), dirOffset)
	if err != nil {
		t.Fatal(err)
	}
	out.Write(eocd)

	zr, err := zip.NewReader(bytes.NewReader(out.Bytes()), int64(out.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader() error: %v", err)
	}
	for i, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("%s: %v", f.Name, err)
		}
		if !bytes.Equal(got, entries[i].data) {
			t.Errorf("%s = %q, want %q", f.Name, got, entries[i].data)
		}
	}
}

func TestRewriteLocalFileHeader(t *testing.T) {
	data := stdZip(t, map[string]string{"inner.png": "pixels"}, []string{"inner.png"}, zip.Deflate)
	lfh, err := ReadLocalFileHeader(bytes.NewReader(data), 0)
	if err != nil {
		t.Fatal(err)
	}

	out, err := RewriteLocalFileHeader(lfh.Raw, "sub/archive.zip", 1234, 0xdeadbeef)
	if err != nil {
		t.Fatalf("RewriteLocalFileHeader() error: %v", err)
	}
	got, err := ReadLocalFileHeader(bytes.NewReader(out), 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Method != MethodStored {
		t.Errorf("method = %d, want stored", got.Method)
	}
	if got.CRC32 != 0xdeadbeef || got.CompressedSize != 1234 {
		t.Errorf("crc/size = 0x%08x/%d", got.CRC32, got.CompressedSize)
	}
	if name := string(out[LocalFileHeaderLen : LocalFileHeaderLen+int(got.NameLen)]); name != "sub/archive.zip" {
		t.Errorf("name = %q", name)
	}
	if le.Uint16(out[6:])&flagDataDesc != 0 {
		t.Error("data descriptor flag still set")
	}
	if got.ExtraLen != lfh.ExtraLen {
		t.Errorf("extra length = %d, want %d", got.ExtraLen, lfh.ExtraLen)
	}

	if _, err := RewriteLocalFileHeader(lfh.Raw, "x", 1<<32, 0); !errors.Is(err, ErrRange) {
		t.Errorf("oversized: error = %v, want ErrRange", err)
	}
}

func TestRewriteCentralDirectoryHeader(t *testing.T) {
	raw, err := CentralDirectoryHeaderBytes("inner.png", 10, MethodDeflate, 7, 9, 0x1234)
	if err != nil {
		t.Fatal(err)
	}

	seen := NameSet{}
	shifted, err := RewriteCentralDirectoryHeader(seen, raw, 100, nil)
	if err != nil {
		t.Fatalf("shift: %v", err)
	}
	recs, err := ParseCentralDirectory(shifted)
	if err != nil {
		t.Fatal(err)
	}
	if recs[0].LocalHeaderOffset != 110 || recs[0].Method() != MethodDeflate || recs[0].Name != "inner.png" {
		t.Errorf("shifted record = %+v method=%d", recs[0], recs[0].Method())
	}

	rehosted, err := RewriteCentralDirectoryHeader(seen, raw, 50, &Rehost{Name: "sub.zip", Size: 300, CRC32: 0xabcd})
	if err != nil {
		t.Fatalf("rehost: %v", err)
	}
	recs, err = ParseCentralDirectory(rehosted)
	if err != nil {
		t.Fatal(err)
	}
	r := recs[0]
	if r.Name != "sub.zip" || r.Method() != MethodStored || r.CompressedSize() != 300 ||
		r.UncompressedSize() != 300 || r.CRC32() != 0xabcd || r.LocalHeaderOffset != 60 {
		t.Errorf("rehosted record = %s method=%d size=%d crc=0x%x off=%d",
			r.Name, r.Method(), r.CompressedSize(), r.CRC32(), r.LocalHeaderOffset)
	}

	if _, err := RewriteCentralDirectoryHeader(seen, raw, 0, nil); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate: error = %v, want ErrConflict", err)
	}
	if _, err := RewriteCentralDirectoryHeader(NameSet{}, raw, 0xFFFFFFFF, nil); !errors.Is(err, ErrRange) {
		t.Errorf("overflow: error = %v, want ErrRange", err)
	}
}

func TestRangeChecks(t *testing.T) {
	if _, err := EndOfCentralDirectoryBytes(0x10000, 0, 0); !errors.Is(err, ErrRange) {
		t.Errorf("entry count: error = %v, want ErrRange", err)
	}
	if _, err := CentralDirectoryHeaderBytes("a", 1<<32, MethodStored, 0, 0, 0); !errors.Is(err, ErrRange) {
		t.Errorf("offset: error = %v, want ErrRange", err)
	}
	if _, err := LocalFileHeaderBytes(string(make([]byte, 0x10000)), MethodStored, 0, 0, 0); !errors.Is(err, ErrRange) {
		t.Errorf("name: error = %v, want ErrRange", err)
	}
}
