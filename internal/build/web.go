package build

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/klauspost/compress/flate"

	"github.com/jchantrell/magiarchive/internal/checksum"
	"github.com/jchantrell/magiarchive/internal/zipfmt"
)

// joinWebResources writes every web resource as a fresh entry, deflated when
// that makes it strictly smaller and stored otherwise.
func joinWebResources(w *containerWriter, sources []Source) error {
	var deflated bytes.Buffer
	zw, err := flate.NewWriter(&deflated, flate.BestCompression)
	if err != nil {
		return fmt.Errorf("creating deflate writer: %w", err)
	}

	stored := 0
	for _, src := range sources {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return fmt.Errorf("reading %s: %w", src.Path, err)
		}
		crc := checksum.CRC32(data)

		deflated.Reset()
		zw.Reset(&deflated)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("deflating %s: %w", src.Path, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("deflating %s: %w", src.Path, err)
		}

		method := zipfmt.MethodDeflate
		payload := deflated.Bytes()
		if len(payload) >= len(data) {
			method = zipfmt.MethodStored
			payload = data
			stored++
		}

		if err := w.seen.Add(src.Path); err != nil {
			return err
		}

		offset := w.offset
		header, err := zipfmt.LocalFileHeaderBytes(src.Path, method, int64(len(payload)), int64(len(data)), crc)
		if err != nil {
			return fmt.Errorf("%s: %w", src.Path, err)
		}
		record, err := zipfmt.CentralDirectoryHeaderBytes(src.Path, offset, method, int64(len(payload)), int64(len(data)), crc)
		if err != nil {
			return fmt.Errorf("%s: %w", src.Path, err)
		}
		if err := zipfmt.CheckUint32("entry end", offset+int64(len(header))+int64(len(payload))); err != nil {
			return fmt.Errorf("%s: %w", src.Path, err)
		}

		if _, err := w.Write(header); err != nil {
			return fmt.Errorf("writing local header: %w", err)
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing %s: %w", src.Path, err)
		}
		w.addCentral(record)
	}

	slog.Debug("Joined web resources", "count", len(sources), "stored", stored, "deflated", len(sources)-stored)

	return nil
}
