package build

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jchantrell/magiarchive/internal/checksum"
	"github.com/jchantrell/magiarchive/internal/zipfmt"
)

// joinSubArchives embeds every source sub-archive into w. A sub-archive that
// is not a valid ZIP is logged and skipped; a name conflict aborts the pass.
func joinSubArchives(w *containerWriter, sources []Source) error {
	for _, src := range sources {
		err := joinSubArchive(w, src)
		if err == nil {
			continue
		}
		if errors.Is(err, zipfmt.ErrFormat) {
			slog.Error("Skipping corrupt sub-archive", "path", src.Path, "error", err)
			continue
		}
		return fmt.Errorf("joining %s: %w", src.Path, err)
	}
	return nil
}

// joinSubArchive re-hosts one sub-archive. The container receives a stored
// entry named after the sub-archive whose data is the whole sub-archive,
// byte for byte, so every original local header lands at its old offset plus
// the start of the embedded copy. The central directory then gets one record
// for the sub-archive itself and one shifted record per original entry.
func joinSubArchive(w *containerWriter, src Source) error {
	f, err := os.Open(src.File)
	if err != nil {
		return fmt.Errorf("opening sub-archive: %w", err)
	}
	defer f.Close()

	crc, size, err := checksum.CRC32Reader(io.NewSectionReader(f, 0, src.Size))
	if err != nil {
		return err
	}
	if size != src.Size {
		return fmt.Errorf("sub-archive changed while reading: %d bytes, expected %d", size, src.Size)
	}

	records, err := zipfmt.ReadCentralDirectory(f, size)
	if err != nil {
		return err
	}

	headerOffset := w.offset
	var header, wholeRecord []byte

	if len(records) == 0 {
		// Nothing to borrow a header from; describe the blob from scratch.
		header, err = zipfmt.LocalFileHeaderBytes(src.Path, zipfmt.MethodStored, size, size, crc)
		if err != nil {
			return err
		}
		if err := w.seen.Add(src.Path); err != nil {
			return err
		}
		wholeRecord, err = zipfmt.CentralDirectoryHeaderBytes(src.Path, headerOffset, zipfmt.MethodStored, size, size, crc)
		if err != nil {
			return err
		}
	} else {
		first := records[0]
		lfh, err := zipfmt.ReadLocalFileHeader(f, int64(first.LocalHeaderOffset))
		if err != nil {
			return err
		}
		header, err = zipfmt.RewriteLocalFileHeader(lfh.Raw, src.Path, size, crc)
		if err != nil {
			return err
		}
		rehost := &zipfmt.Rehost{Name: src.Path, Size: size, CRC32: crc}
		wholeRecord, err = zipfmt.RewriteCentralDirectoryHeader(w.seen, first.Raw, headerOffset-int64(first.LocalHeaderOffset), rehost)
		if err != nil {
			return err
		}
	}

	nestedStart := headerOffset + int64(len(header))
	if err := zipfmt.CheckUint32("sub-archive end", nestedStart+size); err != nil {
		return err
	}

	inner := make([][]byte, 0, len(records))
	for _, rec := range records {
		if rec.IsDir() {
			continue
		}
		shifted, err := zipfmt.RewriteCentralDirectoryHeader(w.seen, rec.Raw, nestedStart, nil)
		if err != nil {
			return err
		}
		inner = append(inner, shifted)
	}

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing local header: %w", err)
	}
	if err := w.copyFrom(io.NewSectionReader(f, 0, size), size); err != nil {
		return fmt.Errorf("copying sub-archive: %w", err)
	}

	w.addCentral(wholeRecord)
	for _, rec := range inner {
		w.addCentral(rec)
	}

	slog.Debug("Joined sub-archive", "path", src.Path, "entries", len(inner), "offset", headerOffset, "size", size)

	return nil
}
