package zipfmt

import (
	"fmt"
	"io"
)

// Directory describes where the central directory of an archive lives.
type Directory struct {
	Offset  uint32
	Size    uint32
	Entries uint16
	// EndOffset is the absolute position of the EOCD record.
	EndOffset int64
}

// FindEndOfCentralDirectory locates the EOCD record in the last MaxTailLen
// bytes of r. A signature only counts when the comment length it declares ends
// exactly at the end of the file, so signature bytes inside a comment are
// skipped.
func FindEndOfCentralDirectory(r io.ReaderAt, size int64) (Directory, error) {
	tailLen := int64(MaxTailLen)
	if size < tailLen {
		tailLen = size
	}
	if tailLen < EndOfCentralDirectoryLen {
		return Directory{}, formatError("file too small for end of central directory (%d bytes)", size)
	}

	tail := make([]byte, tailLen)
	if n, err := r.ReadAt(tail, size-tailLen); n < len(tail) {
		return Directory{}, fmt.Errorf("reading archive tail: %w", readErr(err))
	}

	pos := ScanEndOfCentralDirectory(tail)
	if pos < 0 {
		return Directory{}, formatError("end of central directory not found")
	}

	rec := tail[pos:]
	dir := Directory{
		Entries:   le.Uint16(rec[10:]),
		Size:      le.Uint32(rec[12:]),
		Offset:    le.Uint32(rec[16:]),
		EndOffset: size - tailLen + int64(pos),
	}

	if int64(dir.Offset)+int64(dir.Size) > dir.EndOffset {
		return Directory{}, formatError("central directory (offset=%d, size=%d) crosses end record at %d",
			dir.Offset, dir.Size, dir.EndOffset)
	}

	return dir, nil
}

// ScanEndOfCentralDirectory returns the position of the EOCD record in buf, or
// -1. buf must end where the file ends.
func ScanEndOfCentralDirectory(buf []byte) int {
	for i := len(buf) - EndOfCentralDirectoryLen; i >= 0; i-- {
		if le.Uint32(buf[i:]) != endOfCentralSignature {
			continue
		}
		commentLen := int(le.Uint16(buf[i+20:]))
		if i+EndOfCentralDirectoryLen+commentLen == len(buf) {
			return i
		}
	}
	return -1
}

// EndOfCentralDirectoryBytes builds a single-disk EOCD record with no comment.
func EndOfCentralDirectoryBytes(entries int, dirSize, dirOffset int64) ([]byte, error) {
	if err := CheckUint16("entry count", entries); err != nil {
		return nil, err
	}
	if err := CheckUint32("central directory size", dirSize); err != nil {
		return nil, err
	}
	if err := CheckUint32("central directory offset", dirOffset); err != nil {
		return nil, err
	}

	b := make([]byte, EndOfCentralDirectoryLen)
	le.PutUint32(b[0:], endOfCentralSignature)
	le.PutUint16(b[8:], uint16(entries))
	le.PutUint16(b[10:], uint16(entries))
	le.PutUint32(b[12:], uint32(dirSize))
	le.PutUint32(b[16:], uint32(dirOffset))
	return b, nil
}

// ReadCentralDirectory finds the EOCD of r and parses every record of its
// central directory.
func ReadCentralDirectory(r io.ReaderAt, size int64) ([]CDFHRecord, error) {
	dir, err := FindEndOfCentralDirectory(r, size)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, dir.Size)
	if n, err := r.ReadAt(buf, int64(dir.Offset)); n < len(buf) {
		return nil, fmt.Errorf("reading central directory: %w", readErr(err))
	}

	records, err := ParseCentralDirectory(buf)
	if err != nil {
		return nil, err
	}
	if len(records) != int(dir.Entries) {
		return nil, formatError("central directory holds %d records, end record declares %d", len(records), dir.Entries)
	}
	return records, nil
}

// readErr turns a short read without an error into io.ErrUnexpectedEOF.
func readErr(err error) error {
	if err == nil || err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
