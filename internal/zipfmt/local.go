package zipfmt

import (
	"fmt"
	"io"
)

// LocalFileHeader is a parsed Local File Header. Raw covers the fixed part
// plus the name and extra field, i.e. everything up to the entry data.
type LocalFileHeader struct {
	Method         uint16
	CRC32          uint32
	CompressedSize uint32
	NameLen        uint16
	ExtraLen       uint16
	Raw            []byte
}

// Len returns the full header length; entry data starts right after it.
func (h LocalFileHeader) Len() int64 {
	return LocalFileHeaderLen + int64(h.NameLen) + int64(h.ExtraLen)
}

// ReadLocalFileHeader reads the header that starts at off.
func ReadLocalFileHeader(r io.ReaderAt, off int64) (LocalFileHeader, error) {
	fixed := make([]byte, LocalFileHeaderLen)
	if n, err := r.ReadAt(fixed, off); n < len(fixed) {
		if err == nil || err == io.EOF {
			return LocalFileHeader{}, formatError("truncated local file header at %d", off)
		}
		return LocalFileHeader{}, fmt.Errorf("reading local file header at %d: %w", off, err)
	}
	if sig := le.Uint32(fixed); sig != localFileHeaderSignature {
		return LocalFileHeader{}, formatError("bad local file header signature 0x%08x at %d", sig, off)
	}

	h := LocalFileHeader{
		Method:         le.Uint16(fixed[8:]),
		CRC32:          le.Uint32(fixed[14:]),
		CompressedSize: le.Uint32(fixed[18:]),
		NameLen:        le.Uint16(fixed[26:]),
		ExtraLen:       le.Uint16(fixed[28:]),
	}

	h.Raw = make([]byte, h.Len())
	copy(h.Raw, fixed)
	if variable := h.Raw[LocalFileHeaderLen:]; len(variable) > 0 {
		if n, err := r.ReadAt(variable, off+LocalFileHeaderLen); n < len(variable) {
			if err == nil || err == io.EOF {
				return LocalFileHeader{}, formatError("truncated local file header name at %d", off)
			}
			return LocalFileHeader{}, fmt.Errorf("reading local file header name at %d: %w", off, err)
		}
	}

	return h, nil
}

// LocalFileHeaderBytes builds a fresh Local File Header for an entry written
// by the builder itself.
func LocalFileHeaderBytes(name string, method uint16, compressedSize, size int64, crc uint32) ([]byte, error) {
	if err := CheckUint16("name length", len(name)); err != nil {
		return nil, err
	}
	if err := CheckUint32("compressed size", compressedSize); err != nil {
		return nil, err
	}
	if err := CheckUint32("uncompressed size", size); err != nil {
		return nil, err
	}

	b := make([]byte, LocalFileHeaderLen+len(name))
	le.PutUint32(b[0:], localFileHeaderSignature)
	le.PutUint16(b[4:], versionNeeded)
	le.PutUint16(b[6:], nameFlags(name))
	le.PutUint16(b[8:], method)
	le.PutUint16(b[10:], fixedDOSTime)
	le.PutUint16(b[12:], fixedDOSDate)
	le.PutUint32(b[14:], crc)
	le.PutUint32(b[18:], uint32(compressedSize))
	le.PutUint32(b[22:], uint32(size))
	le.PutUint16(b[26:], uint16(len(name)))
	copy(b[LocalFileHeaderLen:], name)
	return b, nil
}

// RewriteLocalFileHeader returns a copy of raw renamed to newName and turned
// into a stored entry of newSize bytes with checksum newCRC. The extra field
// is kept as is.
func RewriteLocalFileHeader(raw []byte, newName string, newSize int64, newCRC uint32) ([]byte, error) {
	if len(raw) < LocalFileHeaderLen || le.Uint32(raw) != localFileHeaderSignature {
		return nil, formatError("not a local file header")
	}
	nameLen := int(le.Uint16(raw[26:]))
	extraLen := int(le.Uint16(raw[28:]))
	if LocalFileHeaderLen+nameLen+extraLen > len(raw) {
		return nil, formatError("local file header name runs past record")
	}
	if err := CheckUint16("name length", len(newName)); err != nil {
		return nil, err
	}
	if err := CheckUint32("rehosted size", newSize); err != nil {
		return nil, err
	}

	extra := raw[LocalFileHeaderLen+nameLen : LocalFileHeaderLen+nameLen+extraLen]
	out := make([]byte, 0, LocalFileHeaderLen+len(newName)+len(extra))
	out = append(out, raw[:LocalFileHeaderLen]...)
	out = append(out, newName...)
	out = append(out, extra...)

	flags := le.Uint16(out[6:]) &^ (flagDataDesc | flagUTF8)
	le.PutUint16(out[6:], flags|nameFlags(newName))
	le.PutUint16(out[8:], MethodStored)
	le.PutUint32(out[14:], newCRC)
	le.PutUint32(out[18:], uint32(newSize))
	le.PutUint32(out[22:], uint32(newSize))
	le.PutUint16(out[26:], uint16(len(newName)))
	return out, nil
}
