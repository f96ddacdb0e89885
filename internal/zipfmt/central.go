package zipfmt

import "fmt"

// CDFHRecord is one Central Directory File Header as found in an archive.
// Raw holds the complete record (fixed part, name, extra and comment) so it
// can be re-emitted with only the fields that need changing rewritten.
type CDFHRecord struct {
	Name              string
	LocalHeaderOffset uint32
	Raw               []byte
}

// Method returns the compression method of the entry.
func (r CDFHRecord) Method() uint16 { return le.Uint16(r.Raw[10:]) }

// CRC32 returns the checksum of the uncompressed entry.
func (r CDFHRecord) CRC32() uint32 { return le.Uint32(r.Raw[16:]) }

// CompressedSize returns the stored size of the entry data.
func (r CDFHRecord) CompressedSize() uint32 { return le.Uint32(r.Raw[20:]) }

// UncompressedSize returns the size of the entry once inflated.
func (r CDFHRecord) UncompressedSize() uint32 { return le.Uint32(r.Raw[24:]) }

// IsDir reports whether the record names a directory.
func (r CDFHRecord) IsDir() bool {
	return len(r.Name) > 0 && r.Name[len(r.Name)-1] == '/'
}

// ParseCentralDirectory splits a central directory into its records. Every
// record must carry the CDFH signature and the buffer must end exactly after
// the last one.
func ParseCentralDirectory(buf []byte) ([]CDFHRecord, error) {
	var records []CDFHRecord
	p := 0
	for p < len(buf) {
		if len(buf)-p < CentralHeaderLen {
			return nil, formatError("truncated central directory header at %d", p)
		}
		if sig := le.Uint32(buf[p:]); sig != centralHeaderSignature {
			return nil, formatError("bad central directory signature 0x%08x at %d", sig, p)
		}

		nameLen := int(le.Uint16(buf[p+28:]))
		extraLen := int(le.Uint16(buf[p+30:]))
		commentLen := int(le.Uint16(buf[p+32:]))
		end := p + CentralHeaderLen + nameLen + extraLen + commentLen
		if end > len(buf) {
			return nil, formatError("central directory header at %d runs past the directory", p)
		}

		raw := buf[p:end:end]
		records = append(records, CDFHRecord{
			Name:              string(raw[CentralHeaderLen : CentralHeaderLen+nameLen]),
			LocalHeaderOffset: le.Uint32(raw[42:]),
			Raw:               raw,
		})
		p = end
	}
	return records, nil
}

// CentralDirectoryHeaderBytes builds a fresh CDFH for an entry written by the
// builder itself.
func CentralDirectoryHeaderBytes(name string, localOffset int64, method uint16, compressedSize, size int64, crc uint32) ([]byte, error) {
	if err := CheckUint16("name length", len(name)); err != nil {
		return nil, err
	}
	if err := CheckUint32("local header offset", localOffset); err != nil {
		return nil, err
	}
	if err := CheckUint32("compressed size", compressedSize); err != nil {
		return nil, err
	}
	if err := CheckUint32("uncompressed size", size); err != nil {
		return nil, err
	}

	b := make([]byte, CentralHeaderLen+len(name))
	le.PutUint32(b[0:], centralHeaderSignature)
	le.PutUint16(b[4:], versionNeeded)
	le.PutUint16(b[6:], versionNeeded)
	le.PutUint16(b[8:], nameFlags(name))
	le.PutUint16(b[10:], method)
	le.PutUint16(b[12:], fixedDOSTime)
	le.PutUint16(b[14:], fixedDOSDate)
	le.PutUint32(b[16:], crc)
	le.PutUint32(b[20:], uint32(compressedSize))
	le.PutUint32(b[24:], uint32(size))
	le.PutUint16(b[28:], uint16(len(name)))
	le.PutUint32(b[42:], uint32(localOffset))
	copy(b[CentralHeaderLen:], name)
	return b, nil
}

// NameSet tracks the entry names already emitted in one build pass.
type NameSet map[string]struct{}

// Add records name, returning ErrConflict if it was already present.
func (s NameSet) Add(name string) error {
	if _, ok := s[name]; ok {
		return fmt.Errorf("%w: %q", ErrConflict, name)
	}
	s[name] = struct{}{}
	return nil
}

// Rehost describes an entry that is re-hosted under a new name as a stored
// blob of Size bytes.
type Rehost struct {
	Name  string
	Size  int64
	CRC32 uint32
}

// RewriteCentralDirectoryHeader returns a copy of raw with its local header
// offset shifted by offsetDelta. When rehost is non-nil the record is also
// renamed and turned into a stored entry of the given size and checksum.
// The resulting name is added to seen; a name already there is ErrConflict.
func RewriteCentralDirectoryHeader(seen NameSet, raw []byte, offsetDelta int64, rehost *Rehost) ([]byte, error) {
	if len(raw) < CentralHeaderLen || le.Uint32(raw) != centralHeaderSignature {
		return nil, formatError("not a central directory header")
	}

	nameLen := int(le.Uint16(raw[28:]))
	if CentralHeaderLen+nameLen > len(raw) {
		return nil, formatError("central directory header name runs past record")
	}
	name := string(raw[CentralHeaderLen : CentralHeaderLen+nameLen])
	tail := raw[CentralHeaderLen+nameLen:]
	if rehost != nil {
		name = rehost.Name
	}

	offset := int64(le.Uint32(raw[42:])) + offsetDelta
	if err := CheckUint32("local header offset", offset); err != nil {
		return nil, err
	}
	if err := CheckUint16("name length", len(name)); err != nil {
		return nil, err
	}
	if rehost != nil {
		if err := CheckUint32("rehosted size", rehost.Size); err != nil {
			return nil, err
		}
	}
	if err := seen.Add(name); err != nil {
		return nil, err
	}

	out := make([]byte, 0, CentralHeaderLen+len(name)+len(tail))
	out = append(out, raw[:CentralHeaderLen]...)
	out = append(out, name...)
	out = append(out, tail...)

	le.PutUint32(out[42:], uint32(offset))
	le.PutUint16(out[28:], uint16(len(name)))

	if rehost != nil {
		flags := le.Uint16(out[8:]) &^ (flagDataDesc | flagUTF8)
		le.PutUint16(out[8:], flags|nameFlags(name))
		le.PutUint16(out[10:], MethodStored)
		le.PutUint32(out[16:], rehost.CRC32)
		le.PutUint32(out[20:], uint32(rehost.Size))
		le.PutUint32(out[24:], uint32(rehost.Size))
	}

	return out, nil
}
