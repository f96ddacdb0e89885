// Package zipfmt reads and writes the handful of ZIP32 records the asset store
// needs: the End Of Central Directory, Central Directory File Headers and Local
// File Headers. It never decompresses anything; callers get offsets, sizes and
// raw header bytes and decide what to do with the data themselves.
//
// Only the "stored" (0) and raw "deflate" (8) methods are produced. ZIP64,
// encryption and multi-disk archives are not supported.
package zipfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	localFileHeaderSignature = 0x04034b50
	centralHeaderSignature   = 0x02014b50
	endOfCentralSignature    = 0x06054b50

	LocalFileHeaderLen       = 30
	CentralHeaderLen         = 46
	EndOfCentralDirectoryLen = 22

	// maxCommentLen is the largest comment an EOCD record can declare.
	maxCommentLen = 0xFFFF
	// MaxTailLen is how far from the end of a file the EOCD can start.
	MaxTailLen = EndOfCentralDirectoryLen + maxCommentLen

	MethodStored  uint16 = 0
	MethodDeflate uint16 = 8

	maxUint32 = 0xFFFFFFFF
	maxUint16 = 0xFFFF

	versionNeeded = 20
	flagDataDesc  = 1 << 3
	flagUTF8      = 1 << 11

	// 1980-01-01 00:00, the DOS epoch. Dates are not read back by anything.
	fixedDOSTime = 0
	fixedDOSDate = 0x21
)

var (
	// ErrFormat is returned for corrupt or unexpected ZIP structure.
	ErrFormat = errors.New("zip format error")
	// ErrConflict is returned when an entry name is emitted twice in one pass.
	ErrConflict = errors.New("duplicate zip entry name")
	// ErrRange is returned when a value does not fit its ZIP32 field.
	ErrRange = errors.New("value out of zip32 range")
)

func formatError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

// CheckUint32 returns ErrRange when v cannot be stored in a 32-bit field.
func CheckUint32(field string, v int64) error {
	if v < 0 || v > maxUint32 {
		return fmt.Errorf("%w: %s=%d", ErrRange, field, v)
	}
	return nil
}

// CheckUint16 returns ErrRange when v cannot be stored in a 16-bit field.
func CheckUint16(field string, v int) error {
	if v < 0 || v > maxUint16 {
		return fmt.Errorf("%w: %s=%d", ErrRange, field, v)
	}
	return nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func nameFlags(name string) uint16 {
	if isASCII(name) {
		return 0
	}
	return flagUTF8
}

var le = binary.LittleEndian
