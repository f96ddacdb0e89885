package store

import (
	"io"

	"github.com/jchantrell/magiarchive/internal/build"
)

// ZipLocation is where the bytes of one logical path live
type ZipLocation struct {
	// Container is the container name, without the .zip extension
	Container      string
	Method         uint16
	DataOffset     uint32
	CompressedSize uint32
	CRC32          uint32
}

// Category is one container built from sub-archives
type Category struct {
	Name     string
	Manifest string
	// AssetLists declare md5 sums for the integrity checker
	AssetLists []string
}

// Options configures a Store. Everything the store needs to know about the
// game is passed in here rather than kept in package state.
type Options struct {
	StoreDir   string
	LegacyDir  string
	StagingDir string
	// CatalogPath is the staging catalog database. Empty disables it.
	CatalogPath string

	// AssetPrefix is stripped from paths that are not indexed as given
	AssetPrefix  string
	Categories   []Category
	WebContainer string
	WebManifest  string

	// Known404 lists paths that never exist. ReadFile answers them without
	// touching the disk.
	Known404 []string
	// ContentTypes maps a lower-case extension with its dot to a MIME type
	ContentTypes map[string]string

	BuildWorkers  int
	BuildProgress build.ProgressCallback

	// Opener opens containers for reading. Defaults to os.Open.
	Opener Opener
}

// ContainerFile is an open container
type ContainerFile interface {
	io.ReaderAt
	io.Closer
}

// Opener opens the container file at path
type Opener func(path string) (ContainerFile, error)

// FsckReport summarizes one Fsck run
type FsckReport struct {
	Scanned int
	Removed int
	Kept    int
	// StagedRemoved counts staged files dropped for matching the store
	StagedRemoved int
	FreedBytes    int64
}
