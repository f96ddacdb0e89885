package store

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// FS returns a read-only file system over the zipped store. Directories are
// implied by the slashes in the indexed paths.
func (s *Store) FS() fs.FS {
	return &storeFS{store: s}
}

// storeFS implements fs.FS over the asset index
type storeFS struct {
	store *Store
}

func (sfs *storeFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	// super special case
	if name == "." {
		return &storeDir{fs: sfs, name: ".", prefix: "", offset: 0}, nil
	}

	files := sfs.store.index.paths

	idx := sort.SearchStrings(files, name)
	if idx < len(files) && files[idx] == name {
		return &storeFile{fs: sfs, name: name}, nil
	}

	// check for a directory separately
	dirName := name + "/"
	idx += sort.Search(len(files)-idx, func(i int) bool {
		return files[idx+i] >= dirName
	})
	if idx < len(files) && strings.HasPrefix(files[idx], dirName) {
		return &storeDir{fs: sfs, name: name, prefix: dirName, offset: idx}, nil
	}

	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// storeFile implements fs.File for one entry. Content is extracted on first
// use.
type storeFile struct {
	fs     *storeFS
	name   string
	reader *bytes.Reader
}

func (f *storeFile) load() error {
	if f.reader != nil {
		return nil
	}
	data, ok := f.fs.store.Read(f.name, false)
	if !ok {
		return &fs.PathError{Op: "read", Path: f.name, Err: errors.New("extraction failed")}
	}
	f.reader = bytes.NewReader(data)
	return nil
}

func (f *storeFile) Read(p []byte) (int, error) {
	if err := f.load(); err != nil {
		return 0, err
	}
	return f.reader.Read(p)
}

func (f *storeFile) Close() error {
	return nil
}

func (f *storeFile) Stat() (fs.FileInfo, error) {
	return storeFileInfo{f}, nil
}

type storeFileInfo struct {
	*storeFile
}

func (fi storeFileInfo) Name() string { return path.Base(fi.name) }

// Size extracts the entry, since only the stored size is indexed
func (fi storeFileInfo) Size() int64 {
	if err := fi.load(); err != nil {
		return 0
	}
	return fi.reader.Size()
}

func (fi storeFileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi storeFileInfo) ModTime() time.Time { return time.Unix(0, 0) }
func (fi storeFileInfo) IsDir() bool        { return false }
func (fi storeFileInfo) Sys() any           { return nil }

// storeDir implements fs.ReadDirFile for an implied directory
type storeDir struct {
	fs     *storeFS
	name   string
	prefix string
	offset int
}

func (d *storeDir) Read(p []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: errors.New("is a directory")}
}

func (d *storeDir) Close() error {
	return nil
}

func (d *storeDir) Stat() (fs.FileInfo, error) {
	return storeDirInfo{name: path.Base(d.name)}, nil
}

func (d *storeDir) ReadDir(n int) ([]fs.DirEntry, error) {
	files := d.fs.store.index.paths
	prefixLen := len(d.prefix)

	dirents := []fs.DirEntry{}
	for d.offset < len(files) {
		p := files[d.offset]
		if !strings.HasPrefix(p, d.prefix) {
			d.offset = len(files)
			break
		}

		if slash := strings.IndexByte(p[prefixLen:], '/'); slash != -1 {
			dir := p[:prefixLen+slash]
			dirents = append(dirents, storeDirEnt{fs: d.fs, path: dir, dir: true})
			d.offset += sort.Search(len(files)-d.offset, func(i int) bool {
				return files[d.offset+i] >= dir+"/\xff"
			})
		} else {
			dirents = append(dirents, storeDirEnt{fs: d.fs, path: p})
			d.offset++
		}

		if n > 0 && len(dirents) >= n {
			return dirents, nil
		}
	}

	if n > 0 && len(dirents) == 0 {
		return dirents, io.EOF
	}
	return dirents, nil
}

type storeDirInfo struct {
	name string
}

func (di storeDirInfo) Name() string       { return di.name }
func (di storeDirInfo) Size() int64        { return 0 }
func (di storeDirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di storeDirInfo) ModTime() time.Time { return time.Unix(0, 0) }
func (di storeDirInfo) IsDir() bool        { return true }
func (di storeDirInfo) Sys() any           { return nil }

// storeDirEnt implements fs.DirEntry
type storeDirEnt struct {
	fs   *storeFS
	path string
	dir  bool
}

func (e storeDirEnt) Name() string { return path.Base(e.path) }
func (e storeDirEnt) IsDir() bool  { return e.dir }

func (e storeDirEnt) Type() fs.FileMode {
	if e.dir {
		return fs.ModeDir
	}
	return 0
}

func (e storeDirEnt) Info() (fs.FileInfo, error) {
	if e.dir {
		return storeDirInfo{name: path.Base(e.path)}, nil
	}
	return storeFileInfo{&storeFile{fs: e.fs, name: e.path}}, nil
}
