package build

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/jchantrell/magiarchive/internal/zipfmt"
)

const writeBufferSize = 1 << 20

// containerWriter appends to a joined container and keeps track of the byte
// offset, the central directory accumulated so far and the names emitted.
// Writing is strictly sequential: every header's offset depends on all the
// bytes before it.
type containerWriter struct {
	file    *os.File
	buf     *bufio.Writer
	offset  int64
	central []byte
	entries int
	seen    zipfmt.NameSet
}

func createContainer(path string) (*containerWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating container %s: %w", path, err)
	}
	return &containerWriter{
		file: f,
		buf:  bufio.NewWriterSize(f, writeBufferSize),
		seen: zipfmt.NameSet{},
	}, nil
}

func (w *containerWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	w.offset += int64(n)
	return n, err
}

// copyFrom streams size bytes from r.
func (w *containerWriter) copyFrom(r io.Reader, size int64) error {
	n, err := io.Copy(w, io.LimitReader(r, size))
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("copied %d bytes, expected %d", n, size)
	}
	return nil
}

func (w *containerWriter) addCentral(record []byte) {
	w.central = append(w.central, record...)
	w.entries++
}

// finish writes the central directory and end record, then flushes, syncs
// and closes the file. The container is complete only if finish succeeds.
func (w *containerWriter) finish() error {
	dirOffset := w.offset
	if err := zipfmt.CheckUint32("central directory offset", dirOffset); err != nil {
		w.abort()
		return err
	}
	eocd, err := zipfmt.EndOfCentralDirectoryBytes(w.entries, int64(len(w.central)), dirOffset)
	if err != nil {
		w.abort()
		return err
	}

	if _, err := w.Write(w.central); err != nil {
		w.abort()
		return fmt.Errorf("writing central directory: %w", err)
	}
	if _, err := w.Write(eocd); err != nil {
		w.abort()
		return fmt.Errorf("writing end of central directory: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		w.abort()
		return fmt.Errorf("flushing container: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.abort()
		return fmt.Errorf("syncing container: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing container: %w", err)
	}
	return nil
}

// abort closes the file without finishing it. The marker stays in place so
// the next run rebuilds the container.
func (w *containerWriter) abort() {
	w.file.Close()
}
