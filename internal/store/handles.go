package store

import (
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/jchantrell/magiarchive/internal/cache"
)

func openFile(path string) (ContainerFile, error) {
	return os.Open(path)
}

// handleTable shares one open file per container between all readers. A
// reader that hits an I/O fault drops the handle it used; the next reader
// opens a fresh one.
type handleTable struct {
	cache *cache.Cache
	open  Opener

	mu      sync.Mutex
	handles map[string]ContainerFile
}

func newHandleTable(c *cache.Cache, open Opener) *handleTable {
	if open == nil {
		open = openFile
	}
	return &handleTable{cache: c, open: open, handles: map[string]ContainerFile{}}
}

// get returns the handle for container, opening it if needed
func (t *handleTable) get(container string) (ContainerFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.handles[container]; ok {
		return h, nil
	}
	h, err := t.open(t.cache.GetContainerPath(container))
	if err != nil {
		return nil, err
	}
	t.handles[container] = h
	return h, nil
}

// drop closes h and forgets it, unless another reader already replaced it
func (t *handleTable) drop(container string, h ContainerFile) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.handles[container]; !ok || cur != h {
		return
	}
	delete(t.handles, container)
	if err := h.Close(); err != nil {
		slog.Debug("Closing faulted container handle", "container", container, "error", err)
	}
}

func (t *handleTable) closeAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for name, h := range t.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(t.handles, name)
	}
	return errors.Join(errs...)
}
