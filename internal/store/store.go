// Package store serves logical paths out of the joined containers, the
// staging area and the legacy loose-file tree.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jchantrell/magiarchive/internal/build"
	"github.com/jchantrell/magiarchive/internal/cache"
	"github.com/jchantrell/magiarchive/internal/database"
	"github.com/jchantrell/magiarchive/internal/integrity"
)

// Store is the zipped asset store
type Store struct {
	options Options
	cache   *cache.Cache
	index   *assetIndex
	handles *handleTable
	checker *integrity.Checker
	catalog *database.Database
	known   map[string]struct{}

	mu     sync.RWMutex
	staged map[string]database.StagedFile
}

// Open builds whatever containers are not finished yet, then loads the index
// of every finished container. Containers are loaded in name order, so when
// two of them hold the same path the later one wins.
func Open(ctx context.Context, options Options) (*Store, error) {
	if options.StoreDir == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}

	c := cache.CacheManager(options.StoreDir)
	s := &Store{
		options: options,
		cache:   c,
		index:   newAssetIndex(),
		handles: newHandleTable(c, options.Opener),
		known:   make(map[string]struct{}, len(options.Known404)),
		staged:  map[string]database.StagedFile{},
	}
	for _, p := range options.Known404 {
		s.known[normalizeKey(p)] = struct{}{}
	}

	if !build.ConversionFinished(c) {
		if err := s.build(ctx); err != nil {
			slog.Error("Conversion did not finish, serving what was built", "error", err)
		}
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}

	if err := s.openCatalog(ctx); err != nil {
		s.handles.closeAll()
		return nil, err
	}

	s.checker = integrity.NewChecker(checkSource{s}, s.integrityCategories())

	return s, nil
}

func (o Options) buildOptions() build.Options {
	categories := make([]build.Category, 0, len(o.Categories))
	for _, category := range o.Categories {
		categories = append(categories, build.Category{Name: category.Name, Manifest: category.Manifest})
	}
	return build.Options{
		LegacyDir:    o.LegacyDir,
		Categories:   categories,
		WebContainer: o.WebContainer,
		WebManifest:  o.WebManifest,
		Workers:      o.BuildWorkers,
	}
}

// Containers returns the names of the containers Open builds when the
// conversion is unfinished
func (o Options) Containers() []string {
	return o.buildOptions().Containers()
}

func (s *Store) build(ctx context.Context) error {
	builder := build.NewBuilder(s.cache, s.options.buildOptions())
	if s.options.BuildProgress != nil {
		builder.SetProgress(s.options.BuildProgress)
	}

	slog.Info("Converting legacy tree", "legacy_dir", s.options.LegacyDir, "store_dir", s.options.StoreDir)

	report, err := builder.Run(ctx)
	if report != nil {
		slog.Info("Conversion pass done", "built", len(report.Built), "skipped", len(report.Skipped), "failed", len(report.Failed))
	}
	return err
}

func (s *Store) loadIndex() error {
	start := time.Now()

	names, err := s.cache.ListContainers()
	if err != nil {
		return err
	}

	for _, name := range names {
		if state := build.ContainerState(s.cache, name); state != build.StateFinished {
			slog.Warn("Skipping unfinished container", "container", name, "state", state)
			continue
		}
		entries, err := loadContainerIndex(s.cache, name)
		if err != nil {
			slog.Error("Failed to index container", "container", name, "error", err)
			continue
		}
		if replaced := s.index.merge(name, entries); replaced > 0 {
			slog.Debug("Container overrides earlier entries", "container", name, "count", replaced)
		}
	}
	s.index.seal()

	slog.Info("Asset index loaded", "containers", len(names), "entries", len(s.index.paths), "duration", time.Since(start))

	return nil
}

func (s *Store) openCatalog(ctx context.Context) error {
	if s.options.CatalogPath == "" {
		return nil
	}

	db, err := database.NewDatabase(database.DefaultDatabaseOptions(s.options.CatalogPath))
	if err != nil {
		return fmt.Errorf("opening staging catalog: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return err
	}

	files, err := db.ListStagedFiles(ctx, "")
	if err != nil {
		db.Close()
		return fmt.Errorf("loading staging catalog: %w", err)
	}
	for _, f := range files {
		s.staged[f.Path] = f
	}
	s.catalog = db

	slog.Debug("Staging catalog loaded", "path", s.options.CatalogPath, "files", len(files))

	return nil
}

func (s *Store) integrityCategories() []integrity.Category {
	categories := make([]integrity.Category, 0, len(s.options.Categories)+1)
	for _, category := range s.options.Categories {
		categories = append(categories, integrity.Category{Name: category.Name, AssetLists: category.AssetLists})
	}
	if s.options.WebContainer != "" {
		categories = append(categories, integrity.Category{Name: s.options.WebContainer, WebManifest: s.options.WebManifest})
	}
	return categories
}

// Close releases container handles and the staging catalog
func (s *Store) Close() error {
	err := s.handles.closeAll()
	if s.catalog != nil {
		if cerr := s.catalog.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Len returns the number of indexed paths
func (s *Store) Len() int {
	return len(s.index.paths)
}

// Paths returns every indexed path in container, sorted
func (s *Store) Paths(container string) []string {
	return s.index.keys(container)
}

// CheckIntegrity audits one category. Concurrent calls for the same
// category share a single scan.
func (s *Store) CheckIntegrity(ctx context.Context, category string) (bool, error) {
	status, err := s.checker.Check(ctx, category)
	if err != nil {
		return false, err
	}
	return status.OK(), nil
}

// Checker exposes the integrity checker for callers that want full counts
func (s *Store) Checker() *integrity.Checker {
	return s.checker
}

// checkSource adapts Store to integrity.Source
type checkSource struct {
	s *Store
}

func (c checkSource) Lookup(path string) (integrity.Entry, bool) {
	key, loc, ok := c.s.resolve(path)
	return integrity.Entry{Key: key, CRC32: loc.CRC32}, ok
}

func (c checkSource) Read(path string) ([]byte, bool) {
	return c.s.Read(path, false)
}

func (c checkSource) Manifest(path string) ([]byte, bool) {
	return c.s.ReadFile(path, false)
}

func (c checkSource) Keys(container string) []string {
	return c.s.Paths(container)
}
