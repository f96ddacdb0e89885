// Package build converts the legacy loose-file tree into joined containers.
//
// Every container goes through the states of marker.go: a marker directory
// is created before the container is opened for writing and removed only
// after it has been flushed, synced and closed. A crash at any point leaves
// the marker behind and the next run rebuilds that container from scratch;
// offsets inside a half-written container are never trusted.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jchantrell/magiarchive/internal/cache"
)

// Category is one group of sub-archives joined into a single container.
type Category struct {
	Name     string
	Manifest string
}

// Options configures a Builder.
type Options struct {
	LegacyDir    string
	Categories   []Category
	WebContainer string
	WebManifest  string
	// Workers bounds how many containers are written at once.
	Workers int
}

func (o Options) joinsWeb() bool {
	return o.WebContainer != "" && o.WebManifest != ""
}

// Containers returns the names of the containers a Run covers, categories
// first.
func (o Options) Containers() []string {
	names := make([]string, 0, len(o.Categories)+1)
	for _, category := range o.Categories {
		names = append(names, category.Name)
	}
	if o.joinsWeb() {
		names = append(names, o.WebContainer)
	}
	return names
}

// ProgressCallback is called once per container as it is finished or skipped
type ProgressCallback func(current int, total int, description string)

// Report summarizes one Run.
type Report struct {
	Built   []string
	Skipped []string
	Failed  map[string]error
}

// Builder runs the conversion.
type Builder struct {
	cache    *cache.Cache
	options  Options
	progress ProgressCallback
}

// NewBuilder creates a builder writing into the store managed by c.
func NewBuilder(c *cache.Cache, options Options) *Builder {
	if options.Workers < 1 {
		options.Workers = 1
	}
	return &Builder{cache: c, options: options}
}

// SetProgress installs a progress callback.
func (b *Builder) SetProgress(progress ProgressCallback) {
	b.progress = progress
}

type target struct {
	name string
	join func(w *containerWriter) error
}

func (b *Builder) targets() []target {
	var targets []target
	for _, category := range b.options.Categories {
		targets = append(targets, target{
			name: category.Name,
			join: func(w *containerWriter) error {
				sources, err := DiscoverSources(b.options.LegacyDir, category.Manifest)
				if err != nil {
					return err
				}
				return joinSubArchives(w, sources)
			},
		})
	}
	if b.options.joinsWeb() {
		targets = append(targets, target{
			name: b.options.WebContainer,
			join: func(w *containerWriter) error {
				sources, err := DiscoverSources(b.options.LegacyDir, b.options.WebManifest)
				if err != nil {
					return err
				}
				return joinWebResources(w, sources)
			},
		})
	}
	return targets
}

// Run builds every container that is not finished yet. Containers are
// independent, so a failure in one is recorded and the others carry on. The
// conversion marker is cleared only when all containers are finished.
func (b *Builder) Run(ctx context.Context) (*Report, error) {
	if err := BeginConversion(b.cache); err != nil {
		return nil, err
	}

	targets := b.targets()
	report := &Report{Failed: map[string]error{}}

	var (
		mu   sync.Mutex
		done int
	)
	record := func(name string, built bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			report.Failed[name] = err
		case built:
			report.Built = append(report.Built, name)
		default:
			report.Skipped = append(report.Skipped, name)
		}
		done++
		if b.progress != nil {
			b.progress(done, len(targets), name)
		}
	}

	var g errgroup.Group
	g.SetLimit(b.options.Workers)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(t.name, false, err)
				return nil
			}
			built, err := b.buildContainer(t)
			record(t.name, built, err)
			return nil
		})
	}
	g.Wait()

	if len(report.Failed) > 0 {
		var errs []error
		for name, err := range report.Failed {
			errs = append(errs, fmt.Errorf("container %s: %w", name, err))
		}
		return report, errors.Join(errs...)
	}

	if err := FinishConversion(b.cache); err != nil {
		return report, err
	}
	return report, nil
}

// buildContainer runs one container through ABSENT/BUILDING -> FINISHED.
// It reports false without touching anything if the container is finished.
func (b *Builder) buildContainer(t target) (bool, error) {
	state := ContainerState(b.cache, t.name)
	if state == StateFinished {
		slog.Debug("Container already finished", "container", t.name)
		return false, nil
	}

	start := time.Now()
	slog.Info("Building container", "container", t.name, "state", state)

	if err := beginContainer(b.cache, t.name); err != nil {
		return false, err
	}

	w, err := createContainer(b.cache.GetContainerPath(t.name))
	if err != nil {
		return false, err
	}

	if err := t.join(w); err != nil {
		w.abort()
		slog.Error("Container build failed", "container", t.name, "error", err)
		return false, err
	}

	if err := w.finish(); err != nil {
		return false, err
	}

	if err := finishContainer(b.cache, t.name); err != nil {
		return false, err
	}

	slog.Info("Container finished", "container", t.name, "entries", w.entries, "bytes", w.offset, "duration", time.Since(start))

	return true, nil
}
