// Package integrity audits the content of the zipped store against the
// checksums it is expected to carry.
//
// A check of one category covers three domains, assembled before any entry
// is read:
//
//   - entries declared by the category's asset lists, verified by md5
//   - entries declared by the web resource manifest, verified by CRC-32
//   - every other entry indexed in the category's container, verified by
//     CRC-32 as a readability smoke test
//
// Concurrent checks of the same category share one scan.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jchantrell/magiarchive/internal/checksum"
	"github.com/jchantrell/magiarchive/internal/manifest"
)

// ErrUnknownCategory is returned by Check for a category it was not configured with.
var ErrUnknownCategory = errors.New("unknown category")

// Entry is what the store knows about one indexed path.
type Entry struct {
	// Key is the canonical indexed path.
	Key   string
	CRC32 uint32
}

// Source is the read side of the store the checker audits.
type Source interface {
	// Lookup resolves path to its indexed entry.
	Lookup(path string) (Entry, bool)
	// Read extracts the stored bytes of path without verifying them.
	Read(path string) ([]byte, bool)
	// Manifest returns the bytes of a manifest file from wherever it lives.
	Manifest(path string) ([]byte, bool)
	// Keys lists the paths indexed in container.
	Keys(container string) []string
}

// Category names what to audit for one container.
type Category struct {
	// Name is the container name.
	Name string
	// AssetLists are asset list manifests declaring md5 sums.
	AssetLists []string
	// WebManifest is a path list manifest whose entries carry no md5.
	WebManifest string
}

// Status is the outcome of one scan.
type Status struct {
	Category      string
	Passed        int
	Missing       int
	MD5Mismatch   int
	CRC32Mismatch int
	Duration      time.Duration
}

// OK reports whether the scan found nothing missing or mismatched.
func (s Status) OK() bool {
	return s.Missing == 0 && s.MD5Mismatch == 0 && s.CRC32Mismatch == 0
}

// Checker runs integrity scans.
type Checker struct {
	source     Source
	categories map[string]Category

	group singleflight.Group
	scans atomic.Int64
	// callers registered with a scan and waiting for its result
	waiting atomic.Int64
}

// NewChecker creates a checker auditing source.
func NewChecker(source Source, categories []Category) *Checker {
	c := &Checker{
		source:     source,
		categories: make(map[string]Category, len(categories)),
	}
	for _, category := range categories {
		c.categories[category.Name] = category
	}
	return c
}

// Categories returns the configured category names, sorted.
func (c *Checker) Categories() []string {
	names := make([]string, 0, len(c.categories))
	for name := range c.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check audits category. A caller arriving while a scan of the same category
// is running waits for that scan and receives its result.
func (c *Checker) Check(ctx context.Context, category string) (Status, error) {
	cat, ok := c.categories[category]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	// DoChan has registered the caller by the time it returns
	ch := c.group.DoChan(category, func() (any, error) {
		return c.scan(ctx, cat)
	})
	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	res := <-ch
	if res.Err != nil {
		return Status{}, res.Err
	}
	if res.Shared {
		slog.Debug("Joined in-flight integrity check", "category", category)
	}
	return res.Val.(Status), nil
}

// Scans returns how many scans have been started.
func (c *Checker) Scans() int64 {
	return c.scans.Load()
}

type md5Target struct {
	path string
	md5  string
}

// domains assembles the three sets checked by a scan.
func (c *Checker) domains(cat Category) ([]md5Target, []string, []string, error) {
	claimed := map[string]struct{}{}
	claim := func(path string) {
		if entry, ok := c.source.Lookup(path); ok {
			claimed[entry.Key] = struct{}{}
		}
	}

	var declared []md5Target
	for _, list := range cat.AssetLists {
		data, ok := c.source.Manifest(list)
		if !ok {
			return nil, nil, nil, fmt.Errorf("asset list %s not found", list)
		}
		entries, err := manifest.ParseAssetList(data)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("asset list %s: %w", list, err)
		}
		for _, e := range entries {
			if e.MD5 == "" {
				continue
			}
			declared = append(declared, md5Target{path: e.Path, md5: e.MD5})
			claim(e.Path)
		}
	}

	var web []string
	if cat.WebManifest != "" {
		data, ok := c.source.Manifest(cat.WebManifest)
		if !ok {
			return nil, nil, nil, fmt.Errorf("web manifest %s not found", cat.WebManifest)
		}
		paths, err := manifest.ParsePathList(data)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("web manifest %s: %w", cat.WebManifest, err)
		}
		for _, p := range paths {
			web = append(web, p)
			claim(p)
		}
	}

	var extra []string
	for _, key := range c.source.Keys(cat.Name) {
		if _, ok := claimed[key]; !ok {
			extra = append(extra, key)
		}
	}

	return declared, web, extra, nil
}

func (c *Checker) scan(ctx context.Context, cat Category) (Status, error) {
	c.scans.Add(1)
	start := time.Now()

	declared, web, extra, err := c.domains(cat)
	if err != nil {
		return Status{}, fmt.Errorf("assembling integrity domains for %s: %w", cat.Name, err)
	}

	slog.Info("Checking integrity", "category", cat.Name, "declared", len(declared), "web", len(web), "extra", len(extra))

	status := Status{Category: cat.Name}
	for _, t := range declared {
		c.checkMD5(&status, t)
	}
	for _, p := range web {
		c.checkCRC32(&status, p)
	}
	for _, p := range extra {
		c.checkCRC32(&status, p)
	}
	status.Duration = time.Since(start)

	level := slog.LevelInfo
	if !status.OK() {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "Integrity check finished",
		"category", cat.Name,
		"passed", status.Passed,
		"missing", status.Missing,
		"md5_mismatch", status.MD5Mismatch,
		"crc32_mismatch", status.CRC32Mismatch,
		"duration", status.Duration,
	)

	return status, nil
}

func (c *Checker) checkMD5(status *Status, t md5Target) {
	data, ok := c.source.Read(t.path)
	if !ok {
		slog.Debug("Declared entry missing", "path", t.path)
		status.Missing++
		return
	}
	if got := checksum.MD5Hex(data); got != t.md5 {
		slog.Warn("MD5 mismatch", "path", t.path, "expected", t.md5, "actual", got)
		status.MD5Mismatch++
		return
	}
	status.Passed++
}

func (c *Checker) checkCRC32(status *Status, path string) {
	entry, ok := c.source.Lookup(path)
	if !ok {
		slog.Debug("Entry missing", "path", path)
		status.Missing++
		return
	}
	data, ok := c.source.Read(path)
	if !ok {
		status.Missing++
		return
	}
	if got := checksum.CRC32(data); got != entry.CRC32 {
		slog.Warn("CRC-32 mismatch", "path", path, "expected", fmt.Sprintf("%08x", entry.CRC32), "actual", fmt.Sprintf("%08x", got))
		status.CRC32Mismatch++
		return
	}
	status.Passed++
}
