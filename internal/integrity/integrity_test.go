package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jchantrell/magiarchive/internal/checksum"
	"github.com/jchantrell/magiarchive/internal/manifest"
	"github.com/jchantrell/magiarchive/internal/testutil"
)

type fakeSource struct {
	files     map[string][]byte
	crcs      map[string]uint32
	container map[string]string
	manifests map[string][]byte

	// block, when set, is waited on by the first Read.
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		files:     map[string][]byte{},
		crcs:      map[string]uint32{},
		container: map[string]string{},
		manifests: map[string][]byte{},
	}
}

func (f *fakeSource) add(container, path string, data []byte) {
	f.files[path] = data
	f.crcs[path] = checksum.CRC32(data)
	f.container[path] = container
}

func (f *fakeSource) manifest(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	f.manifests[path] = data
}

func (f *fakeSource) Lookup(path string) (Entry, bool) {
	path = strings.TrimPrefix(path, "prefix/")
	crc, ok := f.crcs[path]
	return Entry{Key: path, CRC32: crc}, ok
}

func (f *fakeSource) Read(path string) ([]byte, bool) {
	if f.block != nil {
		f.once.Do(func() {
			close(f.started)
			<-f.block
		})
	}
	data, ok := f.files[strings.TrimPrefix(path, "prefix/")]
	return data, ok
}

func (f *fakeSource) Manifest(path string) ([]byte, bool) {
	data, ok := f.manifests[path]
	return data, ok
}

func (f *fakeSource) Keys(container string) []string {
	var keys []string
	for k, c := range f.container {
		if c == container {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func TestCheckCountsEveryDomain(t *testing.T) {
	src := newFakeSource()
	src.add("asset_main", "image/a.png", []byte("a"))
	src.add("asset_main", "image/b.png", []byte("b"))
	src.add("asset_main", "sound/c.hca", []byte("c"))
	src.add("asset_main", "res/extra.zip", []byte("zip"))
	src.manifest(t, "lists/asset_main.json", []manifest.AssetEntry{
		{Path: "prefix/image/a.png", MD5: checksum.MD5Hex([]byte("a"))},
		{Path: "image/b.png", MD5: checksum.MD5Hex([]byte("not b"))},
		{Path: "image/gone.png", MD5: checksum.MD5Hex([]byte("gone"))},
		{Path: "sound/c.hca"},
	})

	c := NewChecker(src, []Category{{Name: "asset_main", AssetLists: []string{"lists/asset_main.json"}}})
	status, err := c.Check(context.Background(), "asset_main")
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}

	// a.png passes by md5; c.hca has no md5 and res/extra.zip is unclaimed,
	// so both are checked by CRC-32 and pass.
	if status.Passed != 3 || status.MD5Mismatch != 1 || status.Missing != 1 || status.CRC32Mismatch != 0 {
		t.Errorf("status = %+v", status)
	}
	if status.OK() {
		t.Error("status with mismatches reported OK")
	}
}

func TestCheckWebResources(t *testing.T) {
	src := newFakeSource()
	src.add("web_res", "magica/index.html", []byte("<html>"))
	src.add("web_res", "magica/app.js", []byte("js"))
	src.manifest(t, "lists/web.json", []string{"magica/index.html", "magica/app.js"})

	c := NewChecker(src, []Category{{Name: "web_res", WebManifest: "lists/web.json"}})
	status, err := c.Check(context.Background(), "web_res")
	if err != nil {
		t.Fatal(err)
	}
	if !status.OK() || status.Passed != 2 {
		t.Errorf("status = %+v", status)
	}

	// Corrupt one entry behind the index's back.
	src.files["magica/app.js"] = []byte("JS")
	status, err = c.Check(context.Background(), "web_res")
	if err != nil {
		t.Fatal(err)
	}
	if status.CRC32Mismatch != 1 || status.OK() {
		t.Errorf("status after corruption = %+v", status)
	}
}

func TestCheckErrors(t *testing.T) {
	c := NewChecker(newFakeSource(), []Category{{Name: "asset_main", AssetLists: []string{"missing.json"}}})

	if _, err := c.Check(context.Background(), "voice"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("unknown category: error = %v", err)
	}
	if _, err := c.Check(context.Background(), "asset_main"); err == nil {
		t.Error("missing asset list did not fail the check")
	}
}

func TestConcurrentChecksShareOneScan(t *testing.T) {
	src := newFakeSource()
	src.add("asset_main", "a.txt", []byte("hello"))
	src.block = make(chan struct{})
	src.started = make(chan struct{})

	c := NewChecker(src, []Category{{Name: "asset_main"}})

	type result struct {
		status Status
		err    error
	}
	results := make(chan result, 2)
	check := func() {
		status, err := c.Check(context.Background(), "asset_main")
		results <- result{status, err}
	}

	go check()
	testutil.RequireClosed(t, src.started, 5*time.Second, "first scan never started")

	// The scan is parked in Read, so a second registered caller can only
	// have joined it.
	go check()
	deadline := time.Now().Add(5 * time.Second)
	for c.waiting.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second caller never joined the running scan")
		}
		time.Sleep(time.Millisecond)
	}
	if got := c.Scans(); got != 1 {
		t.Fatalf("Scans() with both callers waiting = %d, want 1", got)
	}
	close(src.block)

	first := testutil.RequireReceive(t, results, 5*time.Second, "first check")
	second := testutil.RequireReceive(t, results, 5*time.Second, "second check")
	if first.err != nil || second.err != nil {
		t.Fatalf("errors: %v, %v", first.err, second.err)
	}
	if first.status != second.status || !first.status.OK() {
		t.Errorf("statuses differ: %+v vs %+v", first.status, second.status)
	}
	if got := c.Scans(); got != 1 {
		t.Errorf("Scans() = %d, want 1", got)
	}

	// Once the scan is done, a new call starts a new one.
	if _, err := c.Check(context.Background(), "asset_main"); err != nil {
		t.Fatal(err)
	}
	if got := c.Scans(); got != 2 {
		t.Errorf("Scans() after a later check = %d, want 2", got)
	}
}
