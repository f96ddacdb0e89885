package build

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jchantrell/magiarchive/internal/cache"
	"github.com/jchantrell/magiarchive/internal/testutil"
	"github.com/jchantrell/magiarchive/internal/zipfmt"
)

type fixture struct {
	legacy string
	cache  *cache.Cache
	opts   Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	legacy := filepath.Join(root, "static")

	testutil.WriteZip(t, filepath.Join(legacy, "res/one.zip"),
		testutil.ZipFile{Name: "a.txt", Data: []byte("hello"), Method: zip.Store})
	testutil.WriteZip(t, filepath.Join(legacy, "res/two.zip"),
		testutil.ZipFile{Name: "img/", Method: zip.Store},
		testutil.ZipFile{Name: "img/b.json", Data: []byte(strings.Repeat("{}", 64)), Method: zip.Deflate},
		testutil.ZipFile{Name: "img/c.png", Data: []byte("png!"), Method: zip.Store})
	testutil.WriteJSON(t, legacy, "lists/main.json", []string{"res/one.zip", "res/two.zip", "res/missing.zip"})

	testutil.WriteFile(t, legacy, "magica/index.html", []byte(strings.Repeat("<div></div>", 50)))
	testutil.WriteFile(t, legacy, "magica/x.bin", []byte{1})
	testutil.WriteJSON(t, legacy, "lists/web.json", []string{"magica/index.html", "magica/x.bin"})

	return &fixture{
		legacy: legacy,
		cache:  cache.CacheManager(filepath.Join(root, "zipped")),
		opts: Options{
			LegacyDir:    legacy,
			Categories:   []Category{{Name: "asset_main", Manifest: "lists/main.json"}},
			WebContainer: "web_res",
			WebManifest:  "lists/web.json",
			Workers:      2,
		},
	}
}

func (f *fixture) run(t *testing.T) (*Report, error) {
	t.Helper()
	return NewBuilder(f.cache, f.opts).Run(context.Background())
}

// readAll opens a container with the standard library reader and returns
// every entry's content, checking CRCs along the way.
func readAll(t *testing.T, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer zr.Close()

	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("%s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("%s: %v", f.Name, err)
		}
		out[f.Name] = data
	}
	return out
}

func TestBuildJoinsSubArchivesAndWebResources(t *testing.T) {
	f := newFixture(t)
	report, err := f.run(t)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(report.Built) != 2 || len(report.Skipped) != 0 {
		t.Errorf("report = %+v", report)
	}
	if !ConversionFinished(f.cache) {
		t.Error("conversion marker still present")
	}

	main := readAll(t, f.cache.GetContainerPath("asset_main"))
	oneZip, _ := os.ReadFile(filepath.Join(f.legacy, "res/one.zip"))
	twoZip, _ := os.ReadFile(filepath.Join(f.legacy, "res/two.zip"))
	want := map[string][]byte{
		"res/one.zip": oneZip,
		"res/two.zip": twoZip,
		"a.txt":       []byte("hello"),
		"img/b.json":  []byte(strings.Repeat("{}", 64)),
		"img/c.png":   []byte("png!"),
	}
	if len(main) != len(want) {
		t.Errorf("asset_main has %d entries, want %d", len(main), len(want))
	}
	for name, data := range want {
		if !bytes.Equal(main[name], data) {
			t.Errorf("asset_main %s = %q, want %q", name, main[name], data)
		}
	}

	web := readAll(t, f.cache.GetContainerPath("web_res"))
	if !bytes.Equal(web["magica/index.html"], []byte(strings.Repeat("<div></div>", 50))) {
		t.Error("index.html content mismatch")
	}

	zr, err := zip.OpenReader(f.cache.GetContainerPath("web_res"))
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	methods := map[string]uint16{}
	for _, file := range zr.File {
		methods[file.Name] = file.Method
	}
	if methods["magica/index.html"] != zipfmt.MethodDeflate {
		t.Errorf("index.html method = %d, want deflate", methods["magica/index.html"])
	}
	if methods["magica/x.bin"] != zipfmt.MethodStored {
		t.Errorf("x.bin method = %d, want stored", methods["magica/x.bin"])
	}
}

func TestBuildSkipsFinishedContainers(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t); err != nil {
		t.Fatal(err)
	}
	before, _ := os.Stat(f.cache.GetContainerPath("asset_main"))

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if len(report.Built) != 0 || len(report.Skipped) != 2 {
		t.Errorf("second report = %+v", report)
	}
	after, _ := os.Stat(f.cache.GetContainerPath("asset_main"))
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("finished container was rewritten")
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t); err != nil {
		t.Fatal(err)
	}
	first := map[string][]byte{}
	for _, name := range []string{"asset_main", "web_res"} {
		data, err := os.ReadFile(f.cache.GetContainerPath(name))
		if err != nil {
			t.Fatal(err)
		}
		first[name] = data
		os.Remove(f.cache.GetContainerPath(name))
	}

	if _, err := f.run(t); err != nil {
		t.Fatal(err)
	}
	for name, data := range first {
		again, err := os.ReadFile(f.cache.GetContainerPath(name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(again, data) {
			t.Errorf("%s differs between builds", name)
		}
	}
}

func TestBuildConflictLeavesContainerUnfinished(t *testing.T) {
	f := newFixture(t)
	testutil.WriteZip(t, filepath.Join(f.legacy, "res/dup.zip"),
		testutil.ZipFile{Name: "a.txt", Data: []byte("other"), Method: zip.Store})
	testutil.WriteJSON(t, f.legacy, "lists/main.json", []string{"res/one.zip", "res/dup.zip"})

	report, err := f.run(t)
	if !errors.Is(err, zipfmt.ErrConflict) {
		t.Fatalf("Run() error = %v, want ErrConflict", err)
	}
	if _, ok := report.Failed["asset_main"]; !ok {
		t.Errorf("asset_main not reported as failed: %+v", report)
	}
	if got := ContainerState(f.cache, "asset_main"); got != StateBuilding {
		t.Errorf("asset_main state = %v, want building", got)
	}
	if got := ContainerState(f.cache, "web_res"); got != StateFinished {
		t.Errorf("web_res state = %v, want finished", got)
	}
	if ConversionFinished(f.cache) {
		t.Error("conversion reported finished after a failed container")
	}
}

func TestBuildRebuildsUnfinishedContainer(t *testing.T) {
	f := newFixture(t)
	if err := f.cache.EnsureDir(f.cache.GetMarkerPath("asset_main")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.cache.GetContainerPath("asset_main"), []byte("half written"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := ContainerState(f.cache, "asset_main"); got != StateBuilding {
		t.Fatalf("state = %v, want building", got)
	}

	report, err := f.run(t)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Built) != 2 {
		t.Errorf("report = %+v", report)
	}
	if got := readAll(t, f.cache.GetContainerPath("asset_main")); string(got["a.txt"]) != "hello" {
		t.Errorf("rebuilt a.txt = %q", got["a.txt"])
	}
}

func TestBuildSkipsCorruptSubArchive(t *testing.T) {
	f := newFixture(t)
	testutil.WriteFile(t, f.legacy, "res/broken.zip", []byte("not a zip at all, just some bytes"))
	testutil.WriteJSON(t, f.legacy, "lists/main.json", []string{"res/broken.zip", "res/one.zip"})

	if _, err := f.run(t); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	got := readAll(t, f.cache.GetContainerPath("asset_main"))
	if _, ok := got["res/broken.zip"]; ok {
		t.Error("corrupt sub-archive was joined")
	}
	if string(got["a.txt"]) != "hello" {
		t.Errorf("a.txt = %q", got["a.txt"])
	}
}

func TestBuildEmptySubArchive(t *testing.T) {
	f := newFixture(t)
	testutil.WriteZip(t, filepath.Join(f.legacy, "res/empty.zip"))
	testutil.WriteJSON(t, f.legacy, "lists/main.json", []string{"res/empty.zip"})

	if _, err := f.run(t); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	empty, _ := os.ReadFile(filepath.Join(f.legacy, "res/empty.zip"))
	got := readAll(t, f.cache.GetContainerPath("asset_main"))
	if !bytes.Equal(got["res/empty.zip"], empty) {
		t.Errorf("empty.zip = %q, want %q", got["res/empty.zip"], empty)
	}
}

func TestStateString(t *testing.T) {
	if StateFinished.String() != "finished" || State(9).String() != "unknown(9)" {
		t.Error("unexpected State strings")
	}
}

func TestContainersMatchBuildTargets(t *testing.T) {
	tests := []struct {
		name         string
		webContainer string
		webManifest  string
		want         []string
	}{
		{"web joined", "web_res", "lists/web.json", []string{"asset_main", "asset_voice", "web_res"}},
		{"no web manifest", "web_res", "", []string{"asset_main", "asset_voice"}},
		{"no web container", "", "lists/web.json", []string{"asset_main", "asset_voice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			options := Options{
				Categories:   []Category{{Name: "asset_main"}, {Name: "asset_voice"}},
				WebContainer: tt.webContainer,
				WebManifest:  tt.webManifest,
			}
			got := options.Containers()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Containers() = %v, want %v", got, tt.want)
			}

			var names []string
			for _, target := range NewBuilder(nil, options).targets() {
				names = append(names, target.name)
			}
			if !reflect.DeepEqual(names, got) {
				t.Errorf("build targets = %v, Containers() = %v", names, got)
			}
		})
	}
}
