// Package manifest turns the JSON lists shipped with the game data into typed
// records. Nothing past this package sees untyped JSON.
package manifest

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// FilePart is one downloadable piece of an asset list entry.
type FilePart struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// AssetEntry is one record of an asset list such as asset_main.json.
type AssetEntry struct {
	Path     string     `json:"path"`
	MD5      string     `json:"md5"`
	FileList []FilePart `json:"file_list"`
}

// ParseAssetList decodes an asset list. Entries without a path are dropped;
// paths are cleaned and md5 sums lower-cased.
func ParseAssetList(data []byte) ([]AssetEntry, error) {
	var raw []AssetEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding asset list: %w", err)
	}

	entries := make([]AssetEntry, 0, len(raw))
	for i, entry := range raw {
		if entry.Path == "" {
			continue
		}
		cleaned, err := CleanPath(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("asset list entry %d: %w", i, err)
		}
		entry.Path = cleaned
		entry.MD5 = strings.ToLower(entry.MD5)
		entries = append(entries, entry)
	}
	return entries, nil
}

// ParsePathList decodes a JSON array of logical paths, the format of both
// sub-archive manifests and the web resource manifest. Order is preserved;
// it decides the layout of the joined container.
func ParsePathList(data []byte) ([]string, error) {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding path list: %w", err)
	}

	paths := make([]string, 0, len(raw))
	for i, p := range raw {
		cleaned, err := CleanPath(p)
		if err != nil {
			return nil, fmt.Errorf("path list entry %d: %w", i, err)
		}
		paths = append(paths, cleaned)
	}
	return paths, nil
}

// CleanPath normalizes a logical path: forward slashes, no leading slash, no
// "." or ".." segments. Paths escaping the root are rejected.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes the asset root", p)
	}
	return cleaned, nil
}
