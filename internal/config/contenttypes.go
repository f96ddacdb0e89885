package config

import (
	"fmt"
	"strings"
)

// defaultContentTypes maps file extensions the game client requests to the
// Content-Type the upstream servers answered with.
var defaultContentTypes = map[string]string{
	".html":       "text/html",
	".htm":        "text/html",
	".css":        "text/css",
	".js":         "application/javascript",
	".json":       "application/json",
	".txt":        "text/plain",
	".xml":        "application/xml",
	".png":        "image/png",
	".jpg":        "image/jpeg",
	".jpeg":       "image/jpeg",
	".gif":        "image/gif",
	".svg":        "image/svg+xml",
	".ico":        "image/x-icon",
	".mp3":        "audio/mpeg",
	".mp4":        "video/mp4",
	".woff":       "font/woff",
	".woff2":      "font/woff2",
	".ttf":        "font/ttf",
	".zip":        "application/zip",
	".gz":         "application/gzip",
	".hca":        "application/octet-stream",
	".usm":        "application/octet-stream",
	".acb":        "application/octet-stream",
	".awb":        "application/octet-stream",
	".plist":      "application/xml",
	".ExportJson": "application/json",
}

// DefaultContentTypes returns a copy of the built-in extension table.
func DefaultContentTypes() map[string]string {
	out := make(map[string]string, len(defaultContentTypes))
	for ext, contentType := range defaultContentTypes {
		out[strings.ToLower(ext)] = contentType
	}
	return out
}

// validateContentTypes ensures every configured extension is a bare suffix
// (viper splits keys on dots, so "png" rather than ".png") mapped to a
// non-empty type.
func validateContentTypes(contentTypes map[string]string) error {
	for ext, contentType := range contentTypes {
		if ext == "" || strings.Contains(ext, ".") {
			return fmt.Errorf("extension '%s' must be given without dots", ext)
		}
		if contentType == "" {
			return fmt.Errorf("extension '%s' has an empty content type", ext)
		}
	}
	return nil
}

// mergeContentTypes overlays configured entries on the defaults. Extensions
// are lower-cased; lookups lower-case too.
func mergeContentTypes(configured map[string]string) map[string]string {
	out := DefaultContentTypes()
	for ext, contentType := range configured {
		out["."+strings.ToLower(ext)] = contentType
	}
	return out
}
