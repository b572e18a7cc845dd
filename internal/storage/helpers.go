package storage

import "path/filepath"

// contentType returns the MIME type for a file based on its extension.
// Archives are the only artifact this package uploads.
func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".tar":
		return "application/x-tar"
	case ".gz", ".tgz":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
