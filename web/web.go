// Package web holds the built-in viewer page. The gateway serves it at / when
// no index file is configured on disk.
package web

import (
	"embed"
	"io/fs"
)

//go:embed index.html
var files embed.FS

// IndexName is the file name of the embedded viewer.
const IndexName = "index.html"

// FS returns the embedded viewer files.
func FS() fs.FS {
	return files
}
