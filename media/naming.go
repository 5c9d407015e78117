package media

import (
	"fmt"
	"strings"
)

// defaultExt is used when a URL has no usable extension.
const defaultExt = "png"

// Extension returns the last dot-separated segment of the URL with any query
// or fragment removed, or "png" when there is none or it is longer than four
// characters.
func Extension(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	i := strings.LastIndexByte(u, '.')
	if i < 0 {
		return defaultExt
	}
	ext := u[i+1:]
	if ext == "" || len(ext) > 4 || strings.Contains(ext, "/") {
		return defaultExt
	}
	return ext
}

// SafeName makes an identifier usable as a file name stem.
func SafeName(identifier string) string {
	r := strings.NewReplacer("/", "_", `\`, "_", "\x00", "_")
	return r.Replace(identifier)
}

// ImageName is the file name of the index-th media file of an identifier.
func ImageName(identifier string, index int, rawURL string) string {
	return fmt.Sprintf("%s_%d.%s", SafeName(identifier), index, Extension(rawURL))
}

// DatasheetName is the file name of an identifier's datasheet.
func DatasheetName(identifier string) string {
	return SafeName(identifier) + ".pdf"
}
