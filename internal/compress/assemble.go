package compress

import (
	"path"
	"strings"
)

var extensionForType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Assemble wraps encoded bytes into a new File named after the original with
// its last extension replaced by the one matching mimeType.
func Assemble(data []byte, originalName, mimeType string) *File {
	return &File{
		Name: renameFor(originalName, mimeType),
		Type: mimeType,
		Data: data,
	}
}

func renameFor(name, mimeType string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	if base == "" || strings.HasSuffix(base, "/") {
		base += "image"
	}

	ext, ok := extensionForType[mimeType]
	if !ok {
		ext = "." + strings.TrimPrefix(mimeType, "image/")
	}
	return base + ext
}
