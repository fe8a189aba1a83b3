package preview

import (
	"mime"
	"path/filepath"
	"strings"
)

// UnknownType is reported for names whose extension maps to no media type.
const UnknownType = "unknown"

// Extensions registered on top of the system mime table, so classification
// does not depend on what the host happens to ship in /etc/mime.types.
var extensionTypes = map[string]string{
	".txt":  "text/plain",
	".log":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".py":   "text/x-python",
	".c":    "text/x-csrc",
	".h":    "text/x-chdr",
	".cpp":  "text/x-c++src",
	".hpp":  "text/x-c++hdr",
	".go":   "text/x-go",
	".sh":   "text/x-shellscript",
	".yaml": "text/yaml",
	".yml":  "text/yaml",
	".json": "application/json",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
}

// Image types the thumbnailer can decode.
var decodableImages = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

func init() {
	for ext, typ := range extensionTypes {
		_ = mime.AddExtensionType(ext, typ)
	}
}

// MediaType guesses the media type of a file from its extension, without
// parameters. It returns UnknownType when nothing matches.
func MediaType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return UnknownType
	}
	typ := mime.TypeByExtension(ext)
	if typ == "" {
		return UnknownType
	}
	if base, _, err := mime.ParseMediaType(typ); err == nil {
		return base
	}
	return typ
}

// Classify returns the preview kind a file with this name would get.
func Classify(name string) Kind {
	typ := MediaType(name)
	switch {
	case decodableImages[typ]:
		return KindThumbnail
	case typ != UnknownType && strings.Contains(typ, "text"):
		return KindText
	default:
		return KindNone
	}
}
