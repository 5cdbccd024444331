package objectstore

import (
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultContentType is used when neither the extension nor the content is recognized.
const DefaultContentType = "application/octet-stream"

// fixed types for the files a wheelhouse holds; the system mime table varies by host.
var builtinTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".whl":  "application/zip",
	".txt":  "text/plain; charset=utf-8",
	".json": "application/json",
}

// ContentTypeFor infers a content type from the key's extension.
// It returns "" when the extension is unknown.
func ContentTypeFor(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ext == "" {
		return ""
	}
	if ct, ok := builtinTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

// detectFileType prefers the extension and falls back to sniffing the file.
func detectFileType(localPath, key string) string {
	if ct := ContentTypeFor(key); ct != "" {
		return ct
	}
	mt, err := mimetype.DetectFile(localPath)
	if err != nil || mt == nil {
		return DefaultContentType
	}
	return mt.String()
}
