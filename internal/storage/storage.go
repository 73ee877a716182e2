package storage

import (
	"context"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Uploader stores a blob and returns the URL it is publicly served from.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// ObjectKey builds a collision-free key under the upload prefix, keeping the
// extension of the original file name.
func ObjectKey(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.TrimSpace(filename)), "."))
	if ext == "" || len(ext) > 8 || strings.ContainsAny(ext, "/\\ ") {
		ext = "jpg"
	}
	return "op/" + uuid.NewString() + "." + ext
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
