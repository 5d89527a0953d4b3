package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

var ErrNotFound = errors.New("stored image not found")

// ImageStore persists uploaded image bytes and hands back a stable reference
// (a public path or URL) that Open and Delete accept.
type ImageStore interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// ObjectName builds a collision-resistant storage name:
// <UTC yyyymmdd_hhmmss>_<8 hex>_<slugged base>.<ext>
func ObjectName(original string, now time.Time) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(original), "."))
	base := slug.Make(strings.TrimSuffix(path.Base(original), path.Ext(original)))
	if base == "" {
		base = "image"
	}
	name := fmt.Sprintf("%s_%s_%s", now.UTC().Format("20060102_150405"), uuid.NewString()[:8], base)
	if ext != "" {
		name += "." + ext
	}
	return name
}

// keyFromRef strips prefix from ref and rejects anything that is not a
// single path element.
func keyFromRef(prefix, ref string) (string, error) {
	key := strings.TrimPrefix(ref, strings.TrimSuffix(prefix, "/")+"/")
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, ErrNotFound)
	}
	return key, nil
}
