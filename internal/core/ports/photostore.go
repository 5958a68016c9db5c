// internal/core/ports/photostore.go
package ports

import (
	"context"
	"io"
)

// PhotoStore persists photo-proof image bytes outside the draft. Keys are
// scoped by session and draft so abandoned objects can be swept.
type PhotoStore interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
