package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrForeignURL is returned when an object URL does not belong to the configured bucket.
var ErrForeignURL = errors.New("storage: url is not managed by this bucket")

type ObjectInfo struct {
	Key          string     `json:"key"`
	URL          string     `json:"url"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// Service stores uploaded profile assets in remote object storage.
type Service interface {
	// Upload stores body under a fresh key and returns its public URL.
	Upload(ctx context.Context, filename string, body io.Reader, contentType string) (string, error)
	// Delete removes the object addressed by a URL previously returned by Upload.
	Delete(ctx context.Context, objectURL string) error
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
