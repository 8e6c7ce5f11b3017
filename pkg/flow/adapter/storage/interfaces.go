// Package storage defines the object storage used to ship archived jobs out of the database.
package storage

import (
	"context"
	"io"
)

// StorageConnection is an object store. For the local adapter a bucket is a
// directory under the base directory; an empty bucket means the configured default.
type StorageConnection interface {
	// Upload writes data to bucket/objectName. contentType is the MIME type of the data.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens bucket/objectName. The caller closes the returned reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes bucket/objectName. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
	// Close releases the client.
	Close() error
	// Type returns the adapter type ("local" or "gcs").
	Type() string
	// Name returns the connection name.
	Name() string
}
