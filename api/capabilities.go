// File: api/capabilities.go
// Author: momentics <momentics@gmail.com>
//
// Collaborator contracts supplied to the server at construction time.

package api

import (
	"context"
	"crypto/tls"
)

// CertificateProvider supplies the server TLS configuration.
type CertificateProvider interface {
	Load() (*tls.Config, error)
}

// BlobStore is a shared, concurrency-safe blob capability handed to procedures.
// Implementations may block; procedures call it off the worker goroutine.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (uint64, error)
	Get(ctx context.Context, id uint64) ([]byte, error)
	Delete(ctx context.Context, id uint64) error
}
