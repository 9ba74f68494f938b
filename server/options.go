// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/momentics/hioload-rpc/api"
	"github.com/rs/zerolog"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the root logger.
func WithLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithBlobStore replaces the in-memory blob store.
func WithBlobStore(b api.BlobStore) ServerOption {
	return func(s *Server) { s.blobs = b }
}

// WithCertificates replaces the PEM files named in Config.
func WithCertificates(p api.CertificateProvider) ServerOption {
	return func(s *Server) { s.certs = p }
}

// WithAuthorizer replaces the static environment grants from Config.
func WithAuthorizer(a Authorizer) ServerOption {
	return func(s *Server) { s.auth = a }
}
