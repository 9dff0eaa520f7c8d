// Package apperr holds the sentinel errors shared across layers. Callers wrap
// them with context and match with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnknownAspect marks a rating that references an aspect absent from the catalog.
	ErrUnknownAspect = errors.New("unknown aspect")
	// ErrUnknownArea marks data for a capability area absent from the catalog.
	ErrUnknownArea = errors.New("unknown capability area")
	// ErrIntegrity marks a rating whose placement or level contradicts the catalog.
	ErrIntegrity = errors.New("data integrity violation")
	// ErrInvalidBundle marks an import bundle that cannot be decoded or fails its own metadata.
	ErrInvalidBundle = errors.New("invalid bundle")
)
