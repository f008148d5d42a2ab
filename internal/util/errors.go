package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrNotFound indicates a required row or remote resource was not found
	ErrNotFound = errors.New("not found")

	// ErrNoDetail indicates neither the detail page nor the XML API produced data
	ErrNoDetail = errors.New("no detail data available")

	// ErrEmptySlug indicates a name that normalizes to nothing
	ErrEmptySlug = errors.New("empty slug")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUpload indicates the media storage backend rejected an object
	ErrUpload = errors.New("upload failed")
)
