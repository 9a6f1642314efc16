package oasis

import "errors"

var (
	// ErrExtractionFailed wraps any failure of the upstream extractor,
	// including timeouts. It never signals a validation defect.
	ErrExtractionFailed = errors.New("document extraction failed")
	ErrNoExtractor      = errors.New("document extraction is not configured")
	ErrEmptyDocument    = errors.New("document_text is required")
	ErrMissingAnalysis  = errors.New("analysis is required")
	ErrNotFound         = errors.New("analysis not found")
)
