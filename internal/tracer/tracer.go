// Package tracer defines the boundary to the log tracing service that
// maps device log lines back to the source code that printed them.
// The session core does not depend on it; the API server exposes a
// Service when one is configured.
package tracer

import (
	"context"
	"errors"
)

// ErrNotIndexed is returned by services asked to match before Index
// has completed.
var ErrNotIndexed = errors.New("tracer not indexed")

// SourceLocation is where a log format string was found.
type SourceLocation struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	Function     string `json:"function"`
	FormatString string `json:"format_string"`
}

// IndexStats summarises one indexing run.
type IndexStats struct {
	FilesScanned    int   `json:"files_scanned"`
	PatternsIndexed int   `json:"patterns_indexed"`
	DurationMS      int64 `json:"duration_ms"`
}

// Stats is the current state of a service.
type Stats struct {
	Indexed      bool   `json:"indexed"`
	PatternCount int    `json:"pattern_count"`
	SourcePath   string `json:"source_path,omitempty"`
}

// Service indexes a source tree and matches log lines against it.
// Implementations must be safe for concurrent use.
type Service interface {
	Index(ctx context.Context, dir string) (IndexStats, error)
	Match(line string) (*SourceLocation, bool)
	Stats() Stats
}
