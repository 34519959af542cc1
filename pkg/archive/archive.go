// Package archive defines the story archive: durable storage for narrated
// beats so that finished scenes can be searched and recalled later.
//
// The archive is strictly write-behind. The relay continues whether or not a
// beat was persisted; a lost beat costs recall, never narration.
//
// Implementations must be safe for concurrent use.
package archive

import (
	"context"
	"time"
)

// Beat is one archived exchange: the action a player took and the scene the
// narrator produced in response.
type Beat struct {
	// ID is the archive-assigned identifier, zero until saved.
	ID int64

	// SessionID is the narration session the beat belongs to.
	SessionID string

	// Action is the player input that triggered the beat.
	Action string

	// Scene is the full narrated response.
	Scene string

	// Embedding is the scene's embedding vector. May be nil when no
	// embeddings provider is configured; such beats are only reachable via
	// full-text search.
	Embedding []float32

	// CreatedAt is when the beat was archived.
	CreatedAt time.Time
}

// Result pairs a recalled Beat with its cosine distance to the query
// embedding. Distance is 0 for full-text matches.
type Result struct {
	Beat     Beat
	Distance float64
}

// SearchOpts filters archive searches.
type SearchOpts struct {
	// SessionID restricts results to one session when non-empty.
	SessionID string

	// Limit caps the number of results. Implementations apply a default
	// when zero.
	Limit int
}

// Archive is the abstraction over any story archive backend.
type Archive interface {
	// SaveBeat persists a beat. The passed beat's ID field is ignored;
	// implementations assign their own.
	SaveBeat(ctx context.Context, beat Beat) error

	// SearchText performs a full-text search over archived scenes.
	SearchText(ctx context.Context, query string, opts SearchOpts) ([]Result, error)

	// SearchSemantic returns the beats whose scene embeddings are closest to
	// the supplied query embedding, most similar first.
	SearchSemantic(ctx context.Context, embedding []float32, opts SearchOpts) ([]Result, error)

	// Close releases backend resources.
	Close()
}
