// Package mock provides an in-memory test double for the archive.Archive
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/taleweave/taleweave/pkg/archive"
)

// Archive is a mock implementation of archive.Archive. Saved beats are kept
// in memory; searches return the configured results.
type Archive struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SaveBeatErr, if non-nil, is returned as the error from SaveBeat.
	SaveBeatErr error

	// SearchTextResults is returned by SearchText.
	SearchTextResults []archive.Result

	// SearchTextErr, if non-nil, is returned as the error from SearchText.
	SearchTextErr error

	// SearchSemanticResults is returned by SearchSemantic.
	SearchSemanticResults []archive.Result

	// SearchSemanticErr, if non-nil, is returned as the error from SearchSemantic.
	SearchSemanticErr error

	// --- Call records ---

	// SavedBeats records every beat passed to SaveBeat in order.
	SavedBeats []archive.Beat

	// SearchTextQueries records every query passed to SearchText in order.
	SearchTextQueries []string

	// SearchSemanticCalls is the number of times SearchSemantic was called.
	SearchSemanticCalls int

	// Closed reports whether Close was called.
	Closed bool
}

// SaveBeat records the beat and returns SaveBeatErr.
func (a *Archive) SaveBeat(_ context.Context, beat archive.Beat) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SaveBeatErr != nil {
		return a.SaveBeatErr
	}
	beat.ID = int64(len(a.SavedBeats) + 1)
	a.SavedBeats = append(a.SavedBeats, beat)
	return nil
}

// SearchText records the query and returns the configured results.
func (a *Archive) SearchText(_ context.Context, query string, _ archive.SearchOpts) ([]archive.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SearchTextQueries = append(a.SearchTextQueries, query)
	return a.SearchTextResults, a.SearchTextErr
}

// SearchSemantic records the call and returns the configured results.
func (a *Archive) SearchSemantic(_ context.Context, _ []float32, _ archive.SearchOpts) ([]archive.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SearchSemanticCalls++
	return a.SearchSemanticResults, a.SearchSemanticErr
}

// Beats returns a copy of all saved beats. Safe to call while SaveBeat runs
// concurrently from background writers.
func (a *Archive) Beats() []archive.Beat {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]archive.Beat, len(a.SavedBeats))
	copy(out, a.SavedBeats)
	return out
}

// Close marks the archive closed.
func (a *Archive) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Closed = true
}

// Reset clears all recorded state. Thread-safe.
func (a *Archive) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SavedBeats = nil
	a.SearchTextQueries = nil
	a.SearchSemanticCalls = 0
	a.Closed = false
}

// Ensure Archive implements archive.Archive at compile time.
var _ archive.Archive = (*Archive)(nil)
