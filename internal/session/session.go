// Package session provides per-player narrative memory for the relay.
//
// Each session tracks a running summary of the story so far, the last scene
// narrated, and a short window of recent exchanges kept verbatim. Every
// SummariseEvery exchanges the accumulated material is folded into the
// summary by a [Summariser]; the summary is replaced wholesale, never
// concatenated, so it cannot grow without bound.
//
// All exported types are safe for concurrent use.
package session

import "sync"

// RetainWindow is the number of most-recent exchanges kept verbatim for
// prompt assembly.
const RetainWindow = 3

// SummariseEvery is the number of exchanges between summarisation passes.
const SummariseEvery = 5

// Exchange is one completed story beat: the player's action and the scene
// narrated in response.
type Exchange struct {
	Action string
	Scene  string
}

// State carries structured world state alongside the prose memory. It is
// rendered into prompts only when non-empty.
type State struct {
	Location string

	// Flags maps story flag names to whether they are set.
	Flags map[string]bool

	Inventory []string
}

// View is an immutable snapshot of a session, safe to read while the live
// session keeps changing.
type View struct {
	ID        string
	Summary   string
	LastScene string
	// Recent holds up to RetainWindow exchanges, oldest first.
	Recent []Exchange
	State  State
}

// Session is the live memory for one narration session.
type Session struct {
	mu sync.Mutex

	id        string
	summary   string
	lastScene string
	state     State

	// recent accumulates exchanges since the last summarisation pass.
	recent []Exchange

	// exchanges counts every appended exchange over the session lifetime.
	exchanges int
}

// newSession creates an empty session. Sessions are obtained via
// [Store.GetOrCreate], not constructed directly.
func newSession(id string) *Session {
	return &Session{id: id}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Append records a completed exchange and returns true when a summarisation
// pass is due. The caller is expected to follow a true return with
// [Session.Collect] and, on success, [Session.ApplySummary].
func (s *Session) Append(ex Exchange) (summariseDue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, ex)
	s.lastScene = ex.Scene
	s.exchanges++
	return s.exchanges%SummariseEvery == 0
}

// Collect returns the prior summary and a copy of every exchange accumulated
// since the last summarisation pass, as input for the next one.
func (s *Session) Collect() (priorSummary string, pending []Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending = make([]Exchange, len(s.recent))
	copy(pending, s.recent)
	return s.summary, pending
}

// ApplySummary replaces the running summary and trims the verbatim window to
// RetainWindow. A summarisation failure is handled by simply not calling
// ApplySummary: the session keeps its previous summary and all pending
// exchanges, and the next due pass retries over the larger batch.
func (s *Session) ApplySummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary = summary
	if len(s.recent) > RetainWindow {
		s.recent = append([]Exchange(nil), s.recent[len(s.recent)-RetainWindow:]...)
	}
}

// SetState replaces the structured world state.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Snapshot returns an immutable view for prompt assembly. Recent is capped at
// RetainWindow even between summarisation passes so prompts stay bounded.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.recent
	if len(recent) > RetainWindow {
		recent = recent[len(recent)-RetainWindow:]
	}
	recentCopy := make([]Exchange, len(recent))
	copy(recentCopy, recent)

	return View{
		ID:        s.id,
		Summary:   s.summary,
		LastScene: s.lastScene,
		Recent:    recentCopy,
		State:     s.state,
	}
}

// Store hands out sessions by ID, creating them on first use. Repeated calls
// with the same ID return the same *Session.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, creating it if necessary.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := newSession(id)
	st.sessions[id] = s
	return s
}

// Get returns the session for id, or nil if it has never been seen.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[id]
}

// Remove forgets the session for id. Callers holding a *Session handle keep
// a usable but orphaned session; a later GetOrCreate with the same ID starts
// fresh.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
