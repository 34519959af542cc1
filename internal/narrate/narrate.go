// Package narrate coordinates one story turn: it assembles the prompt from
// session memory, streams the next beat from the LLM, cuts the stream into
// sentences for speech synthesis, and updates session memory when the beat
// completes.
//
// Each turn is exposed as a stream of typed events that the transport layer
// forwards verbatim as server-sent events. Narration text is authoritative;
// audio is best-effort — a synthesis failure for one sentence is logged and
// the stream continues.
package narrate

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taleweave/taleweave/internal/observe"
	"github.com/taleweave/taleweave/internal/prompt"
	"github.com/taleweave/taleweave/internal/session"
	"github.com/taleweave/taleweave/internal/textseg"
	"github.com/taleweave/taleweave/pkg/archive"
	"github.com/taleweave/taleweave/pkg/provider/embeddings"
	"github.com/taleweave/taleweave/pkg/provider/llm"
	"github.com/taleweave/taleweave/pkg/provider/tts"
)

// EventType tags a stream event. The transport forwards these values
// unchanged in the SSE payload's "type" field.
type EventType string

const (
	EventOpen          EventType = "open"
	EventStatus        EventType = "status"
	EventDelta         EventType = "delta"
	EventTranscription EventType = "transcription"
	EventAudio         EventType = "audio"
	EventError         EventType = "error"
	EventDone          EventType = "done"
)

// Event is one frame of a narration stream.
type Event struct {
	Type EventType `json:"type"`

	// Text carries incremental narration for delta events, the recognised
	// speech for transcription events, a stage name for status events, and a
	// human-readable message for error events.
	Text string `json:"text,omitempty"`

	// Audio is a base64-encoded audio payload, set on audio events only.
	Audio string `json:"audio,omitempty"`

	// Format names the audio container/codec of the Audio payload.
	Format string `json:"format,omitempty"`
}

// Request describes one story turn.
type Request struct {
	// SessionID selects (or creates) the narrative memory to continue from.
	SessionID string

	// Character is the caller-supplied protagonist description.
	Character string

	// Action is the player's input: free-form text or the shorthand "a"/"b".
	Action string

	// Speech enables per-sentence audio synthesis when a TTS provider is
	// configured.
	Speech bool

	// Voice selects the synthesis voice. Required when Speech is set.
	Voice tts.VoiceProfile
}

// archiveTimeout bounds the background write-behind so an unreachable
// database cannot pin goroutines forever.
const archiveTimeout = 10 * time.Second

// Announcer receives completed beats for out-of-band announcement.
type Announcer interface {
	SceneComplete(sessionID, action, scene string)
}

// Option is a functional option for Relay.
type Option func(*Relay)

// WithTTS attaches a speech synthesis provider. Without one, Speech requests
// deliver text only.
func WithTTS(p tts.Provider) Option {
	return func(r *Relay) { r.tts = p }
}

// WithArchive attaches a story archive for write-behind beat persistence.
func WithArchive(a archive.Archive) Option {
	return func(r *Relay) { r.archive = a }
}

// WithEmbeddings attaches an embeddings provider used to index archived
// beats for semantic recall. Only meaningful together with WithArchive.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(r *Relay) { r.embed = p }
}

// WithAnnouncer attaches an announcer notified after each completed beat.
func WithAnnouncer(a Announcer) Option {
	return func(r *Relay) { r.announcer = a }
}

// WithSummariser overrides the default LLM-backed summariser.
func WithSummariser(s session.Summariser) Option {
	return func(r *Relay) { r.summariser = s }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// Relay runs story turns. Safe for concurrent use; any number of streams may
// be in flight.
type Relay struct {
	llm        llm.Provider
	tts        tts.Provider
	sessions   *session.Store
	summariser session.Summariser
	archive    archive.Archive
	embed      embeddings.Provider
	announcer  Announcer
	metrics    *observe.Metrics
	logger     *slog.Logger
}

// New creates a Relay narrating with provider and remembering in sessions.
func New(provider llm.Provider, sessions *session.Store, opts ...Option) (*Relay, error) {
	if provider == nil {
		return nil, errors.New("narrate: llm provider must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("narrate: session store must not be nil")
	}
	r := &Relay{
		llm:      provider,
		sessions: sessions,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.summariser == nil {
		r.summariser = session.NewLLMSummariser(provider)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// Stream runs one story turn and returns its event stream. A non-nil error
// means the request was rejected before any streaming began (malformed
// input); once a channel is returned, all later failures surface as in-band
// error events. The channel closes when the turn is finished or ctx is
// cancelled.
func (r *Relay) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if req.SessionID == "" {
		return nil, errors.New("narrate: sessionID must not be empty")
	}
	if strings.TrimSpace(req.Action) == "" {
		return nil, errors.New("narrate: action must not be empty")
	}
	if req.Speech && r.tts == nil {
		return nil, errors.New("narrate: speech requested but no TTS provider configured")
	}
	if req.Speech && req.Voice.ID == "" {
		return nil, errors.New("narrate: speech requested without a voice")
	}

	sess := r.sessions.GetOrCreate(req.SessionID)
	promptText := prompt.Build(prompt.Input{
		Character: req.Character,
		Action:    req.Action,
		Memory:    sess.Snapshot(),
	})

	events := make(chan Event, 32)
	go r.run(ctx, req, sess, promptText, events)
	return events, nil
}

// run drives one turn to completion and closes events afterwards.
func (r *Relay) run(ctx context.Context, req Request, sess *session.Session, promptText string, events chan<- Event) {
	defer close(events)

	logger := observe.Logger(ctx, r.logger)

	r.metrics.ActiveStreams.Add(ctx, 1)
	defer r.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	emit(Event{Type: EventStatus, Text: "narrating"})

	llmStart := time.Now()
	chunks, err := r.llm.StreamCompletion(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: promptText}},
	})
	if err != nil {
		r.metrics.RecordProviderError(ctx, "llm", "stream")
		logger.Error("narration request failed", "session", req.SessionID, "error", err)
		emit(Event{Type: EventError, Text: "narration unavailable"})
		return
	}

	sentences := make(chan string, 16)
	var scene strings.Builder
	var streamErr error

	g, gctx := errgroup.WithContext(ctx)

	// Producer: accumulate the scene, forward deltas, cut sentences.
	g.Go(func() error {
		defer close(sentences)
		var buf string
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case chunk, ok := <-chunks:
				if !ok {
					// Stream ended: flush the trailing fragment.
					if rest := strings.TrimSpace(buf); rest != "" {
						select {
						case sentences <- rest:
						case <-gctx.Done():
							return gctx.Err()
						}
					}
					return nil
				}
				if chunk.FinishReason == "error" {
					streamErr = errors.New(chunk.Text)
					return streamErr
				}
				if chunk.Text == "" {
					continue
				}
				scene.WriteString(chunk.Text)
				if !emit(Event{Type: EventDelta, Text: chunk.Text}) {
					return ctx.Err()
				}
				var complete []string
				complete, buf = textseg.Extract(buf + chunk.Text)
				for _, s := range complete {
					select {
					case sentences <- s:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}
		}
	})

	// Consumer: synthesize each sentence. Failures are logged and skipped so
	// text delivery never stalls on audio.
	g.Go(func() error {
		for sentence := range sentences {
			if !req.Speech {
				continue
			}
			ttsStart := time.Now()
			audio, err := r.tts.Synthesize(gctx, sentence, req.Voice)
			r.metrics.TTSDuration.Record(gctx, time.Since(ttsStart).Seconds())
			if err != nil {
				r.metrics.RecordProviderError(gctx, "tts", "synthesize")
				logger.Warn("sentence synthesis failed",
					"session", req.SessionID,
					"sentence_len", len(sentence),
					"error", err,
				)
				continue
			}
			if !emit(Event{
				Type:   EventAudio,
				Audio:  base64.StdEncoding.EncodeToString(audio.Data),
				Format: audio.Format,
			}) {
				return ctx.Err()
			}
		}
		return nil
	})

	err = g.Wait()
	r.metrics.LLMDuration.Record(context.WithoutCancel(ctx), time.Since(llmStart).Seconds())

	if streamErr != nil {
		r.metrics.RecordProviderError(ctx, "llm", "stream")
		logger.Error("narration stream failed", "session", req.SessionID, "error", streamErr)
		emit(Event{Type: EventError, Text: "narration failed"})
		return
	}
	if err != nil {
		// Cancelled by client disconnect; nothing left to tell anyone.
		return
	}

	sceneText := scene.String()
	r.commit(ctx, req, sess, sceneText)

	emit(Event{Type: EventDone})
}

// commit records the finished beat: session memory, optional summarisation,
// and the best-effort side channels (archive, announcer).
func (r *Relay) commit(ctx context.Context, req Request, sess *session.Session, sceneText string) {
	if strings.TrimSpace(sceneText) == "" {
		return
	}

	ex := session.Exchange{Action: req.Action, Scene: sceneText}
	due := sess.Append(ex)
	r.metrics.Exchanges.Add(context.WithoutCancel(ctx), 1)

	if due {
		r.summarise(ctx, req.SessionID, sess)
	}

	if r.archive != nil {
		go r.archiveBeat(req.SessionID, ex)
	}
	if r.announcer != nil {
		go r.announcer.SceneComplete(req.SessionID, req.Action, sceneText)
	}
}

// summarise folds pending exchanges into the session summary. On failure the
// previous summary and pending exchanges stay untouched; the next due pass
// retries over the accumulated batch.
func (r *Relay) summarise(ctx context.Context, sessionID string, sess *session.Session) {
	logger := observe.Logger(ctx, r.logger)
	prior, pending := sess.Collect()
	summary, err := r.summariser.Summarise(context.WithoutCancel(ctx), prior, pending)
	if err != nil {
		r.metrics.RecordSummarisation(ctx, "error")
		logger.Warn("summarisation failed, keeping prior memory",
			"session", sessionID,
			"pending", len(pending),
			"error", err,
		)
		return
	}
	sess.ApplySummary(summary)
	r.metrics.RecordSummarisation(ctx, "ok")
	logger.Debug("session summarised", "session", sessionID, "summary_len", len(summary))
}

// archiveBeat persists one beat in the background, embedding the scene when
// an embeddings provider is configured. Failures are logged only.
func (r *Relay) archiveBeat(sessionID string, ex session.Exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	beat := archive.Beat{SessionID: sessionID, Action: ex.Action, Scene: ex.Scene}
	if r.embed != nil {
		vec, err := r.embed.Embed(ctx, ex.Scene)
		if err != nil {
			r.metrics.RecordProviderError(ctx, "embeddings", "embed")
			r.logger.Warn("beat embedding failed, archiving without vector",
				"session", sessionID, "error", err)
		} else {
			beat.Embedding = vec
		}
	}

	if err := r.archive.SaveBeat(ctx, beat); err != nil {
		r.logger.Warn("beat archive failed", "session", sessionID, "error", err)
	}
}
