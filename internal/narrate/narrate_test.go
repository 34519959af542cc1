package narrate

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taleweave/taleweave/internal/session"
	archivemock "github.com/taleweave/taleweave/pkg/archive/mock"
	embedmock "github.com/taleweave/taleweave/pkg/provider/embeddings/mock"
	"github.com/taleweave/taleweave/pkg/provider/llm"
	llmmock "github.com/taleweave/taleweave/pkg/provider/llm/mock"
	"github.com/taleweave/taleweave/pkg/provider/tts"
	ttsmock "github.com/taleweave/taleweave/pkg/provider/tts/mock"
)

// collect drains the event stream with a deadline so a stuck relay fails the
// test instead of hanging it.
func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out draining events, got %d so far", len(out))
		}
	}
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func joinDeltas(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == EventDelta {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

// chunksFor splits text into stream chunks of a few characters each so tests
// exercise sentence assembly across chunk boundaries.
func chunksFor(text string) []llm.Chunk {
	var chunks []llm.Chunk
	const size = 7
	for len(text) > 0 {
		n := min(size, len(text))
		chunks = append(chunks, llm.Chunk{Text: text[:n]})
		text = text[n:]
	}
	return chunks
}

type recordingSummariser struct {
	mu      sync.Mutex
	summary string
	err     error
	calls   [][]session.Exchange
	priors  []string
}

func (s *recordingSummariser) Summarise(_ context.Context, prior string, exchanges []session.Exchange) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priors = append(s.priors, prior)
	batch := make([]session.Exchange, len(exchanges))
	copy(batch, exchanges)
	s.calls = append(s.calls, batch)
	return s.summary, s.err
}

type recordingAnnouncer struct {
	mu     sync.Mutex
	scenes []string
	done   chan struct{}
}

func (a *recordingAnnouncer) SceneComplete(_, _, scene string) {
	a.mu.Lock()
	a.scenes = append(a.scenes, scene)
	a.mu.Unlock()
	close(a.done)
}

func TestNew(t *testing.T) {
	provider := &llmmock.Provider{}
	store := session.NewStore()

	if _, err := New(nil, store); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := New(provider, nil); err == nil {
		t.Error("expected error for nil session store")
	}
	if _, err := New(provider, store); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStream_RejectsMalformedRequests(t *testing.T) {
	r, err := New(&llmmock.Provider{}, session.NewStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name string
		req  Request
	}{
		{"empty session", Request{Action: "look around"}},
		{"empty action", Request{SessionID: "s1"}},
		{"whitespace action", Request{SessionID: "s1", Action: "   "}},
		{"speech without provider", Request{SessionID: "s1", Action: "go", Speech: true, Voice: tts.VoiceProfile{ID: "v"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Stream(context.Background(), tt.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("speech without voice", func(t *testing.T) {
		r2, err := New(&llmmock.Provider{}, session.NewStore(), WithTTS(&ttsmock.Provider{}))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := r2.Stream(context.Background(), Request{SessionID: "s1", Action: "go", Speech: true}); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestStream_DeliversNarrationText(t *testing.T) {
	scene := "You step into the hall. Dust hangs in the light."
	provider := &llmmock.Provider{StreamChunks: chunksFor(scene)}
	store := session.NewStore()
	r, err := New(provider, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	events, err := r.Stream(context.Background(), Request{SessionID: "s1", Action: "enter the hall"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := collect(t, events)

	if got[0].Type != EventStatus {
		t.Errorf("first event = %q, want status", got[0].Type)
	}
	if text := joinDeltas(got); text != scene {
		t.Errorf("delta text = %q, want %q", text, scene)
	}
	if last := got[len(got)-1]; last.Type != EventDone {
		t.Errorf("last event = %q, want done", last.Type)
	}

	view := store.GetOrCreate("s1").Snapshot()
	if view.LastScene != scene {
		t.Errorf("LastScene = %q, want %q", view.LastScene, scene)
	}
	if len(view.Recent) != 1 || view.Recent[0].Action != "enter the hall" {
		t.Errorf("Recent = %+v, want the appended exchange", view.Recent)
	}
}

func TestStream_SpeechEmitsAudioPerSentence(t *testing.T) {
	scene := "The gate opens. A cold wind rises. You hear footsteps."
	provider := &llmmock.Provider{StreamChunks: chunksFor(scene)}
	synth := &ttsmock.Provider{
		SynthesizeAudio: &tts.Audio{Data: []byte("pcm"), Format: "mp3"},
	}
	r, err := New(provider, session.NewStore(), WithTTS(synth))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	events, err := r.Stream(context.Background(), Request{
		SessionID: "s1",
		Action:    "open the gate",
		Speech:    true,
		Voice:     tts.VoiceProfile{ID: "v1"},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := collect(t, events)

	audio := eventsOfType(got, EventAudio)
	if len(audio) != 3 {
		t.Fatalf("audio events = %d, want 3", len(audio))
	}
	want := base64.StdEncoding.EncodeToString([]byte("pcm"))
	for i, ev := range audio {
		if ev.Audio != want || ev.Format != "mp3" {
			t.Errorf("audio[%d] = {%q %q}, want {%q mp3}", i, ev.Audio, ev.Format, want)
		}
	}
	if len(synth.SynthesizeCalls) != 3 {
		t.Fatalf("synthesize calls = %d, want 3", len(synth.SynthesizeCalls))
	}
	if text := synth.SynthesizeCalls[1].Text; text != "A cold wind rises." {
		t.Errorf("second sentence = %q, want %q", text, "A cold wind rises.")
	}
}

func TestStream_OneFailedSentenceDoesNotStopTheRest(t *testing.T) {
	scene := "First the door. Then the stairs. Finally the roof."
	provider := &llmmock.Provider{StreamChunks: chunksFor(scene)}
	synth := &ttsmock.Provider{
		SynthesizeFunc: func(_ context.Context, text string, _ tts.VoiceProfile) (*tts.Audio, error) {
			if strings.Contains(text, "stairs") {
				return nil, errors.New("voice backend unavailable")
			}
			return &tts.Audio{Data: []byte(text), Format: "mp3"}, nil
		},
	}
	r, err := New(provider, session.NewStore(), WithTTS(synth))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	events, err := r.Stream(context.Background(), Request{
		SessionID: "s1",
		Action:    "climb",
		Speech:    true,
		Voice:     tts.VoiceProfile{ID: "v1"},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := collect(t, events)

	audio := eventsOfType(got, EventAudio)
	if len(audio) != 2 {
		t.Fatalf("audio events = %d, want 2 (failed sentence skipped)", len(audio))
	}
	if text := joinDeltas(got); text != scene {
		t.Errorf("delta text = %q, want full scene despite audio failure", text)
	}
	if len(eventsOfType(got, EventError)) != 0 {
		t.Error("synthesis failure must not surface as an error event")
	}
	if last := got[len(got)-1]; last.Type != EventDone {
		t.Errorf("last event = %q, want done", last.Type)
	}
}

func TestStream_MidStreamFailureEmitsErrorEvent(t *testing.T) {
	provider := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "You walk "},
		{Text: "rate limit exceeded", FinishReason: "error"},
	}}
	store := session.NewStore()
	r, err := New(provider, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	events, err := r.Stream(context.Background(), Request{SessionID: "s1", Action: "walk"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := collect(t, events)

	if len(eventsOfType(got, EventError)) != 1 {
		t.Fatalf("error events = %d, want 1", len(eventsOfType(got, EventError)))
	}
	if len(eventsOfType(got, EventDone)) != 0 {
		t.Error("failed stream must not emit done")
	}
	if view := store.GetOrCreate("s1").Snapshot(); len(view.Recent) != 0 {
		t.Errorf("failed beat must not be remembered, Recent = %+v", view.Recent)
	}
}

func TestStream_StartFailureEmitsErrorEvent(t *testing.T) {
	provider := &llmmock.Provider{StreamErr: errors.New("connection refused")}
	r, err := New(provider, session.NewStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	events, err := r.Stream(context.Background(), Request{SessionID: "s1", Action: "walk"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := collect(t, events)

	if len(eventsOfType(got, EventError)) != 1 {
		t.Fatalf("error events = %d, want 1", len(eventsOfType(got, EventError)))
	}
	if len(eventsOfType(got, EventDone)) != 0 {
		t.Error("failed stream must not emit done")
	}
}

func TestStream_SummarisesOnInterval(t *testing.T) {
	summariser := &recordingSummariser{summary: "The hero crossed the valley."}
	store := session.NewStore()
	r, err := New(&llmmock.Provider{}, store, WithSummariser(summariser))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runTurn := func(n int) {
		r.llm = &llmmock.Provider{StreamChunks: chunksFor("Scene number " + strings.Repeat("x", n) + ".")}
		events, err := r.Stream(context.Background(), Request{SessionID: "s1", Action: "step"})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		collect(t, events)
	}

	for i := 0; i < session.SummariseEvery-1; i++ {
		runTurn(i)
	}
	if len(summariser.calls) != 0 {
		t.Fatalf("summariser ran after %d exchanges, want none before interval", session.SummariseEvery-1)
	}

	runTurn(session.SummariseEvery)
	if len(summariser.calls) != 1 {
		t.Fatalf("summariser calls = %d, want 1 at interval", len(summariser.calls))
	}
	if len(summariser.calls[0]) != session.SummariseEvery {
		t.Errorf("summarised batch = %d exchanges, want %d", len(summariser.calls[0]), session.SummariseEvery)
	}

	view := store.GetOrCreate("s1").Snapshot()
	if view.Summary != "The hero crossed the valley." {
		t.Errorf("Summary = %q, want the summariser output", view.Summary)
	}
	if len(view.Recent) > session.RetainWindow {
		t.Errorf("Recent = %d exchanges, want at most %d after summarisation", len(view.Recent), session.RetainWindow)
	}
}

func TestStream_SummariserFailureKeepsMemory(t *testing.T) {
	summariser := &recordingSummariser{err: errors.New("model overloaded")}
	store := session.NewStore()
	r, err := New(&llmmock.Provider{StreamChunks: chunksFor("A scene.")}, store, WithSummariser(summariser))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < session.SummariseEvery; i++ {
		events, err := r.Stream(context.Background(), Request{SessionID: "s1", Action: "step"})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		got := collect(t, events)
		if last := got[len(got)-1]; last.Type != EventDone {
			t.Fatalf("turn %d ended with %q, want done despite summariser error", i, last.Type)
		}
	}

	if len(summariser.calls) != 1 {
		t.Fatalf("summariser calls = %d, want 1", len(summariser.calls))
	}
	view := store.GetOrCreate("s1").Snapshot()
	if view.Summary != "" {
		t.Errorf("Summary = %q, want prior (empty) summary preserved on failure", view.Summary)
	}
}

func TestStream_ArchivesAndAnnouncesCompletedBeats(t *testing.T) {
	scene := "The bridge holds."
	store := &archivemock.Archive{}
	embedder := &embedmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}}
	announcer := &recordingAnnouncer{done: make(chan struct{})}
	r, err := New(
		&llmmock.Provider{StreamChunks: chunksFor(scene)},
		session.NewStore(),
		WithArchive(store),
		WithEmbeddings(embedder),
		WithAnnouncer(announcer),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	events, err := r.Stream(context.Background(), Request{SessionID: "s1", Action: "cross the bridge"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	collect(t, events)

	select {
	case <-announcer.done:
	case <-time.After(5 * time.Second):
		t.Fatal("announcer was not notified")
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(store.Beats()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("beat was not archived")
		}
		time.Sleep(10 * time.Millisecond)
	}
	beats := store.Beats()
	if beats[0].SessionID != "s1" || beats[0].Scene != scene {
		t.Errorf("archived beat = %+v, want session s1 with the full scene", beats[0])
	}
	if len(beats[0].Embedding) != 3 {
		t.Errorf("embedding = %v, want the embedder output attached", beats[0].Embedding)
	}
}

// stalledProvider returns a stream that never produces anything, modelling a
// hung upstream connection.
type stalledProvider struct{}

func (stalledProvider) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return make(chan llm.Chunk), nil
}

func (stalledProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func TestStream_ClientDisconnectStopsTheTurn(t *testing.T) {
	store := session.NewStore()
	r, err := New(stalledProvider{}, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := r.Stream(ctx, Request{SessionID: "s1", Action: "wait"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	// First event arrives, then the client goes away.
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no opening event")
	}
	cancel()

	got := collect(t, events)
	if len(eventsOfType(got, EventDone)) != 0 {
		t.Error("cancelled stream must not emit done")
	}
	if view := store.GetOrCreate("s1").Snapshot(); len(view.Recent) != 0 {
		t.Errorf("cancelled beat must not be remembered, Recent = %+v", view.Recent)
	}
}
