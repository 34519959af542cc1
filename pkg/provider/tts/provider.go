// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or the
// OpenAI speech API) and presents a uniform batch interface: one sentence in,
// one complete audio payload out. The narration relay feeds it complete
// sentences as they fall out of the LLM stream, so per-call latency stays low
// without the provider itself having to stream.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel.
type Provider interface {
	// Synthesize converts text into a complete audio payload using the given
	// voice profile. text is typically a single sentence; providers should
	// return an error for empty input rather than synthesising silence.
	//
	// The returned Audio carries the raw encoded bytes and their format so the
	// caller can forward them without sniffing.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*Audio, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
