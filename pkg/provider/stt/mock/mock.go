// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to return controlled transcripts and to verify the PCM and
// Config passed to the STT backend.
package mock

import (
	"context"
	"sync"

	"github.com/taleweave/taleweave/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte
	// Cfg is the Config passed to Transcribe.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranscribeText is returned by Transcribe when TranscribeFunc and
	// TranscribeErr are nil.
	TranscribeText string

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if non-nil, overrides TranscribeText/TranscribeErr and
	// computes the response per call.
	TranscribeFunc func(ctx context.Context, pcm []byte, cfg stt.Config) (string, error)

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured response.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (string, error) {
	p.mu.Lock()
	pcmCopy := make([]byte, len(pcm))
	copy(pcmCopy, pcm)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, PCM: pcmCopy, Cfg: cfg})
	fn := p.TranscribeFunc
	text, err := p.TranscribeText, p.TranscribeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, cfg)
	}
	return text, err
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
