// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Providers are batch engines: they receive a complete utterance as raw PCM
// and return its transcript in one call. Long recordings are handled by
// wrapping any Provider in Windowed, which cuts the audio into overlapping
// fixed-duration windows and stitches the per-window transcripts together.
//
// Implementations must be safe for concurrent use; multiple transcriptions
// may be in flight simultaneously.
package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taleweave/taleweave/pkg/audio"
)

// Config describes the audio format and recognition hints for a transcription
// request. All fields must be compatible with what the underlying provider
// supports.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Providers expect mono 16-bit
	// PCM; 16000 is the common STT-optimised rate.
	SampleRate int

	// Language is the language code for recognition (e.g., "en", "de"). An
	// empty string lets the provider auto-detect the language, if supported.
	Language string
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe converts a complete utterance of raw 16-bit signed
	// little-endian mono PCM into text. An empty transcript with a nil error
	// means the audio contained no recognisable speech.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (string, error)
}

// Default windowing parameters for batch engines, which degrade on inputs
// longer than their training window.
const (
	DefaultWindow  = 30 * time.Second
	DefaultOverlap = 5 * time.Second
)

// Ensure Windowed implements the Provider interface.
var _ Provider = (*Windowed)(nil)

// Windowed wraps a Provider so that recordings longer than one window are
// transcribed in overlapping slices. Transcripts are joined in order with a
// single space; empty window results are skipped. The overlap keeps words
// that straddle a cut inside at least one window, at the cost of occasional
// duplicated words at the seams.
type Windowed struct {
	inner   Provider
	window  time.Duration
	overlap time.Duration
}

// NewWindowed wraps inner with the given window and overlap durations.
// Non-positive window or overlap >= window fall back to the defaults.
func NewWindowed(inner Provider, window, overlap time.Duration) *Windowed {
	if window <= 0 || overlap < 0 || overlap >= window {
		window = DefaultWindow
		overlap = DefaultOverlap
	}
	return &Windowed{inner: inner, window: window, overlap: overlap}
}

// Transcribe implements Provider. Inputs shorter than one window pass through
// in a single call to the wrapped provider.
func (w *Windowed) Transcribe(ctx context.Context, pcm []byte, cfg Config) (string, error) {
	windows := audio.Windows(pcm, cfg.SampleRate, w.window, w.overlap)

	var parts []string
	for i, win := range windows {
		text, err := w.inner.Transcribe(ctx, win, cfg)
		if err != nil {
			return "", fmt.Errorf("stt: window %d/%d: %w", i+1, len(windows), err)
		}
		text = strings.TrimSpace(text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
