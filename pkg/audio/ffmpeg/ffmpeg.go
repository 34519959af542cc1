// Package ffmpeg decodes compressed audio containers (ogg, mp3, m4a, webm)
// into raw PCM by piping them through an ffmpeg subprocess. It exists so that
// transcription uploads are not limited to WAV: anything ffmpeg can read
// becomes 16-bit mono PCM at the requested rate.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// DefaultBinary is the ffmpeg executable looked up on PATH when no explicit
// path is configured.
const DefaultBinary = "ffmpeg"

// Decoder converts container audio bytes to s16le mono PCM via an ffmpeg
// subprocess. Safe for concurrent use; each Decode call spawns its own
// process.
type Decoder struct {
	binary     string
	sampleRate int
}

// Option is a functional option for Decoder.
type Option func(*Decoder)

// WithBinary overrides the ffmpeg executable path.
func WithBinary(path string) Option {
	return func(d *Decoder) {
		d.binary = path
	}
}

// NewDecoder creates a Decoder that outputs mono 16-bit PCM at sampleRate Hz.
func NewDecoder(sampleRate int, opts ...Option) (*Decoder, error) {
	if sampleRate <= 0 {
		return nil, errors.New("ffmpeg: sampleRate must be positive")
	}
	d := &Decoder{binary: DefaultBinary, sampleRate: sampleRate}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Decode pipes the container bytes through ffmpeg and returns raw s16le mono
// PCM at the configured sample rate. The input format is auto-detected by
// ffmpeg from the stream itself.
func (d *Decoder) Decode(ctx context.Context, container []byte) ([]byte, error) {
	if len(container) == 0 {
		return nil, errors.New("ffmpeg: empty input")
	}

	cmd := exec.CommandContext(ctx, d.binary,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.sampleRate),
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(container)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return nil, fmt.Errorf("ffmpeg: decode: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg: decode: %w", err)
	}

	pcm := stdout.Bytes()
	if len(pcm) == 0 {
		return nil, errors.New("ffmpeg: decoded zero PCM bytes")
	}
	return pcm, nil
}
