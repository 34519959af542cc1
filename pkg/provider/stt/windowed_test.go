package stt_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/taleweave/taleweave/pkg/provider/stt"
	"github.com/taleweave/taleweave/pkg/provider/stt/mock"
)

const rate = 16000

func pcmOfDuration(d time.Duration) []byte {
	samples := int(int64(rate) * int64(d) / int64(time.Second))
	return make([]byte, samples*2)
}

func TestWindowed_ShortInputSingleCall(t *testing.T) {
	inner := &mock.Provider{TranscribeText: "hello there"}
	w := stt.NewWindowed(inner, 30*time.Second, 5*time.Second)

	text, err := w.Transcribe(context.Background(), pcmOfDuration(10*time.Second), stt.Config{SampleRate: rate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q, want %q", text, "hello there")
	}
	if len(inner.TranscribeCalls) != 1 {
		t.Errorf("inner called %d times, want 1", len(inner.TranscribeCalls))
	}
}

func TestWindowed_LongInputStitched(t *testing.T) {
	var n int
	inner := &mock.Provider{
		TranscribeFunc: func(_ context.Context, _ []byte, _ stt.Config) (string, error) {
			n++
			return fmt.Sprintf("part%d", n), nil
		},
	}
	w := stt.NewWindowed(inner, 30*time.Second, 5*time.Second)

	// 70 s → windows starting at 0 s, 25 s, 50 s.
	text, err := w.Transcribe(context.Background(), pcmOfDuration(70*time.Second), stt.Config{SampleRate: rate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "part1 part2 part3" {
		t.Errorf("text = %q, want %q", text, "part1 part2 part3")
	}
}

func TestWindowed_EmptyWindowsSkipped(t *testing.T) {
	var n int
	inner := &mock.Provider{
		TranscribeFunc: func(_ context.Context, _ []byte, _ stt.Config) (string, error) {
			n++
			if n == 2 {
				return "  ", nil
			}
			return fmt.Sprintf("part%d", n), nil
		},
	}
	w := stt.NewWindowed(inner, 30*time.Second, 5*time.Second)

	text, err := w.Transcribe(context.Background(), pcmOfDuration(70*time.Second), stt.Config{SampleRate: rate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "part1 part3" {
		t.Errorf("text = %q, want %q", text, "part1 part3")
	}
}

func TestWindowed_ErrorStopsStitching(t *testing.T) {
	wantErr := errors.New("backend down")
	inner := &mock.Provider{TranscribeErr: wantErr}
	w := stt.NewWindowed(inner, 30*time.Second, 5*time.Second)

	_, err := w.Transcribe(context.Background(), pcmOfDuration(70*time.Second), stt.Config{SampleRate: rate})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want wrapped %v", err, wantErr)
	}
	if len(inner.TranscribeCalls) != 1 {
		t.Errorf("inner called %d times after failure, want 1", len(inner.TranscribeCalls))
	}
}

func TestNewWindowed_InvalidParametersUseDefaults(t *testing.T) {
	var sizes []int
	inner := &mock.Provider{
		TranscribeFunc: func(_ context.Context, pcm []byte, _ stt.Config) (string, error) {
			sizes = append(sizes, len(pcm))
			return "x", nil
		},
	}
	// overlap >= window should fall back to 30 s / 5 s.
	w := stt.NewWindowed(inner, 5*time.Second, 10*time.Second)

	if _, err := w.Transcribe(context.Background(), pcmOfDuration(40*time.Second), stt.Config{SampleRate: rate}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sizes) != 2 {
		t.Fatalf("inner called %d times, want 2 (default 30s window over 40s input)", len(sizes))
	}
}
