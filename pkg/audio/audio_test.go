package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/taleweave/taleweave/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Run("same rate returns input unchanged", func(t *testing.T) {
		in := samplesToBytes([]int16{1, 2, 3})
		out := audio.ResampleMono16(in, 16000, 16000)
		if !bytes.Equal(in, out) {
			t.Error("expected input returned unchanged")
		}
	})

	t.Run("downsample halves sample count", func(t *testing.T) {
		in := samplesToBytes(make([]int16, 320)) // 10 ms at 32 kHz
		out := audio.ResampleMono16(in, 32000, 16000)
		if len(out) != 320 { // 160 samples * 2 bytes
			t.Errorf("got %d bytes, want 320", len(out))
		}
	})

	t.Run("upsample doubles sample count", func(t *testing.T) {
		in := samplesToBytes(make([]int16, 160))
		out := audio.ResampleMono16(in, 8000, 16000)
		if len(out) != 640 {
			t.Errorf("got %d bytes, want 640", len(out))
		}
	})
}

func TestNormalizeMono16(t *testing.T) {
	t.Run("stereo is downmixed then resampled", func(t *testing.T) {
		stereo := samplesToBytes(make([]int16, 640)) // 320 frames at 32 kHz
		out := audio.NormalizeMono16(stereo, 32000, 2, 16000)
		if len(out) != 320 { // 160 mono samples
			t.Errorf("got %d bytes, want 320", len(out))
		}
	})

	t.Run("unsupported channel count returns nil", func(t *testing.T) {
		if out := audio.NormalizeMono16(make([]byte, 12), 16000, 6, 16000); out != nil {
			t.Errorf("expected nil, got %d bytes", len(out))
		}
	})
}

func TestEncodeWAV_RoundTrip(t *testing.T) {
	pcm := samplesToBytes([]int16{10, -10, 32767, -32768})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}

	gotPCM, rate, channels, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Errorf("format = %dHz/%dch, want 16000Hz/1ch", rate, channels)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Error("decoded PCM does not match input")
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"wrong magic", append([]byte("JUNK1234WAVE"), make([]byte, 40)...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, _, err := audio.DecodeWAV(tc.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestWindows(t *testing.T) {
	const rate = 16000

	t.Run("short input is a single window", func(t *testing.T) {
		pcm := make([]byte, 10*rate*2) // 10 s
		got := audio.Windows(pcm, rate, 30*time.Second, 5*time.Second)
		if len(got) != 1 {
			t.Fatalf("got %d windows, want 1", len(got))
		}
		if len(got[0]) != len(pcm) {
			t.Errorf("window length = %d, want %d", len(got[0]), len(pcm))
		}
	})

	t.Run("long input overlaps by the configured amount", func(t *testing.T) {
		pcm := make([]byte, 70*rate*2) // 70 s
		got := audio.Windows(pcm, rate, 30*time.Second, 5*time.Second)
		// Steps of 25 s: [0,30), [25,55), [50,70].
		if len(got) != 3 {
			t.Fatalf("got %d windows, want 3", len(got))
		}
		windowBytes := 30 * rate * 2
		if len(got[0]) != windowBytes || len(got[1]) != windowBytes {
			t.Errorf("full windows = %d and %d bytes, want %d", len(got[0]), len(got[1]), windowBytes)
		}
		if len(got[2]) != 20*rate*2 {
			t.Errorf("tail window = %d bytes, want %d", len(got[2]), 20*rate*2)
		}
	})

	t.Run("invalid parameters fall back to a single window", func(t *testing.T) {
		pcm := make([]byte, 100)
		got := audio.Windows(pcm, rate, 5*time.Second, 10*time.Second)
		if len(got) != 1 {
			t.Fatalf("got %d windows, want 1", len(got))
		}
	})
}
