package elevenlabs

import (
	"context"
	"testing"

	"github.com/taleweave/taleweave/pkg/provider/tts"
)

func TestNew(t *testing.T) {
	t.Run("requires api key", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty apiKey, got nil")
		}
	})

	t.Run("applies options", func(t *testing.T) {
		p, err := New("key", WithModel("eleven_turbo_v2"), WithOutputFormat("pcm_24000"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.model != "eleven_turbo_v2" {
			t.Errorf("model = %q, want eleven_turbo_v2", p.model)
		}
		if p.outputFormat != "pcm_24000" {
			t.Errorf("outputFormat = %q, want pcm_24000", p.outputFormat)
		}
	})
}

func TestSynthesize_InputValidation(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.Synthesize(context.Background(), "", tts.VoiceProfile{ID: "v1"}); err == nil {
		t.Error("expected error for empty text")
	}
	if _, err := p.Synthesize(context.Background(), "Hello.", tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
}

func TestParseVoicesResponse(t *testing.T) {
	raw := []byte(`{
		"voices": [
			{"voice_id": "v1", "name": "Aria", "category": "premade", "labels": {"accent": "american"}},
			{"voice_id": "v2", "name": "Bram", "labels": {}}
		]
	}`)

	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].ID != "v1" || profiles[0].Name != "Aria" {
		t.Errorf("unexpected first profile: %+v", profiles[0])
	}
	if profiles[0].Provider != "elevenlabs" {
		t.Errorf("provider = %q, want elevenlabs", profiles[0].Provider)
	}
	if profiles[0].Metadata["category"] != "premade" {
		t.Errorf("category metadata missing: %+v", profiles[0].Metadata)
	}
	if profiles[0].Metadata["accent"] != "american" {
		t.Errorf("accent label missing: %+v", profiles[0].Metadata)
	}
}

func TestParseVoicesResponse_Invalid(t *testing.T) {
	if _, err := parseVoicesResponse([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
