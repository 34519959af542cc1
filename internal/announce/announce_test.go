package announce

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

type fakeSender struct {
	messages []string
	err      error
}

func (f *fakeSender) ChannelMessageSend(_ string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.messages = append(f.messages, content)
	return &discordgo.Message{Content: content}, nil
}

func TestNew(t *testing.T) {
	if _, err := New(nil, "chan", nil); err == nil {
		t.Error("expected error for nil sender")
	}
	if _, err := New(&fakeSender{}, "", nil); err == nil {
		t.Error("expected error for empty channel ID")
	}
}

func TestSceneComplete(t *testing.T) {
	s := &fakeSender{}
	a, err := New(s, "chan-1", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.SceneComplete("session-7", "open the chest", "Gold coins spill across the floor.")
	if len(s.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(s.messages))
	}
	msg := s.messages[0]
	for _, want := range []string{"session-7", "open the chest", "Gold coins spill"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q: %s", want, msg)
		}
	}
}

func TestSceneComplete_TruncatesLongScenes(t *testing.T) {
	cases := []struct {
		name    string
		session string
		action  string
		scene   string
	}{
		{"long scene", "s", "look", strings.Repeat("very long scene ", 500)},
		{"long action", "s1", strings.Repeat("x", 3000), "The gate opens."},
		{"long session id", strings.Repeat("s", 3000), "look", "The gate opens."},
		{"long action and scene", "s", strings.Repeat("x", 3000), strings.Repeat("very long scene ", 500)},
		{"multibyte scene", "s", "look", strings.Repeat("göld cöins spill ", 300)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &fakeSender{}
			a, err := New(s, "chan-1", slog.Default())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			a.SceneComplete(tc.session, tc.action, tc.scene)
			if len(s.messages) != 1 {
				t.Fatalf("sent %d messages, want 1", len(s.messages))
			}
			msg := s.messages[0]
			if len(msg) > maxMessageLen {
				t.Errorf("message length %d exceeds Discord limit", len(msg))
			}
			if !utf8.ValidString(msg) {
				t.Error("truncation split a multi-byte rune")
			}
		})
	}
}

func TestSceneComplete_ErrorsAreSwallowed(t *testing.T) {
	s := &fakeSender{err: errors.New("gateway closed")}
	a, err := New(s, "chan-1", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Must not panic or propagate.
	a.SceneComplete("s", "look", "A quiet room.")
}
