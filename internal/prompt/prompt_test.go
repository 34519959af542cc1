package prompt

import (
	"strings"
	"testing"

	"github.com/taleweave/taleweave/internal/session"
)

func TestBuild_ShorthandEmbedsLastScene(t *testing.T) {
	lastScene := "The corridor forks.\nA) Take the left passage.\nB) Take the right passage."

	for _, action := range []string{"a", "A", "b", "B", " a ", "B\n"} {
		t.Run("action "+strings.TrimSpace(action), func(t *testing.T) {
			got := Build(Input{
				Action: action,
				Memory: session.View{LastScene: lastScene},
			})
			if !strings.Contains(got, lastScene) {
				t.Errorf("prompt for shorthand %q does not embed last scene verbatim", action)
			}
			if !strings.Contains(got, "chose option "+strings.ToUpper(strings.TrimSpace(action))) {
				t.Errorf("prompt does not name the chosen option:\n%s", got)
			}
		})
	}
}

func TestBuild_FreeFormOmitsLastScene(t *testing.T) {
	lastScene := "The corridor forks in the torchlight."
	got := Build(Input{
		Action: "ask the guard about the locked gate",
		Memory: session.View{LastScene: lastScene},
	})
	if strings.Contains(got, lastScene) {
		t.Error("free-form prompt embeds last scene")
	}
	if !strings.Contains(got, "ask the guard about the locked gate") {
		t.Error("free-form prompt does not carry the action")
	}
}

func TestBuild_EmptySessionUsesPlaceholders(t *testing.T) {
	got := Build(Input{Action: "a"})
	if n := strings.Count(got, "(none)"); n < 2 {
		t.Errorf("expected placeholder in summary and recent sections, found %d occurrences:\n%s", n, got)
	}
}

func TestBuild_RecentRenderedMostRecentFirst(t *testing.T) {
	got := Build(Input{
		Action: "look around",
		Memory: session.View{
			Recent: []session.Exchange{
				{Action: "first", Scene: "oldest scene"},
				{Action: "second", Scene: "newest scene"},
			},
		},
	})
	newest := strings.Index(got, "newest scene")
	oldest := strings.Index(got, "oldest scene")
	if newest < 0 || oldest < 0 {
		t.Fatalf("exchanges missing from prompt:\n%s", got)
	}
	if newest > oldest {
		t.Error("recent exchanges are not rendered most recent first")
	}
}

func TestBuild_AlwaysEndsWithClosingInstruction(t *testing.T) {
	for _, action := range []string{"a", "sneak past the dragon"} {
		got := Build(Input{Action: action})
		if !strings.HasSuffix(got, closingInstruction) {
			t.Errorf("prompt for %q does not end with the options instruction", action)
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	in := Input{
		Character: "a wary cartographer",
		Action:    "b",
		Memory: session.View{
			Summary:   "You mapped the drowned quarter.",
			LastScene: "A) Dive. B) Wait for low tide.",
			Recent:    []session.Exchange{{Action: "swim", Scene: "Cold water."}},
			State:     session.State{Location: "the quay", Inventory: []string{"brass compass"}},
		},
	}
	if Build(in) != Build(in) {
		t.Error("Build is not deterministic for identical inputs")
	}
}

func TestBuild_StateSectionOnlyWhenPopulated(t *testing.T) {
	empty := Build(Input{Action: "look"})
	if strings.Contains(empty, "## World state") {
		t.Error("world state section rendered for empty state")
	}

	populated := Build(Input{
		Action: "look",
		Memory: session.View{State: session.State{Location: "the lighthouse"}},
	})
	if !strings.Contains(populated, "## World state") || !strings.Contains(populated, "the lighthouse") {
		t.Errorf("world state section missing:\n%s", populated)
	}
}

func TestBuild_FlagsRenderSetNamesSorted(t *testing.T) {
	in := Input{
		Action: "look",
		Memory: session.View{State: session.State{Flags: map[string]bool{
			"gate_opened":  true,
			"alarm_raised": true,
			"keeper_met":   false,
		}}},
	}
	out := Build(in)

	if !strings.Contains(out, "Flags: alarm_raised, gate_opened") {
		t.Errorf("set flags missing or unsorted:\n%s", out)
	}
	if strings.Contains(out, "keeper_met") {
		t.Errorf("unset flag rendered:\n%s", out)
	}

	// A map holding only unset flags renders no state section at all.
	unsetOnly := Build(Input{
		Action: "look",
		Memory: session.View{State: session.State{Flags: map[string]bool{"keeper_met": false}}},
	})
	if strings.Contains(unsetOnly, "## World state") {
		t.Errorf("state section rendered for all-unset flags:\n%s", unsetOnly)
	}
}
