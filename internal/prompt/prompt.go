// Package prompt renders a session's memory and the current player action
// into a single narration-generation prompt.
//
// Build is pure: it performs no I/O, has no side effects, and is
// deterministic given identical inputs.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/taleweave/taleweave/internal/session"
)

// emptyPlaceholder is rendered where a section has no content yet, so the
// model always sees every section.
const emptyPlaceholder = "(none)"

// styleRules opens every prompt. The narrator voice is fixed per deployment,
// not per request.
const styleRules = `You are the narrator of an interactive story. Write vivid second-person prose
in present tense. Keep each story beat to a few short paragraphs. Never speak
as the player and never break character.`

// closingInstruction ends every prompt. The two labeled options plus an open
// alternative are what make shorthand "A"/"B" replies resolvable next turn.
const closingInstruction = `Continue the story with the next beat. End the beat by presenting exactly two
labeled options, "A)" and "B)", and note that the player may instead describe
any other action in their own words.`

// Input carries everything Build needs for one prompt.
type Input struct {
	// Character is the caller-supplied protagonist description.
	Character string

	// Action is the player's raw input for this turn.
	Action string

	// Memory is a snapshot of the session taken before the turn started.
	Memory session.View
}

// Build renders the complete narration prompt.
//
// When Action is the single-letter shorthand "a" or "b" (any case), the
// previous scene is embedded verbatim so the model can resolve which rendered
// option the player picked. Free-form actions are embedded as a custom intent
// and the previous scene is omitted.
func Build(in Input) string {
	var sb strings.Builder

	sb.WriteString(styleRules)

	sb.WriteString("\n\n## Story so far\n")
	if s := strings.TrimSpace(in.Memory.Summary); s != "" {
		sb.WriteString(s)
	} else {
		sb.WriteString(emptyPlaceholder)
	}

	sb.WriteString("\n\n## Recent exchanges (most recent first)\n")
	if len(in.Memory.Recent) == 0 {
		sb.WriteString(emptyPlaceholder)
	} else {
		for i := len(in.Memory.Recent) - 1; i >= 0; i-- {
			ex := in.Memory.Recent[i]
			fmt.Fprintf(&sb, "Player: %s\nNarrator: %s\n", ex.Action, ex.Scene)
		}
	}

	sb.WriteString("\n\n## Protagonist\n")
	if c := strings.TrimSpace(in.Character); c != "" {
		sb.WriteString(c)
	} else {
		sb.WriteString(emptyPlaceholder)
	}

	if state := formatState(in.Memory.State); state != "" {
		sb.WriteString("\n\n## World state\n")
		sb.WriteString(state)
	}

	sb.WriteString("\n\n## Player action\n")
	if option, ok := shorthandOption(in.Action); ok {
		fmt.Fprintf(&sb, "The previous scene read:\n%s\n\n", in.Memory.LastScene)
		fmt.Fprintf(&sb, "The player chose option %s. Continue from that branch.", option)
	} else {
		fmt.Fprintf(&sb, "The player wants to: %s", strings.TrimSpace(in.Action))
	}

	sb.WriteString("\n\n")
	sb.WriteString(closingInstruction)

	return sb.String()
}

// shorthandOption reports whether action is the single-letter shorthand for a
// rendered option and returns its canonical label.
func shorthandOption(action string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "a":
		return "A", true
	case "b":
		return "B", true
	}
	return "", false
}

// formatState renders the structured world state, returning an empty string
// when every field is empty so the section is omitted entirely.
func formatState(st session.State) string {
	var lines []string
	if st.Location != "" {
		lines = append(lines, "Location: "+st.Location)
	}
	if set := setFlags(st.Flags); len(set) > 0 {
		lines = append(lines, "Flags: "+strings.Join(set, ", "))
	}
	if len(st.Inventory) > 0 {
		lines = append(lines, "Inventory: "+strings.Join(st.Inventory, ", "))
	}
	return strings.Join(lines, "\n")
}

// setFlags returns the names of all set flags in sorted order, so identical
// state always renders identically.
func setFlags(flags map[string]bool) []string {
	var set []string
	for name, on := range flags {
		if on {
			set = append(set, name)
		}
	}
	sort.Strings(set)
	return set
}
