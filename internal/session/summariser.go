package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/taleweave/taleweave/pkg/provider/llm"
)

// summarisationPrompt is the system prompt sent to the LLM when folding
// recent story beats into the running summary.
const summarisationPrompt = `Summarise the following interactive story so far into a single compact recap.
Preserve: where the protagonist is, what they carry, promises made, named characters,
unresolved threats, and any choices still open.
Write it as flowing prose in past tense. Be concise but keep every detail a narrator
would need to continue the story consistently.`

// Summariser folds a prior summary and a batch of exchanges into a new
// summary that replaces the old one.
type Summariser interface {
	// Summarise returns the condensed recap. priorSummary may be empty on the
	// first pass.
	Summarise(ctx context.Context, priorSummary string, exchanges []Exchange) (string, error)
}

// LLMSummariser uses an LLM provider to summarise story beats.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats the prior summary and exchanges into a single transcript
// and asks the model for a replacement recap. With nothing to summarise it
// returns priorSummary unchanged without calling the LLM.
func (s *LLMSummariser) Summarise(ctx context.Context, priorSummary string, exchanges []Exchange) (string, error) {
	if len(exchanges) == 0 {
		return priorSummary, nil
	}

	var sb strings.Builder
	if priorSummary != "" {
		fmt.Fprintf(&sb, "Story so far:\n%s\n\n", priorSummary)
	}
	sb.WriteString("New events:\n")
	for _, ex := range exchanges {
		fmt.Fprintf(&sb, "[player]: %s\n[narrator]: %s\n", ex.Action, ex.Scene)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []llm.Message{
			{
				Role:    "user",
				Content: sb.String(),
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}

	return resp.Content, nil
}
