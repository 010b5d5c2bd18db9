package llmcap

import (
	"strings"

	"github.com/deusversus/aidm/pkg/provider/llm"
)

// Blocks is the three-tier prompt composition discipline. Block 1 must be
// byte-identical across turns within a session so providers with prefix
// caching serve it from cache; Block 2 changes only when the bible or arc
// state moves; Block 3 is rebuilt every turn.
//
// New structural context always belongs in Block 1 or 2 — putting stable
// text into Block 3 silently destroys the cache prefix.
type Blocks struct {
	// StablePrefix is Block 1: profile DNA, power system, OP axis
	// guidance, rule-library chunks, and the agent's base prompt.
	StablePrefix string

	// Session is Block 2: campaign bible excerpt, active foreshadowing
	// summary, arc phase directive.
	Session string

	// Dynamic is Block 3: sliding window, ranked memories, current intent
	// and outcome, present NPCs.
	Dynamic string

	// History carries prior tool-use round-trips for multi-step tool
	// loops; empty for single-shot calls.
	History []llm.Message
}

// request renders the blocks into a provider request: Blocks 1 and 2
// become the system prompt (stable text leading so the cacheable prefix is
// as long as possible), Block 3 becomes the user message.
func (b Blocks) request(opts Options) llm.CompletionRequest {
	var sys strings.Builder
	sys.WriteString(b.StablePrefix)
	if b.Session != "" {
		sys.WriteString("\n\n")
		sys.WriteString(b.Session)
	}

	messages := make([]llm.Message, 0, len(b.History)+1)
	messages = append(messages, b.History...)
	messages = append(messages, llm.Message{Role: "user", Content: b.Dynamic})

	return llm.CompletionRequest{
		SystemPrompt: sys.String(),
		Messages:     messages,
		MaxTokens:    opts.MaxTokens,
		Temperature:  opts.Temperature,
	}
}
