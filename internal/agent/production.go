package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/pkg/provider/llm"
)

// ToolSurface is the slice of the MCP host the production agent drives:
// the tool catalogue offered to the model and the executor for whatever it
// decides to call. internal/mcp/mcphost provides the real implementation.
type ToolSurface interface {
	AvailableTools() []llm.ToolDefinition
	ExecuteTool(ctx context.Context, name, args string) (string, error)
}

// ProductionAgent is the autonomous post-turn worker: one tool-use loop
// (at most maxRounds model calls) per committed turn in which the model
// decides which of the production
// tools to invoke — plant_seed, complete_quest_objective, upsert_location,
// set_current_location, trigger_cutscene — and the agent executes them.
type ProductionAgent struct {
	layer *llmcap.Layer
	tools ToolSurface

	// maxRounds bounds the tool loop; production work is expected to fit
	// in two rounds (call tools, read results, stop).
	maxRounds int
}

func NewProductionAgent(layer *llmcap.Layer, tools ToolSurface) *ProductionAgent {
	return &ProductionAgent{layer: layer, tools: tools, maxRounds: 3}
}

// InvokedTool records one executed tool call for the turn's audit trail.
type InvokedTool struct {
	Name   string
	Args   string
	Result string
	Err    error
}

// Run hands the committed turn to the model with the production tool
// surface and executes whatever it calls. All failures are logged and
// swallowed: production work is fire-and-forget background labor.
func (p *ProductionAgent) Run(ctx context.Context, narrative, situation string, seedSuggestions []string) []InvokedTool {
	cctx, cancel := context.WithTimeout(ctx, backgroundTimeout)
	defer cancel()

	defs := p.tools.AvailableTools()
	if len(defs) == 0 {
		return nil
	}

	dynamic := fmt.Sprintf("Situation: %s\n\nCommitted narrative:\n%s", situation, narrative)
	if len(seedSuggestions) > 0 {
		dynamic += "\n\nThe director suggests planting these seeds (use your judgment):"
		for _, s := range seedSuggestions {
			dynamic += "\n- " + s
		}
	}

	blocks := llmcap.Blocks{
		StablePrefix: "You are the production agent of a narrative engine. After each committed turn you may invoke tools to advance production state: plant foreshadowing seeds, complete quest objectives, record or set locations, or trigger a cutscene for a scene of exceptional visual weight. Call only the tools the turn genuinely earned; most turns need none.",
		Dynamic:      dynamic,
	}

	var invoked []InvokedTool
	for round := 0; round < p.maxRounds; round++ {
		resp, err := p.layer.CompleteWithTools(cctx, NameProduction, blocks, defs, llmcap.Options{MaxTokens: 1500})
		if err != nil {
			slog.Warn("production agent degraded", "error", err)
			return invoked
		}
		if len(resp.ToolCalls) == 0 {
			return invoked
		}

		blocks.History = append(blocks.History,
			llm.Message{Role: "user", Content: blocks.Dynamic},
			llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls},
		)
		blocks.Dynamic = ""
		for _, call := range resp.ToolCalls {
			result, err := p.tools.ExecuteTool(cctx, call.Name, call.Arguments)
			if err != nil {
				slog.Warn("production tool failed", "tool", call.Name, "error", err)
				result = fmt.Sprintf("error: %v", err)
			}
			invoked = append(invoked, InvokedTool{Name: call.Name, Args: call.Arguments, Result: result, Err: err})
			blocks.History = append(blocks.History, llm.Message{Role: "tool", Content: result, ToolCallID: call.ID})
		}
		blocks.Dynamic = "Tool results above. Invoke further tools only if still needed; otherwise reply with a brief done note."
	}
	return invoked
}
