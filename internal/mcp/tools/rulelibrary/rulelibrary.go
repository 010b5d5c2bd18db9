// Package rulelibrary exposes the static composition rule library as MCP
// tools: the per-axis guidance chunks (op_tensions, op_expressions,
// op_focuses) that the key animator's stable prefix is built from.
//
// Two tools are exported via [Tools]:
//   - "lookup_guidance" — fetch the guidance chunk for one axis value.
//   - "list_axis_values" — enumerate the legal values of one axis.
//
// The library is process-wide read-only after startup; handlers never
// block and are safe for concurrent use.
package rulelibrary

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deusversus/aidm/internal/composition"
	"github.com/deusversus/aidm/internal/mcp"
	"github.com/deusversus/aidm/internal/mcp/tools"
	"github.com/deusversus/aidm/pkg/provider/llm"
)

// lookupArgs is the JSON-decoded input for the "lookup_guidance" tool.
type lookupArgs struct {
	// Axis is "tension_source", "power_expression", or "narrative_focus".
	Axis string `json:"axis"`

	// Value is the axis value to fetch guidance for.
	Value string `json:"value"`
}

// listArgs is the JSON-decoded input for the "list_axis_values" tool.
type listArgs struct {
	Axis string `json:"axis"`
}

var axisValues = map[string][]string{
	"tension_source": {
		"existential", "relational", "moral", "burden",
		"information", "consequence", "control", "emotional",
	},
	"power_expression": {
		"instantaneous", "overwhelming", "sealed", "hidden",
		"conditional", "derivative", "passive", "subtle", "spectacle",
	},
	"narrative_focus": {
		"internal", "ensemble", "reverse_ensemble", "episodic",
		"faction", "mundane", "competition", "legacy", "solo",
	},
}

// Tools returns the rule-library tool set ready for host registration.
func Tools() []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "lookup_guidance",
				Description: "Fetch the directing-guidance chunk for one composition axis value (tension_source, power_expression, or narrative_focus).",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"axis":  map[string]any{"type": "string", "enum": []string{"tension_source", "power_expression", "narrative_focus"}},
						"value": map[string]any{"type": "string"},
					},
					"required": []string{"axis", "value"},
				},
				EstimatedDurationMs: 1,
				MaxDurationMs:       10,
				Idempotent:          true,
				CacheableSeconds:    3600,
			},
			Handler:     handleLookup,
			Surfaces:    []mcp.Surface{mcp.SurfaceNarration},
			DeclaredP50: 1,
			DeclaredMax: 10,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "list_axis_values",
				Description: "List the legal values of one composition axis.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"axis": map[string]any{"type": "string", "enum": []string{"tension_source", "power_expression", "narrative_focus"}},
					},
					"required": []string{"axis"},
				},
				EstimatedDurationMs: 1,
				MaxDurationMs:       10,
				Idempotent:          true,
				CacheableSeconds:    3600,
			},
			Handler:     handleList,
			Surfaces:    []mcp.Surface{mcp.SurfaceNarration},
			DeclaredP50: 1,
			DeclaredMax: 10,
		},
	}
}

func handleLookup(_ context.Context, args string) (string, error) {
	var in lookupArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return "", fmt.Errorf("rulelibrary: invalid args: %w", err)
	}
	chunk, ok := composition.LookupGuidance(in.Axis, in.Value)
	if !ok {
		return "", fmt.Errorf("rulelibrary: no guidance for %s=%q", in.Axis, in.Value)
	}
	out, err := json.Marshal(chunk)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func handleList(_ context.Context, args string) (string, error) {
	var in listArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return "", fmt.Errorf("rulelibrary: invalid args: %w", err)
	}
	values, ok := axisValues[in.Axis]
	if !ok {
		return "", fmt.Errorf("rulelibrary: unknown axis %q", in.Axis)
	}
	out, err := json.Marshal(map[string]any{"axis": in.Axis, "values": values})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
