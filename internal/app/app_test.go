package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/config"
	"github.com/deusversus/aidm/internal/mcp"
	"github.com/deusversus/aidm/internal/mcp/mcphost"
	"github.com/deusversus/aidm/internal/mcp/tools/diceroller"
	"github.com/deusversus/aidm/internal/mcp/tools/rulelibrary"
)

func TestDefaultRegistry_KnownProvidersRegistered(t *testing.T) {
	t.Parallel()
	r := DefaultRegistry()

	// Ollama needs no API key, so construction succeeds offline.
	p, err := r.CreateLLM(config.ProviderEntry{Name: "ollama", Model: "llama3"})
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = r.CreateLLM(config.ProviderEntry{Name: "not-a-provider"})
	require.ErrorIs(t, err, config.ErrProviderNotRegistered)
}

func TestToolSurface_OffersOnlyItsOwnSurface(t *testing.T) {
	t.Parallel()
	host := mcphost.New()
	for _, tool := range append(diceroller.Tools(), rulelibrary.Tools()...) {
		require.NoError(t, registerTool(host, tool))
	}

	narration := &toolSurface{host: host, surface: mcp.SurfaceNarration}
	defs := narration.AvailableTools()
	require.Len(t, defs, 2)
	for _, d := range defs {
		require.Contains(t, []string{"lookup_guidance", "list_axis_values"}, d.Name)
	}

	mechanics := &toolSurface{host: host, surface: mcp.SurfaceMechanics}
	require.Len(t, mechanics.AvailableTools(), 2)

	// Nothing here registered for the production agent.
	productionSurface := &toolSurface{host: host, surface: mcp.SurfaceProduction}
	require.Empty(t, productionSurface.AvailableTools())

	out, err := narration.ExecuteTool(context.Background(), "lookup_guidance", `{"axis": "narrative_focus", "value": "solo"}`)
	require.NoError(t, err)
	require.Contains(t, out, "focus-solo")
}
