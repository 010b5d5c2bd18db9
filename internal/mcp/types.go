package mcp

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// BudgetTier controls which MCP tools are visible to the LLM based on latency constraints.
type BudgetTier int

const (
	// BudgetFast allows only tools with ≤ 500ms estimated latency.
	BudgetFast BudgetTier = iota

	// BudgetStandard allows tools with ≤ 1500ms estimated latency.
	BudgetStandard

	// BudgetDeep allows all tools regardless of latency.
	BudgetDeep
)

// String returns the human-readable name of the budget tier.
func (t BudgetTier) String() string {
	switch t {
	case BudgetFast:
		return "FAST"
	case BudgetStandard:
		return "STANDARD"
	case BudgetDeep:
		return "DEEP"
	default:
		return "UNKNOWN"
	}
}

// MaxLatencyMs returns the maximum parallel tool latency for this tier.
func (t BudgetTier) MaxLatencyMs() int {
	switch t {
	case BudgetFast:
		return 500
	case BudgetStandard:
		return 1500
	case BudgetDeep:
		return 4000
	default:
		return 500
	}
}

// Surface names a consumer of the tool catalogue. AIDM offers different
// tool sets to different agents: the production agent gets the
// state-mutating production tools, the key animator's narration path gets
// read-only recall and rule-library lookups, and the mechanical resolvers
// get dice. A tool may serve several surfaces; a surface never sees tools
// registered outside it.
type Surface string

const (
	// SurfaceProduction is the post-turn production agent's tool set:
	// plant_seed, complete_quest_objective, upsert_location,
	// set_current_location, trigger_cutscene.
	SurfaceProduction Surface = "production"

	// SurfaceNarration is the narration-support set consulted while
	// assembling or writing a scene: recall_scene, rule-library lookups.
	SurfaceNarration Surface = "narration"

	// SurfaceMechanics is the mechanical-resolution set: dice.
	SurfaceMechanics Surface = "mechanics"
)
