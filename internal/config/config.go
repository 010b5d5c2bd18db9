// Package config provides the configuration schema, loader, hot-reload
// watcher, and provider registry for the AIDM narrative engine.
package config

// Config is the root configuration structure for AIDM.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Agents    AgentsConfig    `yaml:"agents"`
	Memory    MemoryConfig    `yaml:"memory"`
	Profiles  ProfilesConfig  `yaml:"profiles"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Media     MediaConfig     `yaml:"media_generation"`
	Session   SessionConfig   `yaml:"session"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// LogLevel controls logging verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError, "":
		return true
	}
	return false
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares the configured model providers. LLM providers
// are keyed by provider name ("openai", "anthropic", ...) so the per-agent
// model mapping can route across several at once.
type ProvidersConfig struct {
	LLM        map[string]ProviderEntry `yaml:"llm"`
	Embeddings ProviderEntry            `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// ModelSelection routes one agent to a provider+model pair.
type ModelSelection struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// AgentsConfig is the per-agent model mapping (per_agent_models).
// Keys are canonical snake_case agent names; agents without an entry use
// Default. This section is hot-reloadable: model choices may change
// between campaigns without a restart.
type AgentsConfig struct {
	Default  ModelSelection            `yaml:"default"`
	PerAgent map[string]ModelSelection `yaml:"per_agent_models"`
}

// MemoryConfig holds settings for the relational and vector stores and the
// sliding window.
type MemoryConfig struct {
	// PostgresDSN is the connection string for the single Postgres
	// instance carrying both the relational schema and pgvector chunks.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions must match the configured embeddings model.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// WindowSize is the number of verbatim turns in the sliding window.
	WindowSize int `yaml:"window_size"`

	// PinnedMax is the maximum number of pinned exchanges retained in the
	// window beyond WindowSize.
	PinnedMax int `yaml:"pinned_max"`
}

// ProfilesConfig locates the on-disk profile documents.
type ProfilesConfig struct {
	// Dir is the profiles/ directory, one JSON document per profile.
	Dir string `yaml:"dir"`
}

// ScraperConfig holds the research clients' settings.
type ScraperConfig struct {
	// CachePath is the disk-backed TTL cache file.
	CachePath string `yaml:"cache_path"`

	// AniListEndpoint overrides the AniList GraphQL endpoint (tests).
	AniListEndpoint string `yaml:"anilist_endpoint"`

	// WikiBase overrides the Fandom URL pattern; must contain one %s for
	// the wiki slug.
	WikiBase string `yaml:"wiki_base"`
}

// MediaConfig gates the optional cutscene generation surface.
type MediaConfig struct {
	Enabled             bool    `yaml:"enabled"`
	BudgetPerSessionUSD float64 `yaml:"budget_per_session_usd"`
	ImageModel          string  `yaml:"image_model"`
	VideoModel          string  `yaml:"video_model"`
}

// SessionConfig carries the session-level settings.
type SessionConfig struct {
	// ActiveProfileID may be empty (no active campaign).
	ActiveProfileID string `yaml:"active_profile_id"`

	// ActiveSessionID may be empty.
	ActiveSessionID string `yaml:"active_session_id"`

	// NarrativeOverrideResources bypasses the resource guard.
	NarrativeOverrideResources bool `yaml:"narrative_override_resources"`
}

// MCPConfig holds the list of external MCP servers to connect to, beyond
// the built-in tool surface.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server.
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism: "stdio" or
	// "streamable-http".
	Transport string `yaml:"transport"`

	// Command is the executable launched when Transport is "stdio".
	Command string `yaml:"command"`

	// URL is the endpoint address for http transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables for stdio subprocesses.
	Env map[string]string `yaml:"env"`
}
