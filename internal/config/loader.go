package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deusversus/aidm/internal/mcp"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to reject unrecognised provider names early instead of at
// first use.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// agentNamePattern matches the canonical snake_case agent identifiers used
// as per_agent_models keys.
var agentNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Memory.WindowSize == 0 {
		cfg.Memory.WindowSize = 20
	}
	if cfg.Memory.PinnedMax == 0 {
		cfg.Memory.PinnedMax = 5
	}
	if cfg.Profiles.Dir == "" {
		cfg.Profiles.Dir = "profiles"
	}
	if cfg.Scraper.CachePath == "" {
		cfg.Scraper.CachePath = "scrape-cache.db"
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("config: invalid log_level %q", cfg.Server.LogLevel))
	}

	if len(cfg.Providers.LLM) == 0 {
		errs = append(errs, errors.New("config: at least one llm provider is required"))
	}
	for key, entry := range cfg.Providers.LLM {
		if !slices.Contains(ValidProviderNames["llm"], nameOrKey(entry.Name, key)) {
			errs = append(errs, fmt.Errorf("config: unknown llm provider %q", nameOrKey(entry.Name, key)))
		}
	}
	if cfg.Providers.Embeddings.Name != "" && !slices.Contains(ValidProviderNames["embeddings"], cfg.Providers.Embeddings.Name) {
		errs = append(errs, fmt.Errorf("config: unknown embeddings provider %q", cfg.Providers.Embeddings.Name))
	}

	if cfg.Agents.Default.Provider == "" && len(cfg.Agents.PerAgent) == 0 {
		errs = append(errs, errors.New("config: agents.default or per_agent_models must be set"))
	}
	for name, sel := range cfg.Agents.PerAgent {
		if !agentNamePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("config: %q is not a canonical snake_case agent name", name))
		}
		if sel.Provider != "" {
			if _, ok := cfg.Providers.LLM[sel.Provider]; !ok {
				errs = append(errs, fmt.Errorf("config: agent %q maps to unconfigured provider %q", name, sel.Provider))
			}
		}
	}
	if d := cfg.Agents.Default.Provider; d != "" {
		if _, ok := cfg.Providers.LLM[d]; !ok {
			errs = append(errs, fmt.Errorf("config: agents.default maps to unconfigured provider %q", d))
		}
	}

	if cfg.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("config: memory.postgres_dsn is required"))
	}
	if cfg.Memory.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("config: memory.embedding_dimensions must be positive"))
	}

	if cfg.Media.Enabled && cfg.Media.BudgetPerSessionUSD <= 0 {
		errs = append(errs, errors.New("config: media_generation.budget_per_session_usd must be positive when enabled"))
	}

	if cfg.Scraper.WikiBase != "" && !strings.Contains(cfg.Scraper.WikiBase, "%s") {
		errs = append(errs, fmt.Errorf("config: scraper.wiki_base must contain %%s for the wiki slug"))
	}

	for _, server := range cfg.MCP.Servers {
		if server.Name == "" {
			errs = append(errs, errors.New("config: mcp server with empty name"))
			continue
		}
		if !mcp.Transport(server.Transport).IsValid() {
			errs = append(errs, fmt.Errorf("config: mcp server %q has invalid transport %q", server.Name, server.Transport))
		}
	}

	return errors.Join(errs...)
}

func nameOrKey(name, key string) string {
	if name != "" {
		return name
	}
	return key
}
