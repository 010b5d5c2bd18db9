// Package app wires the AIDM narrative engine together: configuration,
// stores, providers, the capability layer, the research pipeline, the MCP
// tool host, and the session manager that owns the active campaign.
//
// The lifecycle is New -> Run -> Shutdown. New constructs and migrates
// everything but starts no gameplay; Run blocks until the context is
// cancelled; Shutdown releases resources in reverse dependency order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/deusversus/aidm/internal/agent"
	"github.com/deusversus/aidm/internal/config"
	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/mcp"
	"github.com/deusversus/aidm/internal/mcp/mcphost"
	"github.com/deusversus/aidm/internal/mcp/tools"
	"github.com/deusversus/aidm/internal/mcp/tools/diceroller"
	"github.com/deusversus/aidm/internal/mcp/tools/rulelibrary"
	"github.com/deusversus/aidm/internal/observe"
	"github.com/deusversus/aidm/internal/profile"
	"github.com/deusversus/aidm/internal/research"
	"github.com/deusversus/aidm/internal/resilience"
	"github.com/deusversus/aidm/internal/scrape"
	"github.com/deusversus/aidm/internal/state"
	memorypg "github.com/deusversus/aidm/pkg/memory/postgres"
	"github.com/deusversus/aidm/pkg/provider/embeddings"
	"github.com/deusversus/aidm/pkg/provider/llm"
	"github.com/deusversus/aidm/pkg/provider/llm/anyllm"
	embeddingsollama "github.com/deusversus/aidm/pkg/provider/embeddings/ollama"
	embeddingsopenai "github.com/deusversus/aidm/pkg/provider/embeddings/openai"
)

// App is the assembled engine.
type App struct {
	cfg *config.Config

	pool       *pgxpool.Pool
	stateStore *state.Store
	memStore   *memorypg.Store

	profiles *profile.Store
	alias    *profile.AliasIndex

	layer    *llmcap.Layer
	embedder embeddings.Provider

	cache    *scrape.Cache
	anilist  *scrape.AniListClient
	fandom   *scrape.FandomClient
	research *research.Pipeline

	host    *mcphost.Host
	metrics *observe.Metrics

	sessions *SessionManager
}

// DefaultRegistry returns a provider registry with the stock factories
// registered: any-llm-go for every supported LLM provider, OpenAI and
// Ollama for embeddings.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()
	for _, name := range config.ValidProviderNames["llm"] {
		r.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(nameFor(entry), entry.Model, anyllmOptions(entry)...)
		})
	}
	r.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsopenai.New(entry.APIKey, entry.Model)
	})
	r.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsollama.New(entry.BaseURL, entry.Model)
	})
	return r
}

// New constructs and migrates the full engine. No gameplay starts here;
// the session manager waits for session zero.
func New(ctx context.Context, cfg *config.Config, registry *config.Registry) (*App, error) {
	setupLogging(cfg.Server.LogLevel)

	a := &App{cfg: cfg, metrics: observe.DefaultMetrics()}

	// Relational + vector stores share one Postgres.
	pool, err := pgxpool.New(ctx, cfg.Memory.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	a.pool = pool
	a.stateStore = state.New(pool)
	if err := state.Migrate(ctx, pool); err != nil {
		a.Shutdown(ctx)
		return nil, err
	}
	memStore, err := memorypg.NewStoreFromPool(ctx, pool, cfg.Memory.EmbeddingDimensions) // shares the state pool
	if err != nil {
		a.Shutdown(ctx)
		return nil, fmt.Errorf("app: memory store: %w", err)
	}
	a.memStore = memStore

	// Profile documents + process-global alias index (read-only after
	// startup).
	a.profiles, err = profile.NewStore(cfg.Profiles.Dir)
	if err != nil {
		a.Shutdown(ctx)
		return nil, err
	}
	existing, err := a.profiles.List()
	if err != nil {
		a.Shutdown(ctx)
		return nil, err
	}
	a.alias = profile.BuildIndex(existing)

	// Providers and the capability layer. With more than one provider
	// configured, each is wrapped in a circuit-breaking fallback group so a
	// degraded provider routes around to the others before an agent sees
	// an error.
	raw := map[string]llm.Provider{}
	for key, entry := range cfg.Providers.LLM {
		if entry.Name == "" {
			entry.Name = key
		}
		p, err := registry.CreateLLM(entry)
		if err != nil {
			a.Shutdown(ctx)
			return nil, fmt.Errorf("app: llm provider %q: %w", key, err)
		}
		raw[key] = p
	}
	providers := map[string]llm.Provider{}
	for key, p := range raw {
		if len(raw) == 1 {
			providers[key] = p
			continue
		}
		fo := resilience.NewModelFailover(key, p)
		for other, op := range raw {
			if other != key {
				fo.Add(other, op)
			}
		}
		providers[key] = fo
	}
	agents := map[string]llmcap.ModelRef{}
	for name, sel := range cfg.Agents.PerAgent {
		agents[name] = llmcap.ModelRef{Provider: sel.Provider, Model: sel.Model}
	}
	a.layer = llmcap.New(providers, agents, llmcap.ModelRef{
		Provider: cfg.Agents.Default.Provider,
		Model:    cfg.Agents.Default.Model,
	})

	if cfg.Providers.Embeddings.Name != "" {
		a.embedder, err = registry.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			a.Shutdown(ctx)
			return nil, fmt.Errorf("app: embeddings provider: %w", err)
		}
	}

	// Scrapers + research pipeline.
	a.cache, err = scrape.OpenCache(cfg.Scraper.CachePath)
	if err != nil {
		a.Shutdown(ctx)
		return nil, err
	}
	anilistEndpoint := cfg.Scraper.AniListEndpoint
	if anilistEndpoint == "" {
		anilistEndpoint = scrape.DefaultAniListEndpoint
	}
	wikiBase := cfg.Scraper.WikiBase
	if wikiBase == "" {
		wikiBase = scrape.DefaultWikiBase
	}
	a.anilist = scrape.NewAniListClient(anilistEndpoint, nil, a.cache)
	a.fandom = scrape.NewFandomClient(wikiBase, nil, a.cache)
	a.research = research.New(a.anilist, a.fandom, a.layer, a.profiles, a.memStore.Vectors(), a.embedder)

	// MCP host with the always-on builtin tools; campaign-scoped tools
	// (recall_scene, production set) register at session start.
	a.host = mcphost.New()
	for _, t := range append(diceroller.Tools(), rulelibrary.Tools()...) {
		if err := registerTool(a.host, t); err != nil {
			a.Shutdown(ctx)
			return nil, err
		}
	}
	for _, server := range cfg.MCP.Servers {
		if err := a.host.RegisterServer(ctx, serverConfig(server)); err != nil {
			slog.Warn("mcp server registration failed", "server", server.Name, "error", err)
		}
	}

	a.sessions = NewSessionManager(a)
	slog.Info("aidm assembled", "profiles", len(existing), "llm_providers", len(providers))
	return a, nil
}

// Run blocks until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	<-ctx.Done()
	return a.Shutdown(context.Background())
}

// Sessions returns the session manager — the surface the thin HTTP adapter
// consumes.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// PingDatabase is the readiness check for the shared Postgres instance.
func (a *App) PingDatabase(ctx context.Context) error {
	if a.pool == nil {
		return fmt.Errorf("database pool closed")
	}
	return a.pool.Ping(ctx)
}

// CheckProfiles is the readiness check for the profile document store: the
// directory must be listable, or session zero cannot hand off a campaign.
func (a *App) CheckProfiles(ctx context.Context) error {
	_, err := a.profiles.List()
	return err
}

// Shutdown releases all resources. Safe to call on a partially-constructed
// App and safe to call twice.
func (a *App) Shutdown(ctx context.Context) error {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.host != nil {
		_ = a.host.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return nil
}

func setupLogging(level config.LogLevel) {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func nameFor(entry config.ProviderEntry) string {
	return entry.Name
}

func anyllmOptions(entry config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return opts
}

func serverConfig(s config.MCPServerConfig) mcp.ServerConfig {
	return mcp.ServerConfig{
		Name:      s.Name,
		Transport: mcp.Transport(s.Transport),
		Command:   s.Command,
		URL:       s.URL,
		Env:       s.Env,
	}
}

func registerTool(host *mcphost.Host, t tools.Tool) error {
	return host.RegisterBuiltin(mcphost.BuiltinTool{
		Definition:  t.Definition,
		Handler:     t.Handler,
		Surfaces:    t.Surfaces,
		DeclaredP50: t.DeclaredP50,
		DeclaredMax: t.DeclaredMax,
	})
}

// toolSurface adapts one host surface to the agent-side interface. The
// host's surface tagging keeps each agent inside its own tool set — the
// production agent never sees recall_scene, the narration path never sees
// plant_seed.
type toolSurface struct {
	host    *mcphost.Host
	surface mcp.Surface
}

func (s *toolSurface) AvailableTools() []llm.ToolDefinition {
	// Each surface gets the deepest budget its pipeline position affords.
	return s.host.ToolsFor(s.surface, mcphost.SurfaceTier(s.surface))
}

func (s *toolSurface) ExecuteTool(ctx context.Context, name, args string) (string, error) {
	res, err := s.host.ExecuteTool(ctx, name, args)
	if err != nil {
		return "", err
	}
	if res.IsError {
		return "", fmt.Errorf("tool %s: %s", name, res.Content)
	}
	return res.Content, nil
}

var _ agent.ToolSurface = (*toolSurface)(nil)
