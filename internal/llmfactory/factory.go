// Package llmfactory resolves role names to bound LLM clients. A role
// whose provider is misconfigured or unreachable falls back to the
// default role rather than failing the conversation.
package llmfactory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jarvisproj/jarvis/internal/config"
	"github.com/jarvisproj/jarvis/internal/llm"
	"github.com/jarvisproj/jarvis/internal/llm/claude"
	"github.com/jarvisproj/jarvis/internal/llm/gemini"
	"github.com/jarvisproj/jarvis/internal/llm/ollama"
	"github.com/jarvisproj/jarvis/internal/llm/openaichat"
	"github.com/jarvisproj/jarvis/internal/tools"
)

// ErrNoLLM indicates that not even the default role could be bound.
// The assistant cannot run without at least one working model.
var ErrNoLLM = errors.New("no usable LLM configured")

const pingTimeout = 2 * time.Second

// Factory builds and caches provider clients per role configuration.
// It implements the conversation engine's ModelBinder.
type Factory struct {
	cfg      *config.Config
	registry *tools.Registry
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]llm.Client
}

// New creates a factory over cfg. The registry supplies the tool
// definitions attached to every bound model.
func New(cfg *config.Config, registry *tools.Registry, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		cache:    make(map[string]llm.Client),
	}
}

// Bind resolves role to a bound client. Non-default roles that cannot
// be bound fall back to the default role with a logged warning, so a
// dead local model degrades the experience instead of breaking it.
func (f *Factory) Bind(ctx context.Context, role llm.Role) (*llm.Bound, error) {
	bound, err := f.bind(ctx, role)
	if err == nil {
		return bound, nil
	}

	if role != llm.RoleDefault {
		f.logger.Warn("role unavailable, falling back to default",
			"role", role, "error", err)
		bound, defErr := f.bind(ctx, llm.RoleDefault)
		if defErr == nil {
			return bound, nil
		}
		return nil, fmt.Errorf("%w: role %q failed (%v) and default failed: %v", ErrNoLLM, role, err, defErr)
	}
	return nil, fmt.Errorf("%w: %v", ErrNoLLM, err)
}

// Vision returns the raw Gemini client bound to the vision role, for
// image analysis outside the chat path. Fails when the vision role is
// not served by Gemini.
func (f *Factory) Vision(ctx context.Context) (*gemini.Client, error) {
	mc, err := f.cfg.LLM.ForRole(string(llm.RoleVision))
	if err != nil {
		return nil, err
	}
	client, err := f.client(ctx, mc)
	if err != nil {
		return nil, err
	}
	g, ok := client.(*gemini.Client)
	if !ok {
		return nil, fmt.Errorf("vision role is served by provider %q, image analysis requires gemini", mc.Provider)
	}
	return g, nil
}

func (f *Factory) bind(ctx context.Context, role llm.Role) (*llm.Bound, error) {
	mc, err := f.cfg.LLM.ForRole(string(role))
	if err != nil {
		return nil, err
	}

	client, err := f.client(ctx, mc)
	if err != nil {
		return nil, err
	}

	flavor := llm.FlavorStrict
	if mc.Provider == "ollama" {
		flavor = llm.FlavorLenient
	}

	return &llm.Bound{
		Client:   llm.NewInstrumentedClient(client, f.logger, mc.Provider, mc.Model),
		Provider: mc.Provider,
		Model:    mc.Model,
		Flavor:   flavor,
		Timeout:  mc.Timeout,
		Tools:    f.registry.ToDefinitions(),
	}, nil
}

// client returns a cached provider client for mc, creating it on first
// use. Ollama clients are probed for reachability before caching.
func (f *Factory) client(ctx context.Context, mc config.ModelConfig) (llm.Client, error) {
	key := mc.Provider + "\x00" + mc.Model + "\x00" + mc.BaseURL

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cache[key]; ok {
		return c, nil
	}

	var (
		client llm.Client
		err    error
	)
	switch mc.Provider {
	case "claude":
		client, err = claude.NewClient(mc.Model, mc.APIKey, mc.BaseURL)
	case "gemini":
		client, err = gemini.NewClient(ctx, mc.Model, mc.APIKey)
	case "openai", "deepseek":
		client, err = openaichat.NewClient(mc.Model, mc.APIKey, mc.BaseURL)
	case "ollama":
		host := mc.BaseURL
		if host == "" {
			host = f.cfg.LLM.OllamaHost
		}
		oc := ollama.NewClient(mc.Model, host)
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = oc.Ping(pingCtx)
		cancel()
		client = oc
	default:
		err = fmt.Errorf("unsupported LLM provider: %q (supported: claude, gemini, openai, deepseek, ollama)", mc.Provider)
	}
	if err != nil {
		return nil, err
	}

	f.cache[key] = client
	return client, nil
}
