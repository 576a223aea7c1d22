// Package jarvis wires the services together: config, tools, models,
// checkpoints, the conversation engine and the safety gate. The
// drivers (CLI, tests) talk to a Jarvis instance instead of plumbing
// the parts themselves.
package jarvis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jarvisproj/jarvis/internal/checkpoint"
	"github.com/jarvisproj/jarvis/internal/config"
	"github.com/jarvisproj/jarvis/internal/graph"
	"github.com/jarvisproj/jarvis/internal/knowledge"
	"github.com/jarvisproj/jarvis/internal/llm/ollama"
	"github.com/jarvisproj/jarvis/internal/llmfactory"
	"github.com/jarvisproj/jarvis/internal/memory"
	"github.com/jarvisproj/jarvis/internal/safety"
	"github.com/jarvisproj/jarvis/internal/scheduler"
	"github.com/jarvisproj/jarvis/internal/tools"
	"github.com/jarvisproj/jarvis/internal/tools/local"
	"github.com/jarvisproj/jarvis/internal/tools/local/browser"
	"github.com/jarvisproj/jarvis/internal/tools/local/fileop"
	"github.com/jarvisproj/jarvis/internal/tools/local/knowledgebase"
	"github.com/jarvisproj/jarvis/internal/tools/local/memoryop"
	"github.com/jarvisproj/jarvis/internal/tools/local/pyexec"
	"github.com/jarvisproj/jarvis/internal/tools/local/reminder"
	"github.com/jarvisproj/jarvis/internal/tools/local/shellexec"
	"github.com/jarvisproj/jarvis/internal/tools/local/switchrole"
	"github.com/jarvisproj/jarvis/internal/tools/local/syscontrol"
	"github.com/jarvisproj/jarvis/internal/tools/local/vision"
)

// MainThreadID is the single conversation thread of the assistant.
const MainThreadID = "jarvis-main-thread"

// Options tweak construction beyond the config file.
type Options struct {
	// DisableSafety clears the break-before set; every tool call then
	// runs without approval.
	DisableSafety bool

	// Announce receives fired reminders. Nil drops them.
	Announce scheduler.Announce

	// Ask is the consent prompt for dangerous tool batches. Nil means
	// every dangerous batch is rejected.
	Ask safety.Asker

	// Store overrides the SQLite checkpointer (tests).
	Store graph.Checkpointer

	Logger *slog.Logger
}

// Jarvis aggregates the assistant's services.
type Jarvis struct {
	Config      *config.Config
	Engine      *graph.Engine
	Interceptor *safety.Interceptor
	Registry    *tools.Registry
	Factory     *llmfactory.Factory
	Memory      *memory.Store
	Knowledge   *knowledge.Store
	Scheduler   *scheduler.Scheduler
	Workspace   *local.Workspace

	store     graph.Checkpointer
	ownsStore bool
	browser   *browser.Tool
	logger    *slog.Logger
}

// New builds a fully wired Jarvis from cfg. The returned instance owns
// its stores; call Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Jarvis, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workspace, err := local.NewWorkspace(cfg.Workspace.Dir)
	if err != nil {
		return nil, err
	}

	memStore, err := memory.NewStore(cfg.Workspace.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}

	// Embeddings come from the local Ollama server regardless of which
	// provider serves chat. A dead server surfaces as tool errors, not
	// as a startup failure.
	embedder := ollama.NewClient("", cfg.LLM.OllamaHost)
	knowStore, err := knowledge.NewStore(cfg.Workspace.DataDir, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge store: %w", err)
	}

	sched := scheduler.New(opts.Announce, logger)

	registry := tools.NewRegistry()
	factory := llmfactory.New(cfg, registry, logger)

	browserTool := browser.New(cfg.Browser.TaskTimeout, workspace.Root())
	registry.Register(switchrole.New())
	registry.Register(memoryop.New(memStore))
	registry.Register(knowledgebase.NewQuery(knowStore))
	registry.Register(knowledgebase.NewIngest(knowStore, workspace))
	registry.Register(vision.New(&visionAnalyzer{factory: factory}, nil))
	registry.Register(syscontrol.New())
	registry.Register(fileop.New(workspace))
	registry.Register(shellexec.New(workspace))
	registry.Register(pyexec.New(workspace))
	registry.Register(browserTool)
	registry.Register(browser.NewSearch(browserTool))
	registry.Register(reminder.New(sched))

	// The default role must be bindable or the assistant is useless.
	if _, err := factory.Bind(ctx, "default"); err != nil {
		return nil, err
	}

	store := opts.Store
	ownsStore := false
	if store == nil {
		sqlStore, err := checkpoint.NewSQLiteStore(filepath.Join(cfg.Workspace.DataDir, "checkpoints.db"))
		if err != nil {
			return nil, fmt.Errorf("opening checkpoint store: %w", err)
		}
		store = sqlStore
		ownsStore = true
	}

	engineOpts := []graph.Option{
		graph.WithMaxHistory(cfg.History.MaxMessages),
		graph.WithLogger(logger),
		graph.WithPrompt(graph.PromptConfig{
			Persona: graph.DefaultPersona,
			Suffix:  memStore.PromptSuffix,
		}),
	}
	if opts.DisableSafety {
		engineOpts = append(engineOpts, graph.WithoutInterrupts())
	}
	engine := graph.NewEngine(factory, registry, store, engineOpts...)

	interceptor := safety.New(safety.Config{
		Registry:        registry,
		Ask:             opts.Ask,
		AutoApproveSafe: cfg.Safety.AutoApproveSafe,
		Logger:          logger,
	})

	sched.Start()

	return &Jarvis{
		Config:      cfg,
		Engine:      engine,
		Interceptor: interceptor,
		Registry:    registry,
		Factory:     factory,
		Memory:      memStore,
		Knowledge:   knowStore,
		Scheduler:   sched,
		Workspace:   workspace,
		store:       store,
		ownsStore:   ownsStore,
		browser:     browserTool,
		logger:      logger,
	}, nil
}

// Close releases the background services and owned stores.
func (j *Jarvis) Close() error {
	j.Scheduler.Stop()
	j.browser.Close()
	if j.ownsStore {
		return j.store.Close()
	}
	return nil
}

// visionAnalyzer defers Gemini construction until the first image, so
// a missing vision credential costs nothing unless the tool runs.
type visionAnalyzer struct {
	factory *llmfactory.Factory
}

func (v *visionAnalyzer) AnalyzeImage(ctx context.Context, prompt string, image []byte, format string) (string, error) {
	client, err := v.factory.Vision(ctx)
	if err != nil {
		return "", err
	}
	return client.AnalyzeImage(ctx, prompt, image, format)
}
