// Command jarvisd runs the task controller as a local assistant: it wires
// the memory stores, cache, sandbox, tools, privacy wrapper, retriever, and
// model client from configuration, then serves utterances from a flag or an
// interactive prompt.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"goa.design/clue/log"
	"golang.org/x/time/rate"

	rediscache "github.com/bentman/jarvis/features/cache/redis"
	"github.com/bentman/jarvis/features/episodic/leveldb"
	"github.com/bentman/jarvis/features/model/anthropic"
	"github.com/bentman/jarvis/features/model/catalog"
	"github.com/bentman/jarvis/features/model/openai"
	"github.com/bentman/jarvis/features/semantic/flat"
	"github.com/bentman/jarvis/features/workingstate/local"
	"github.com/bentman/jarvis/runtime/config"
	"github.com/bentman/jarvis/runtime/controller"
	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/model"
	"github.com/bentman/jarvis/runtime/privacy"
	"github.com/bentman/jarvis/runtime/retrieval"
	"github.com/bentman/jarvis/runtime/sandbox"
	"github.com/bentman/jarvis/runtime/telemetry"
	"github.com/bentman/jarvis/runtime/tools"
)

const fallbackMessage = "The model backend is unavailable. Start it and try again."

func main() {
	var (
		envFile       = flag.String("env", ".env", "environment file")
		modelsFile    = flag.String("models", "", "model catalog file (overrides MODEL_CATALOG)")
		input         = flag.String("input", "", "run one utterance and exit")
		taskID        = flag.String("task", "", "task id to resume")
		healthOnly    = flag.Bool("health", false, "print component health and exit")
		allowWrite    = flag.Bool("allow-write", false, "permit WRITE_SAFE tools")
		allowExternal = flag.Bool("allow-external", false, "permit external tools")
	)
	flag.Parse()

	cfg := config.Load(*envFile)

	format := log.FormatJSON
	if cfg.Debug == config.ModeDev {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if cfg.Debug == config.ModeDev {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()

	for _, dir := range []string{cfg.DataDir, cfg.WorkingStateDir(), cfg.SemanticDir(), cfg.ArchiveDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal(ctx, err, log.KV{K: "msg", V: "data directory unavailable"}, log.KV{K: "dir", V: dir})
		}
	}

	// Model client, from the catalog when one is configured.
	catalogPath := *modelsFile
	if catalogPath == "" {
		catalogPath = cfg.ModelCatalog
	}
	chatModel, embedModel, baseURL := cfg.ModelName, cfg.EmbeddingModel, cfg.ModelBaseURL
	if catalogPath != "" {
		cat, err := catalog.Load(catalogPath)
		if err != nil {
			log.Fatal(ctx, err, log.KV{K: "msg", V: "model catalog unreadable"})
		}
		spec := cat.Default()
		if chatModel == "" {
			chatModel = spec.ChatModel
		}
		if embedModel == "" {
			embedModel = spec.EmbeddingModel
		}
		if baseURL == "" {
			baseURL = spec.BaseURL
		}
	}
	if chatModel == "" {
		log.Fatal(ctx, fmt.Errorf("no chat model configured"),
			log.KV{K: "msg", V: "set MODEL_NAME or provide a model catalog"})
	}
	var (
		generator model.Generator
		pinger    model.Pinger
		embedder  model.Embedder
	)
	switch cfg.ModelProvider {
	case "anthropic":
		claude, err := anthropic.New(&anthropic.Options{
			Model:  chatModel,
			APIKey: cfg.ModelAPIKey,
			Logger: logger,
		})
		if err != nil {
			log.Fatal(ctx, err, log.KV{K: "msg", V: "model client"})
		}
		generator, pinger = claude, claude
		// Claude has no embeddings endpoint; a local OpenAI-protocol
		// server still serves them when one is configured.
		if embedModel != "" && baseURL != "" {
			embeds, err := openai.New(&openai.Options{
				Model:          chatModel,
				EmbeddingModel: embedModel,
				BaseURL:        baseURL,
				APIKey:         cfg.ModelAPIKey,
				Logger:         logger,
			})
			if err != nil {
				log.Fatal(ctx, err, log.KV{K: "msg", V: "embedding client"})
			}
			embedder = embeds
		}
	case "openai":
		llm, err := openai.New(&openai.Options{
			Model:          chatModel,
			EmbeddingModel: embedModel,
			BaseURL:        baseURL,
			APIKey:         cfg.ModelAPIKey,
			Logger:         logger,
		})
		if err != nil {
			log.Fatal(ctx, err, log.KV{K: "msg", V: "model client"})
		}
		generator, pinger, embedder = llm, llm, llm
	default:
		log.Fatal(ctx, fmt.Errorf("unknown model provider %q", cfg.ModelProvider),
			log.KV{K: "msg", V: "MODEL_PROVIDER must be openai or anthropic"})
	}

	// Memory stores.
	episodic, err := leveldb.New(&leveldb.Options{Path: cfg.EpisodicPath(), Logger: logger})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "episodic store"})
	}
	defer episodic.Close()
	working, err := local.New(&local.Options{Dir: cfg.WorkingStateDir(), Logger: logger})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "working state store"})
	}
	var semantic memory.Semantic
	if embedModel != "" && embedder != nil {
		store, err := flat.New(&flat.Options{Dir: cfg.SemanticDir(), Embedder: embedder, Logger: logger})
		if err != nil {
			log.Fatal(ctx, err, log.KV{K: "msg", V: "semantic store"})
		}
		semantic = store
	}
	manager, err := memory.NewManager(&memory.ManagerOptions{
		Episodic: episodic,
		Working:  working,
		Semantic: semantic,
	})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "memory manager"})
	}
	defer manager.Close()

	// Fail-open cache.
	cacheClient, err := rediscache.New(&rediscache.Options{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Enabled:    cfg.CacheEnabled,
		DefaultTTL: cfg.CacheDefaultTTL,
		Logger:     logger,
	})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "cache client"})
	}
	defer cacheClient.Close()

	// Privacy wrapper, required for external tools.
	var wrapper *privacy.Wrapper
	if cfg.EnableSecurityAudit {
		audit, err := privacy.NewAuditLogger(cfg.AuditLogPath(), privacy.WithAuditLogger(logger))
		if err != nil {
			log.Fatal(ctx, err, log.KV{K: "msg", V: "audit log"})
		}
		defer audit.Close()
		// Detection off means the wrapper only gates and audits external
		// calls; detection without redaction reports PII but passes text
		// through unchanged.
		mode := privacy.ModeStrict
		switch {
		case !cfg.EnablePIIDetection:
			mode = privacy.ModeOff
		case !cfg.EnablePIIRedaction:
			mode = privacy.ModeDetect
		}
		wrapper, err = privacy.NewWrapper(&privacy.WrapperOptions{
			Redactor: privacy.NewRedactor(),
			Audit:    audit,
			Mode:     mode,
			Limiter:  rate.NewLimiter(rate.Limit(1), 5),
			Logger:   logger,
		})
		if err != nil {
			log.Fatal(ctx, err, log.KV{K: "msg", V: "privacy wrapper"})
		}
	}

	// Sandboxed file tools.
	sb, err := sandbox.New(&sandbox.Options{
		Roots:       []string{cfg.DataDir},
		AllowWrite:  true,
		AllowDelete: true,
	})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "sandbox"})
	}
	registry := tools.NewRegistry()
	if err := tools.RegisterFileTools(registry, sb); err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "tool registration"})
	}
	executor, err := tools.NewExecutor(&tools.Options{
		Registry:     registry,
		Cache:        cacheClient,
		CacheEnabled: cfg.CacheEnabled,
		CacheTTL:     cfg.ToolCacheTTL,
		Privacy:      wrapper,
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       tracer,
	})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "tool executor"})
	}

	var retriever *retrieval.Retriever
	if cfg.EnableHybridRetrieval {
		retriever = retrieval.New(&retrieval.Options{
			Working:  working,
			Semantic: semantic,
			Episodic: episodic,
			Config: retrieval.Config{
				MinFinalScore:           cfg.RetrievalMinFinalScore,
				WorkingRelevanceWeight:  cfg.WorkingRelevanceWeight,
				WorkingRecencyWeight:    cfg.WorkingRecencyWeight,
				SemanticRelevanceWeight: cfg.SemanticRelevanceWeight,
				SemanticRecencyWeight:   cfg.SemanticRecencyWeight,
				EpisodicRelevanceWeight: cfg.EpisodicRelevanceWeight,
				EpisodicRecencyWeight:   cfg.EpisodicRecencyWeight,
			},
			Logger: logger,
		})
	}

	ctrl, err := controller.New(&controller.Options{
		Memory:          manager,
		Generator:       generator,
		Pinger:          pinger,
		Tools:           executor,
		Retriever:       retriever,
		Cache:           cacheClient,
		CacheEnabled:    cfg.CacheEnabled,
		ContextCacheTTL: cfg.ContextCacheTTL,
		FallbackMessage: fallbackMessage,
		ArchiveDir:      cfg.ArchiveDir(),
		Logger:          logger,
		Metrics:         metrics,
		Tracer:          tracer,
	})
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "controller"})
	}

	if *healthOnly {
		printJSON(ctrl.CheckHealth(ctx))
		return
	}

	if *input != "" {
		runTurn(ctx, ctrl, *input, *taskID, *allowWrite, *allowExternal)
		return
	}

	log.Info(ctx, log.KV{K: "msg", V: "ready"}, log.KV{K: "model", V: chatModel}, log.KV{K: "data_dir", V: cfg.DataDir})
	scanner := bufio.NewScanner(os.Stdin)
	current := *taskID
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "exit", "quit":
			return
		default:
			current = runTurn(ctx, ctrl, line, current, *allowWrite, *allowExternal)
		}
		fmt.Print("> ")
	}
}

// runTurn executes one turn and prints the result. It returns the task id so
// the interactive loop keeps the conversation going.
func runTurn(ctx context.Context, ctrl *controller.Controller, input, taskID string, allowWrite, allowExternal bool) string {
	out, err := ctrl.Run(ctx, &controller.RunInput{
		UserInput:      input,
		TaskID:         taskID,
		AllowWriteSafe: allowWrite,
		AllowExternal:  allowExternal,
	})
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "run rejected"})
		return taskID
	}
	if out.FinalState != controller.StateArchive {
		log.Warn(ctx, log.KV{K: "msg", V: "run did not archive"},
			log.KV{K: "task_id", V: out.TaskID}, log.KV{K: "final_state", V: string(out.FinalState)})
	}
	fmt.Println(out.LLMOutput)
	return out.TaskID
}

func printJSON(v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(raw))
}
