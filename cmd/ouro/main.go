// Command ouro runs the agent runtime: a single task to completion, or an
// interactive session when --task is omitted.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ouro-ai-labs/ouro/internal/agent"
	"github.com/ouro-ai-labs/ouro/internal/agent/providers"
	"github.com/ouro-ai-labs/ouro/internal/agent/tape"
	"github.com/ouro-ai-labs/ouro/internal/audit"
	"github.com/ouro-ai-labs/ouro/internal/config"
	"github.com/ouro-ai-labs/ouro/internal/memory"
	"github.com/ouro-ai-labs/ouro/internal/observability"
	"github.com/ouro-ai-labs/ouro/internal/sessionstore"
	"github.com/ouro-ai-labs/ouro/pkg/models"
)

var (
	configPath  string
	taskFlag    string
	modelFlag   string
	resumeFlag  string
	verboseFlag bool
	profileFlag string
	recordFlag  string
	replayFlag  string
)

// Build information, populated by ldflags at release build time:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes per spec §6: 0 success, 1 cancellation, 2 usage error, 3
// unrecoverable runtime error.
const (
	exitOK          = 0
	exitCancelled   = 1
	exitUsageError  = 2
	exitRuntimeFail = 3
)

func main() {
	root := &cobra.Command{
		Use:          "ouro",
		Short:        "Run the ouro agent runtime against one task, or interactively",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVar(&configPath, "config", "ouro.conf", "path to the KEY=VALUE config file")
	root.Flags().StringVarP(&taskFlag, "task", "t", "", "run a single task non-interactively (omit for an interactive session)")
	root.Flags().StringVar(&modelFlag, "model", "", "override the active model for this run")
	root.Flags().StringVar(&resumeFlag, "resume", "", `resume a session by ID, unambiguous ID prefix, or "latest"`)
	root.Flags().BoolVar(&verboseFlag, "verbose", false, "verbose logs to the runtime's log directory")
	root.Flags().StringVar(&profileFlag, "profile", "", "named config profile (looks for <profile>.conf alongside --config; or set OURO_PROFILE)")
	root.Flags().StringVar(&recordFlag, "record", "", "record every LLM completion to a tape file at this path, for offline replay in tests")
	root.Flags().StringVar(&replayFlag, "replay", "", "serve LLM completions from a previously recorded tape file instead of calling the real provider")

	if err := root.Execute(); err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintln(os.Stderr, usageErr)
			os.Exit(exitUsageError)
		}
		if errors.Is(err, context.Canceled) || isFatalCancelled(err) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitCancelled)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntimeFail)
	}
}

// usageError marks a flag/argument error so main can map it to exit code 2
// (spec §6) instead of the generic 3.
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

func isFatalCancelled(err error) bool {
	var fatal *agent.FatalError
	return errors.As(err, &fatal) && fatal.Kind == agent.FatalCancelled
}

// resolveProfileConfigPath applies --profile/OURO_PROFILE (spec SPEC_FULL.md
// §2's CLI row): a named profile "foo" resolves to "foo.conf" alongside the
// directory of the --config default, leaving an explicitly passed --config
// path untouched so the more specific flag always wins.
func resolveProfileConfigPath(configPath, profileFlag string) string {
	profile := strings.TrimSpace(profileFlag)
	if profile == "" {
		profile = strings.TrimSpace(os.Getenv("OURO_PROFILE"))
	}
	if profile == "" {
		return configPath
	}
	return filepath.Join(filepath.Dir(configPath), profile+".conf")
}

func run(cmd *cobra.Command, _ []string) error {
	configPath = resolveProfileConfigPath(configPath, profileFlag)

	cfg, err := config.Load(configPath)
	if err != nil {
		return usageError{err}
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if verboseFlag {
		cfg.LogLevel = "debug"
	}

	logLevel := new(slog.LevelVar)
	logger := newLogger(cfg, logLevel)
	slog.SetDefault(logger)

	if recordFlag != "" && replayFlag != "" {
		return usageError{fmt.Errorf("--record and --replay are mutually exclusive")}
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	var recorder *tape.Recorder
	switch {
	case recordFlag != "":
		recorder = tape.NewRecorder(provider).WithModel(cfg.Model)
		provider = recorder
	case replayFlag != "":
		data, err := os.ReadFile(replayFlag)
		if err != nil {
			return usageError{fmt.Errorf("read replay tape: %w", err)}
		}
		recorded, err := tape.Unmarshal(data)
		if err != nil {
			return usageError{fmt.Errorf("parse replay tape: %w", err)}
		}
		provider = tape.NewReplayer(recorded)
		logger.Info("replaying recorded tape instead of calling a live provider", "path", replayFlag, "turns", recorded.TotalTurns())
	}

	registry := agent.NewToolRegistry()

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "ouro",
		Endpoint:    cfg.OTLPEndpoint,
	})
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracing: shutdown failed", "error", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		stopMetricsServer := serveMetrics(cfg.MetricsAddr, logger)
		defer stopMetricsServer()
	}

	var eventStore agent.ToolEventStore
	if cfg.AuditDBPath != "" {
		auditStore, err := audit.Open(cfg.AuditDBPath)
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer auditStore.Close()
		eventStore = auditStore
	}

	runtimeOpts := agent.RuntimeOptions{
		MaxInnerIterations: cfg.MaxInnerIterations,
		MaxOuterIterations: cfg.MaxOuterIterations,
		ToolParallelism:    cfg.ToolParallelism,
		ToolTimeout:        cfg.ToolTimeout(),
		MaxSubAgents:       cfg.MaxSubAgents,
		MaxSubAgentDepth:   cfg.MaxSubAgentDepth,
		EventStore:         eventStore,
		ToolResultGuard: agent.ToolResultGuard{
			MaxChars:        cfg.ToolResultMaxChars,
			Denylist:        cfg.ToolResultDenylist,
			SanitizeSecrets: cfg.ToolResultSanitizeSecrets,
		},
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	}
	rt := agent.NewRuntime(provider, registry, runtimeOpts)

	spawner := agent.NewSpawner(rt)
	spawner.RegisterTools(registry)

	store, err := sessionstore.New(cfg.SessionDir)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	mgr, err := openSession(store, cfg, provider, metrics)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Warn("received interrupt, cancelling run")
		cancel()
	}()

	onEvent := func(ev models.AgentEvent) {
		logger.Debug("agent event", "type", ev.Type, "iter", ev.IterIndex)
	}

	var runErr error
	if taskFlag == "" {
		watchConfigForReload(ctx, configPath, logLevel, logger)
		runErr = runInteractive(ctx, rt, mgr, store, &cfg, logger, onEvent)
	} else {
		runErr = runSingleTask(ctx, rt, mgr, cfg, logger, onEvent)
	}

	if recorder != nil {
		if writeErr := writeTape(recordFlag, recorder.Tape()); writeErr != nil {
			logger.Warn("tape: failed to write recording", "path", recordFlag, "error", writeErr)
		} else {
			logger.Info("recorded tape", "path", recordFlag, "turns", recorder.Tape().TotalTurns())
		}
	}
	return runErr
}

// writeTape serializes t as indented JSON and writes it to path, for a
// later --replay run or for checking into a test fixtures directory.
func writeTape(path string, t *tape.Tape) error {
	data, err := t.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// runSingleTask runs one non-interactive task through the Outer Loop
// verifier and exits (spec §4.8: the Ralph loop is enabled only for
// single-task runs).
func runSingleTask(ctx context.Context, rt *agent.Runtime, mgr *memory.Manager, cfg config.Config, logger *slog.Logger, onEvent func(models.AgentEvent)) error {
	result, runErr := rt.Process(ctx, mgr, taskFlag, false, onEvent)
	if result != "" {
		fmt.Println(result)
	}
	reportCost(mgr, cfg, logger)
	return runErr
}

// runInteractive is the REPL described in spec §6: multi-line input plus
// slash commands (/help, /clear, /stats, /resume, /model, /compact, /exit).
// Ordinary lines run through the Inner Loop only -- the Outer Loop verifier
// is disabled for interactive runs per spec §4.8.
func runInteractive(ctx context.Context, rt *agent.Runtime, mgr *memory.Manager, store *sessionstore.Store, cfg *config.Config, logger *slog.Logger, onEvent func(models.AgentEvent)) error {
	fmt.Println("ouro interactive session -- type /help for commands, /exit to quit.")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		if ctx.Err() != nil {
			return agent.NewFatalError(agent.FatalCancelled, ctx.Err())
		}
		fmt.Print("> ")
		if !scanner.Scan() {
			break // EOF (e.g. piped input or Ctrl-D)
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			next, handled, err := handleSlashCommand(ctx, line, mgr, store, cfg)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				continue
			}
			if next != nil {
				mgr = next
			}
			if !handled {
				break // /exit
			}
			continue
		}

		result, runErr := rt.Process(ctx, mgr, line, true, onEvent)
		if runErr != nil {
			var fatal *agent.FatalError
			if errors.As(runErr, &fatal) && fatal.Kind == agent.FatalCancelled {
				return runErr
			}
			fmt.Fprintln(os.Stderr, "error:", runErr)
			continue
		}
		if result != "" {
			fmt.Println(result)
		}
	}

	reportCost(mgr, *cfg, logger)
	return nil
}

// handleSlashCommand processes one interactive slash command. If it
// replaces the active Memory Manager (e.g. /clear, /resume), the new
// Manager is returned; handled is false only for /exit.
func handleSlashCommand(ctx context.Context, line string, mgr *memory.Manager, store *sessionstore.Store, cfg *config.Config) (*memory.Manager, bool, error) {
	fields := strings.Fields(line)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/help":
		fmt.Println("/help             show this message")
		fmt.Println("/clear            start a fresh session")
		fmt.Println("/stats            show token/cost/compression stats")
		fmt.Println("/resume [id]      resume a session by ID, prefix, or \"latest\"")
		fmt.Println("/model [id]       show or change the active model")
		fmt.Println("/compact          force an immediate memory compression")
		fmt.Println("/exit             quit")
		return nil, true, nil

	case "/clear":
		fresh := memory.New(uuid.NewString(), memory.ManagerOptions{
			Buffer:               bufferOptionsFromConfig(*cfg),
			CompressionThreshold: cfg.MemoryCompressionThreshold,
			Compressor:           mgr.CompressorOrNil(),
			Persister:            store,
		})
		return fresh, true, nil

	case "/stats":
		stats := mgr.Stats()
		fmt.Printf("messages=%d input_tokens=%d output_tokens=%d compressions=%d cost_usd=%.4f\n",
			stats.TotalMessages, stats.TotalInputTokens, stats.TotalOutputTokens,
			stats.CompressionCount, mgr.EstimatedCostUSD(cfg.Model))
		return nil, true, nil

	case "/resume":
		if arg == "" {
			return nil, true, fmt.Errorf("usage: /resume <id|prefix|latest>")
		}
		id, err := store.Resolve(arg)
		if err != nil {
			return nil, true, err
		}
		session, err := store.Load(id)
		if err != nil {
			return nil, true, err
		}
		resumed := memory.FromSession(session, memory.ManagerOptions{
			Buffer:               bufferOptionsFromConfig(*cfg),
			CompressionThreshold: cfg.MemoryCompressionThreshold,
			Compressor:           mgr.CompressorOrNil(),
			Persister:            store,
		})
		fmt.Printf("resumed session %s\n", id)
		return resumed, true, nil

	case "/model":
		if arg == "" {
			fmt.Println(cfg.Model)
			return nil, true, nil
		}
		cfg.Model = arg
		fmt.Printf("model set to %s\n", arg)
		return nil, true, nil

	case "/compact":
		if err := mgr.Compact(ctx); err != nil {
			return nil, true, err
		}
		fmt.Println("compacted")
		return nil, true, nil

	case "/exit", "/quit":
		return nil, false, nil

	default:
		return nil, true, fmt.Errorf("unknown command %q (try /help)", cmd)
	}
}

func reportCost(mgr *memory.Manager, cfg config.Config, logger *slog.Logger) {
	if cost := mgr.EstimatedCostUSD(cfg.Model); cost > 0 {
		logger.Info("session cost", "model", cfg.Model, "usd", cost)
	}
}

// newLogger builds the process logger around a *slog.LevelVar rather than a
// fixed Level, so a config file reload (see watchConfigForReload) can adjust
// verbosity of a running interactive session without a restart.
func newLogger(cfg config.Config, level *slog.LevelVar) *slog.Logger {
	level.Set(observability.LogLevelFromString(cfg.LogLevel))
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// watchConfigForReload starts an fsnotify watch on the config file for the
// life of ctx, applying LOG_LEVEL changes to level as they land (spec
// SPEC_FULL.md §2: fsnotify "for live reload of the runtime config file
// while the daemon/interactive session is up"). Every other field of a
// reloaded Config is intentionally left unapplied: the Runtime Controller's
// iteration caps, tool parallelism, and provider wiring are spec §9's
// "loaded once at process start into an immutable struct", and silently
// changing them under a running loop would violate that invariant.
func watchConfigForReload(ctx context.Context, path string, level *slog.LevelVar, logger *slog.Logger) {
	watcher, err := config.NewWatcher(path, logger)
	if err != nil {
		logger.Debug("config: live reload disabled", "path", path, "error", err)
		return
	}
	go func() {
		<-ctx.Done()
		watcher.Close()
	}()
	go watcher.Run(ctx, path, func(reloaded config.Config) {
		level.Set(observability.LogLevelFromString(reloaded.LogLevel))
	})
}

// serveMetrics exposes the process's Prometheus registry at GET /metrics on
// addr (spec SPEC_FULL.md §10: "a metrics endpoint for loop iterations, tool
// executions, compression events, and token usage"). It returns a stop
// function that shuts the server down with a bounded grace period; a listen
// failure is logged and treated as non-fatal, since a stalled scrape target
// must never take the agent runtime down with it.
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics: server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics: serving", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics: shutdown failed", "addr", addr, "error", err)
		}
	}
}

func buildProvider(cfg config.Config) (agent.LLMProvider, error) {
	// RETRY_MAX_ATTEMPTS / RETRY_INITIAL_DELAY (spec §6) govern each
	// provider adapter's own rate-limit retry loop; RETRY_MAX_DELAY caps
	// the exponential backoff inside each adapter's retryDelay doubling.
	maxRetries := cfg.RetryMaxAttempts
	retryDelay := cfg.RetryInitialDelay()

	switch cfg.Provider {
	case "anthropic", "":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   maxRetries,
			RetryDelay:   retryDelay,
		})
	case "openai":
		return providers.NewOpenAIProvider(cfg.APIKey).WithRetryPolicy(maxRetries, retryDelay), nil
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			DefaultModel: cfg.Model,
			MaxRetries:   maxRetries,
			RetryDelay:   retryDelay,
		})
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:     cfg.APIKey,
			MaxRetries: maxRetries,
			RetryDelay: retryDelay,
		})
	case "azure":
		return providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{
			Endpoint:   cfg.BaseURL,
			APIKey:     cfg.APIKey,
			MaxRetries: maxRetries,
			RetryDelay: retryDelay,
		})
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.Model,
			MaxRetries:   maxRetries,
			RetryDelay:   retryDelay,
		})
	case "copilot-proxy":
		return providers.NewCopilotProxyProvider(providers.CopilotProxyConfig{
			BaseURL: cfg.BaseURL,
		})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// bufferOptionsFromConfig maps MEMORY_SHORT_TERM_SIZE/MEMORY_SHORT_TERM_MIN_SIZE
// (spec §6) onto the Short-Term Buffer's sizing knobs.
func bufferOptionsFromConfig(cfg config.Config) memory.BufferOptions {
	return memory.BufferOptions{
		MaxSize: cfg.MemoryShortTermSize,
		MinSize: cfg.MemoryShortTermMinSize,
	}
}

func openSession(store *sessionstore.Store, cfg config.Config, provider agent.LLMProvider, metrics *observability.Metrics) (*memory.Manager, error) {
	var compressor *memory.Compressor
	if cfg.MemoryEnabled {
		maxChars := int(float64(cfg.MemoryCompressionThreshold) * cfg.MemoryCompressionRatio * charsPerToken)
		compressor = memory.NewCompressor(&agent.LLMSummarizer{Provider: provider, Model: cfg.Model}, memory.CompressorOptions{
			Strategy: memory.StrategySlidingWindow,
			MaxChars: maxChars,
			Metrics:  metrics,
		})
	}

	opts := memory.ManagerOptions{
		Buffer:               bufferOptionsFromConfig(cfg),
		CompressionThreshold: cfg.MemoryCompressionThreshold,
		Compressor:           compressor,
		Persister:            store,
	}

	if resumeFlag == "" {
		return memory.New(uuid.NewString(), opts), nil
	}

	id, err := store.Resolve(resumeFlag)
	if err != nil {
		return nil, fmt.Errorf("resume %q: %w", resumeFlag, err)
	}
	session, err := store.Load(id)
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", id, err)
	}
	return memory.FromSession(session, opts), nil
}

// charsPerToken is a rough estimator consistent with internal/memory's own
// token-accounting heuristic, used only to size the Compressor's output cap
// from MEMORY_COMPRESSION_RATIO.
const charsPerToken = 4
