// Package config loads the runtime's flat KEY=VALUE configuration file
// (spec §6's literal runtime config format) into an immutable Config.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the Runtime Controller's process-start configuration. It is
// loaded once and treated as immutable for the life of the process (spec
// §9: "the Runtime config is loaded once at process start into an
// immutable struct").
type Config struct {
	Provider   string // "anthropic", "openai", "bedrock", "google", "azure", "openrouter", "copilot-proxy", "ollama"
	Model      string
	APIKey     string
	BaseURL    string
	Workspace  string
	SessionDir string
	ModelsFile string

	// MaxInnerIterations is MAX_ITERATIONS (spec §6, default 1000): the
	// Inner Loop's ReAct iteration cap.
	MaxInnerIterations int
	// ToolTimeoutSeconds is TOOL_TIMEOUT (spec §6, default 600).
	ToolTimeoutSeconds int
	// MaxOuterIterations is RALPH_LOOP_MAX_ITERATIONS (spec §6, default 3).
	MaxOuterIterations int

	// MemoryEnabled is MEMORY_ENABLED (spec §6, default true). When false,
	// the runtime skips compression and buffering thresholds entirely --
	// the Memory Manager still records messages, it just never compresses.
	MemoryEnabled bool
	// MemoryCompressionThreshold is MEMORY_COMPRESSION_THRESHOLD (spec §6,
	// default 60000 tokens).
	MemoryCompressionThreshold int
	// MemoryShortTermSize is MEMORY_SHORT_TERM_SIZE (spec §6, default 100).
	MemoryShortTermSize int
	// MemoryShortTermMinSize is MEMORY_SHORT_TERM_MIN_SIZE (spec §6, default 6).
	MemoryShortTermMinSize int
	// MemoryCompressionRatio is MEMORY_COMPRESSION_RATIO (spec §6, default
	// 0.3): the target compressed-size fraction the Compressor's output
	// token cap is derived from.
	MemoryCompressionRatio float64

	// RetryMaxAttempts is RETRY_MAX_ATTEMPTS (spec §6, default 3).
	RetryMaxAttempts int
	// RetryInitialDelayMs is RETRY_INITIAL_DELAY in milliseconds (spec §6).
	RetryInitialDelayMs int
	// RetryMaxDelayMs is RETRY_MAX_DELAY in milliseconds (spec §6).
	RetryMaxDelayMs int

	// ToolParallelism, MaxSubAgents/MaxSubAgentDepth are ambient sizing
	// knobs spec §6 doesn't name explicitly but that a real deployment
	// needs; kept as additional KEY=VALUE entries (DESIGN.md).
	ToolParallelism  int
	MaxSubAgents     int
	MaxSubAgentDepth int

	MetricsAddr  string
	OTLPEndpoint string

	// AuditDBPath is AUDIT_DB_PATH: optional path to a SQLite database that
	// records every dispatched tool call/result pair for audit and replay
	// (internal/audit.SQLiteStore). Empty disables audit persistence.
	AuditDBPath string

	// ToolResultMaxChars is TOOL_RESULT_MAX_CHARS: truncates a persisted
	// tool result beyond this many characters. Zero disables truncation.
	ToolResultMaxChars int
	// ToolResultSanitizeSecrets is TOOL_RESULT_SANITIZE_SECRETS: applies
	// internal/agent's builtin secret-detection patterns to every tool
	// result before it is persisted to the session or an audit store.
	ToolResultSanitizeSecrets bool
	// ToolResultDenylist is TOOL_RESULT_DENYLIST: a comma-separated list of
	// tool names (or "prefix*" patterns) whose results are fully redacted
	// rather than merely sanitized, e.g. for tools known to echo credentials.
	ToolResultDenylist []string

	LogLevel  string
	LogFormat string // "text" or "json"
}

// Default returns baseline values for fields a config file may omit,
// matching spec §6's stated defaults for every key it names.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Provider:   "anthropic",
		Model:      "claude-sonnet-4-20250514",
		Workspace:  ".",
		SessionDir: joinNonEmpty(home, ".ouro", "sessions"),

		MaxInnerIterations: 1000,
		ToolTimeoutSeconds: 600,
		MaxOuterIterations: 3,

		MemoryEnabled:              true,
		MemoryCompressionThreshold: 60000,
		MemoryShortTermSize:        100,
		MemoryShortTermMinSize:     6,
		MemoryCompressionRatio:     0.3,

		RetryMaxAttempts:    3,
		RetryInitialDelayMs: 1000,
		RetryMaxDelayMs:     30000,

		ToolParallelism:  4,
		MaxSubAgents:     3,
		MaxSubAgentDepth: 1,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

func joinNonEmpty(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	out := kept[0]
	for _, p := range kept[1:] {
		out += string(os.PathSeparator) + p
	}
	return out
}

// Load reads a flat KEY=VALUE file (blank lines and #-prefixed comments
// ignored) and merges it over Default(). Unknown keys are rejected so a
// typo in the config file fails loudly rather than being silently ignored.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return cfg, parseInto(&cfg, f, path)
}

func parseInto(cfg *Config, r io.Reader, path string) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return fmt.Errorf("config: %s:%d: expected KEY=VALUE, got %q", path, line, text)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := setField(cfg, key, value); err != nil {
			return fmt.Errorf("config: %s:%d: %w", path, line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func setField(cfg *Config, key, value string) error {
	switch key {
	case "PROVIDER":
		cfg.Provider = value
	case "MODEL":
		cfg.Model = value
	case "API_KEY":
		cfg.APIKey = value
	case "BASE_URL":
		cfg.BaseURL = value
	case "WORKSPACE":
		cfg.Workspace = value
	case "SESSION_DIR":
		cfg.SessionDir = value
	case "MODELS_FILE":
		cfg.ModelsFile = value

	case "MAX_ITERATIONS":
		return setInt(&cfg.MaxInnerIterations, key, value)
	case "TOOL_TIMEOUT":
		return setInt(&cfg.ToolTimeoutSeconds, key, value)
	case "RALPH_LOOP_MAX_ITERATIONS":
		return setInt(&cfg.MaxOuterIterations, key, value)

	case "MEMORY_ENABLED":
		return setBool(&cfg.MemoryEnabled, key, value)
	case "MEMORY_COMPRESSION_THRESHOLD":
		return setInt(&cfg.MemoryCompressionThreshold, key, value)
	case "MEMORY_SHORT_TERM_SIZE":
		return setInt(&cfg.MemoryShortTermSize, key, value)
	case "MEMORY_SHORT_TERM_MIN_SIZE":
		return setInt(&cfg.MemoryShortTermMinSize, key, value)
	case "MEMORY_COMPRESSION_RATIO":
		return setFloat(&cfg.MemoryCompressionRatio, key, value)

	case "RETRY_MAX_ATTEMPTS":
		return setInt(&cfg.RetryMaxAttempts, key, value)
	case "RETRY_INITIAL_DELAY":
		return setInt(&cfg.RetryInitialDelayMs, key, value)
	case "RETRY_MAX_DELAY":
		return setInt(&cfg.RetryMaxDelayMs, key, value)

	case "TOOL_PARALLELISM":
		return setInt(&cfg.ToolParallelism, key, value)
	case "MAX_SUB_AGENTS":
		return setInt(&cfg.MaxSubAgents, key, value)
	case "MAX_SUB_AGENT_DEPTH":
		return setInt(&cfg.MaxSubAgentDepth, key, value)

	case "METRICS_ADDR":
		cfg.MetricsAddr = value
	case "OTLP_ENDPOINT":
		cfg.OTLPEndpoint = value
	case "AUDIT_DB_PATH":
		cfg.AuditDBPath = value
	case "TOOL_RESULT_MAX_CHARS":
		return setInt(&cfg.ToolResultMaxChars, key, value)
	case "TOOL_RESULT_SANITIZE_SECRETS":
		return setBool(&cfg.ToolResultSanitizeSecrets, key, value)
	case "TOOL_RESULT_DENYLIST":
		cfg.ToolResultDenylist = splitNonEmpty(value, ",")
	case "LOG_LEVEL":
		cfg.LogLevel = value
	case "LOG_FORMAT":
		cfg.LogFormat = value
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: expected integer, got %q", key, value)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key, value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%s: expected a number, got %q", key, value)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: expected a boolean, got %q", key, value)
	}
	*dst = b
	return nil
}

// splitNonEmpty splits value on sep, trimming whitespace and dropping empty
// entries -- used for comma-separated list-valued config keys.
func splitNonEmpty(value, sep string) []string {
	var out []string
	for _, part := range strings.Split(value, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ToolTimeout returns ToolTimeoutSeconds as a time.Duration.
func (c Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// RetryInitialDelay returns RetryInitialDelayMs as a time.Duration.
func (c Config) RetryInitialDelay() time.Duration {
	return time.Duration(c.RetryInitialDelayMs) * time.Millisecond
}

// RetryMaxDelay returns RetryMaxDelayMs as a time.Duration.
func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}
