// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/arena-agent/internal/domain"
)

// Strategy names accepted in STRATEGY
const (
	StrategySingleShot = "single-shot"
	StrategyResearch   = "research"
	StrategyAgentic    = "agentic"
)

// ScheduleInterval aligns scheduled cycles to the arena's own interval length
const ScheduleInterval = "interval"

// Tool server transports accepted in TOOLS_TRANSPORT
const (
	TransportSSE  = "sse"  // GET event stream plus POSTs to the announced endpoint
	TransportHTTP = "http" // streamable HTTP, one POST per message
	TransportWS   = "ws"
)

// Config holds application configuration. It is read once at startup and passed
// explicitly to every component.
type Config struct {
	Arena         ArenaConfig
	LLM           LLMConfig
	Tools         ToolsConfig
	Strategy      string
	RelaxedRoutes bool // Allow direct USD <-> ALPHA routes in the trading rules prompt
	Provenance    domain.Metadata
	Journal       JournalConfig
	Archive       ArchiveConfig
	Schedule      string        // Cron expression (with seconds) or ScheduleInterval; empty runs a single cycle
	ScheduleDelay time.Duration // Delay after each interval start when Schedule is ScheduleInterval
	LogLevel      string
	LogPretty     bool
	DataDir       string
}

// ArenaConfig holds competition API settings
type ArenaConfig struct {
	BaseURL string
	AgentID string
	Token   string
	Timeout time.Duration
}

// LLMConfig holds the OpenAI-compatible model endpoint settings
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// ToolsConfig holds the external market-data tool server settings
type ToolsConfig struct {
	Enabled   bool // When false, research phases run without external tools
	URL       string
	APIKey    string
	Transport string // sse, http or ws
}

// JournalConfig controls the local run journal
type JournalConfig struct {
	Enabled   bool
	Path      string
	Retention time.Duration // Runs older than this are pruned in scheduled mode
}

// ArchiveConfig controls uploads of cycle reports to S3-compatible storage.
// Archiving is enabled when Bucket is set.
type ArchiveConfig struct {
	Bucket          string
	Prefix          string
	Endpoint        string // Custom endpoint (e.g. Cloudflare R2); empty uses AWS
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether archiving is configured
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("DATA_DIR", "data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	cfg := &Config{
		Arena: ArenaConfig{
			BaseURL: strings.TrimRight(getEnv("ARENA_API_URL", ""), "/"),
			AgentID: getEnv("AGENT_ID", ""),
			Token:   getEnv("AGENT_TOKEN", ""),
			Timeout: time.Duration(getEnvAsInt("ARENA_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		LLM: LLMConfig{
			APIKey:  getEnv("XAI_API_KEY", ""),
			BaseURL: getEnv("LLM_BASE_URL", "https://api.x.ai/v1"),
			Model:   getEnv("LLM_MODEL", "grok-3-mini"),
			Timeout: time.Duration(getEnvAsInt("LLM_TIMEOUT_SECONDS", 120)) * time.Second,
		},
		Tools: ToolsConfig{
			Enabled:   getEnvAsBool("TOOLS_ENABLED", true),
			URL:       getEnv("TOOLS_URL", "https://mcp.taostats.io?tools=data"),
			APIKey:    getEnv("TAOSTATS_API_KEY", ""),
			Transport: getEnv("TOOLS_TRANSPORT", TransportSSE),
		},
		Strategy:      getEnv("STRATEGY", StrategyResearch),
		RelaxedRoutes: getEnvAsBool("RELAXED_ROUTES", false),
		Provenance:    loadProvenance(),
		Journal: JournalConfig{
			Enabled:   getEnvAsBool("JOURNAL_ENABLED", false),
			Path:      filepath.Join(dataDir, "agent.db"),
			Retention: time.Duration(getEnvAsInt("JOURNAL_RETENTION_DAYS", 30)) * 24 * time.Hour,
		},
		Archive: ArchiveConfig{
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Prefix:          getEnv("ARCHIVE_PREFIX", "runs"),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		},
		Schedule:      getEnv("SCHEDULE", ""),
		ScheduleDelay: time.Duration(getEnvAsInt("SCHEDULE_DELAY_SECONDS", 60)) * time.Second,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPretty:     getEnvAsBool("LOG_PRETTY", true),
		DataDir:       dataDir,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// StubConfig holds the arena sandbox server settings
type StubConfig struct {
	Port          int
	Token         string
	RelaxedRoutes bool
	LogLevel      string
	LogPretty     bool
}

// LoadStub reads the sandbox server configuration. Nothing is required.
func LoadStub() *StubConfig {
	_ = godotenv.Load()

	return &StubConfig{
		Port:          getEnvAsInt("ARENA_STUB_PORT", 8090),
		Token:         getEnv("ARENA_STUB_TOKEN", ""),
		RelaxedRoutes: getEnvAsBool("RELAXED_ROUTES", false),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPretty:     getEnvAsBool("LOG_PRETTY", true),
	}
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"AGENT_ID", c.Arena.AgentID},
		{"AGENT_TOKEN", c.Arena.Token},
		{"ARENA_API_URL", c.Arena.BaseURL},
		{"XAI_API_KEY", c.LLM.APIKey},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("missing required env var: %s. Set it in .env or GitHub Secrets", r.name)
		}
	}

	switch c.Strategy {
	case StrategySingleShot, StrategyResearch, StrategyAgentic:
	default:
		return fmt.Errorf("unknown STRATEGY %q (want %s, %s or %s)",
			c.Strategy, StrategySingleShot, StrategyResearch, StrategyAgentic)
	}

	switch c.Tools.Transport {
	case TransportSSE, TransportHTTP, TransportWS:
	default:
		return fmt.Errorf("unknown TOOLS_TRANSPORT %q (want %s, %s or %s)",
			c.Tools.Transport, TransportSSE, TransportHTTP, TransportWS)
	}

	return nil
}

// loadProvenance derives run metadata from the GitHub Actions environment
func loadProvenance() domain.Metadata {
	server := getEnv("GITHUB_SERVER_URL", "")
	repo := getEnv("GITHUB_REPOSITORY", "")
	runID := getEnv("GITHUB_RUN_ID", "")

	meta := domain.Metadata{CommitSHA: getEnv("GITHUB_SHA", "local")}
	if server != "" && repo != "" {
		meta.RepoURL = server + "/" + repo
	}
	if server != "" && repo != "" && runID != "" {
		meta.WorkflowRunURL = fmt.Sprintf("%s/%s/actions/runs/%s", server, repo, runID)
	}
	return meta
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
