// Package config resolves runtime tunables in precedence order: process
// environment, then .env file, then built-in defaults. Values that fail to
// parse fall back to their defaults rather than aborting startup.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Debug modes.
const (
	ModeDev     = "dev"
	ModeRelease = "release"
)

// Config is the resolved runtime configuration.
type Config struct {
	// Cache.
	CacheEnabled    bool
	RedisAddr       string
	RedisPassword   string
	CacheDefaultTTL time.Duration
	ContextCacheTTL time.Duration
	ToolCacheTTL    time.Duration

	// Privacy.
	EnablePIIDetection  bool
	EnablePIIRedaction  bool
	EnableSecurityAudit bool

	// Retrieval.
	EnableHybridRetrieval   bool
	RetrievalMinFinalScore  float64
	WorkingRelevanceWeight  float64
	WorkingRecencyWeight    float64
	SemanticRelevanceWeight float64
	SemanticRecencyWeight   float64
	EpisodicRelevanceWeight float64
	EpisodicRecencyWeight   float64

	// Model.
	ModelProvider  string
	ModelBaseURL   string
	ModelAPIKey    string
	ModelCatalog   string
	ModelName      string
	EmbeddingModel string

	// Process.
	DataDir string
	Debug   string
}

// Load resolves the configuration. Env files are loaded in order without
// overriding variables already present in the process environment, so the
// precedence is environment, then .env, then defaults. Missing env files are
// not an error.
func Load(envFiles ...string) *Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	return &Config{
		CacheEnabled:    Bool("CACHE_ENABLED", true),
		RedisAddr:       String("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:   String("REDIS_PASSWORD", ""),
		CacheDefaultTTL: Seconds("CACHE_DEFAULT_TTL", 3600),
		ContextCacheTTL: Seconds("CONTEXT_CACHE_TTL_SECONDS", 3600),
		ToolCacheTTL:    Seconds("TOOL_CACHE_TTL_SECONDS", 1800),

		EnablePIIDetection:  Bool("ENABLE_PII_DETECTION", true),
		EnablePIIRedaction:  Bool("ENABLE_PII_REDACTION", true),
		EnableSecurityAudit: Bool("ENABLE_SECURITY_AUDIT", true),

		EnableHybridRetrieval:   Bool("ENABLE_HYBRID_RETRIEVAL", false),
		RetrievalMinFinalScore:  UnitFloat("RETRIEVAL_MIN_FINAL_SCORE", 0.1),
		WorkingRelevanceWeight:  UnitFloat("RETRIEVAL_WORKING_RELEVANCE_WEIGHT", 0.3),
		WorkingRecencyWeight:    UnitFloat("RETRIEVAL_WORKING_RECENCY_WEIGHT", 0.7),
		SemanticRelevanceWeight: UnitFloat("RETRIEVAL_SEMANTIC_RELEVANCE_WEIGHT", 0.9),
		SemanticRecencyWeight:   UnitFloat("RETRIEVAL_SEMANTIC_RECENCY_WEIGHT", 0.1),
		EpisodicRelevanceWeight: UnitFloat("RETRIEVAL_EPISODIC_RELEVANCE_WEIGHT", 0.7),
		EpisodicRecencyWeight:   UnitFloat("RETRIEVAL_EPISODIC_RECENCY_WEIGHT", 0.3),

		ModelProvider:  String("MODEL_PROVIDER", "openai"),
		ModelBaseURL:   String("MODEL_BASE_URL", ""),
		ModelAPIKey:    String("MODEL_API_KEY", ""),
		ModelCatalog:   String("MODEL_CATALOG", ""),
		ModelName:      String("MODEL_NAME", ""),
		EmbeddingModel: String("EMBEDDING_MODEL", ""),

		DataDir: String("DATA_DIR", "data"),
		Debug:   Mode("DEBUG"),
	}
}

// Data layout, rooted at DataDir.

func (c *Config) EpisodicPath() string { return filepath.Join(c.DataDir, "episodic") }

func (c *Config) WorkingStateDir() string { return filepath.Join(c.DataDir, "working_state") }

func (c *Config) SemanticDir() string { return filepath.Join(c.DataDir, "semantic") }

func (c *Config) ArchiveDir() string { return filepath.Join(c.DataDir, "archives") }

func (c *Config) AuditLogPath() string {
	return filepath.Join(c.DataDir, "logs", "security_audit.jsonl")
}

// String returns the variable's value, or def when unset or blank.
func String(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// Bool parses 1/true/yes/on and 0/false/no/off, case-insensitive. Anything
// else yields def.
func Bool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// Seconds parses a non-negative integer number of seconds.
func Seconds(key string, def int) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return time.Duration(def) * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(n) * time.Second
}

// UnitFloat parses a float clamped to [0,1]; unparsable values yield def.
func UnitFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Mode parses DEBUG: only "dev" and "release" are accepted, anything else
// resolves to release so host values never leak through.
func Mode(key string) string {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case ModeDev:
		return ModeDev
	default:
		return ModeRelease
	}
}
