// Package config loads memg service configuration from the environment,
// following the env-var-with-defaults idiom used across the monorepo's
// services (no viper/koanf: see ucl-core's internal/config package).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/nucleus/memg-core/internal/memgerr"
)

// Config holds every setting recognized by the memory store (§6).
type Config struct {
	SchemaPath string

	VectorDatabaseURL string
	GraphDatabaseURL  string

	EmbedderModel   string
	VectorDimension int
	CollectionName  string

	SimilarityThreshold     float64
	ScoreThreshold          float64
	HighSimilarityThreshold float64

	BatchProcessingSize int

	DebugMode bool
	LogLevel  string

	GRPCHost string
	GRPCPort int
}

// Load reads configuration from the environment, applying defaults and
// validating the 0..1 retrieval knobs per §6.
func Load() (*Config, error) {
	cfg := &Config{
		SchemaPath:              getEnv("MEMG_SCHEMA_PATH", "./schema.yaml"),
		VectorDatabaseURL:       getEnvChain("MEMG_VECTOR_DATABASE_URL", "DATABASE_URL"),
		GraphDatabaseURL:        getEnvChain("MEMG_GRAPH_DATABASE_URL", "DATABASE_URL"),
		EmbedderModel:           getEnv("MEMG_EMBEDDER_MODEL", "text-embedding-3-small"),
		VectorDimension:         getEnvInt("MEMG_VECTOR_DIMENSION", 1536),
		CollectionName:          getEnv("MEMG_COLLECTION_NAME", "memories"),
		SimilarityThreshold:     getEnvFloat("MEMG_SIMILARITY_THRESHOLD", 0.3),
		ScoreThreshold:          getEnvFloat("MEMG_SCORE_THRESHOLD", 0.5),
		HighSimilarityThreshold: getEnvFloat("MEMG_HIGH_SIMILARITY_THRESHOLD", 0.85),
		BatchProcessingSize:     getEnvInt("MEMG_BATCH_PROCESSING_SIZE", 100),
		DebugMode:               getEnvBool("MEMG_DEBUG_MODE", false),
		LogLevel:                getEnv("MEMG_LOG_LEVEL", "info"),
		GRPCHost:                getEnv("MEMG_GRPC_HOST", "0.0.0.0"),
		GRPCPort:                getEnvInt("MEMG_GRPC_PORT", 50061),
	}

	if cfg.VectorDatabaseURL == "" {
		return nil, memgerr.Kindf(memgerr.ConfigError, "config.Load", "MEMG_VECTOR_DATABASE_URL (or DATABASE_URL) is required")
	}
	if cfg.GraphDatabaseURL == "" {
		return nil, memgerr.Kindf(memgerr.ConfigError, "config.Load", "MEMG_GRAPH_DATABASE_URL (or DATABASE_URL) is required")
	}
	for name, v := range map[string]float64{
		"MEMG_SIMILARITY_THRESHOLD":      cfg.SimilarityThreshold,
		"MEMG_SCORE_THRESHOLD":           cfg.ScoreThreshold,
		"MEMG_HIGH_SIMILARITY_THRESHOLD": cfg.HighSimilarityThreshold,
	} {
		if v < 0 || v > 1 {
			return nil, memgerr.Kindf(memgerr.ConfigError, "config.Load", "%s must be in [0,1], got %v", name, v)
		}
	}
	if cfg.VectorDimension <= 0 {
		return nil, memgerr.Kindf(memgerr.ConfigError, "config.Load", "MEMG_VECTOR_DIMENSION must be positive, got %d", cfg.VectorDimension)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvChain returns the first non-empty value among the given keys, in
// order, mirroring the teacher's kvstore DSN fallback chain.
func getEnvChain(keys ...string) string {
	for _, k := range keys {
		if val := os.Getenv(k); val != "" {
			return val
		}
	}
	return ""
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// String renders the config for diagnostics (§C8), omitting secrets.
func (c *Config) String() string {
	return fmt.Sprintf("schema=%s collection=%s dim=%d embedder=%s log_level=%s debug=%t",
		c.SchemaPath, c.CollectionName, c.VectorDimension, c.EmbedderModel, c.LogLevel, c.DebugMode)
}
