package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Index modes for the identity matcher.
const (
	IndexLinear = "linear"
	IndexHNSW   = "hnsw"
)

type Config struct {
	FaceService FaceServiceConfig
	Matcher     MatcherConfig
	Database    DatabaseConfig
	Web         WebConfig
	// KnownFacesFile is an optional YAML seed file loaded into the registry at startup.
	KnownFacesFile string
}

type FaceServiceConfig struct {
	URL          string  // defaults to http://localhost:8000
	EmbeddingDim int     // 0 means the first enrolled face decides (default 128)
	MaxImageSize int     // uploads larger than this (px, either side) are downscaled (default 1600)
	MaxPixels    int     // uploads declaring more pixels than this are rejected before decoding (default 40M)
	MinDetScore  float64 // detections below this score are ignored (default 0)
}

type MatcherConfig struct {
	Threshold     float64 // maximum Euclidean distance accepted as the same identity (default 0.6)
	// Index is "linear" (default, exact scan of every known face) or "hnsw".
	// hnsw is approximate: candidates are re-ranked exactly, but on large
	// registries the true nearest face can be missing from the candidates.
	Index         string
	HNSWIndexPath string  // Path to persist the HNSW index (optional)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL (optional, registry is in-memory only without it)
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type WebConfig struct {
	AdminToken      string // Bearer token for the administrative API (open when empty)
	MaxRequestBytes int64  // Maximum accepted request body (default 20 MiB)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envNonNegativeInt is like envInt but accepts zero.
func envNonNegativeInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a non-negative float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func Load() *Config {
	index := strings.ToLower(strings.TrimSpace(os.Getenv("MATCH_INDEX")))
	if index == "" {
		index = IndexLinear
	}

	return &Config{
		FaceService: FaceServiceConfig{
			URL:          os.Getenv("FACE_SERVICE_URL"),
			EmbeddingDim: envNonNegativeInt("FACE_EMBEDDING_DIM", 128),
			MaxImageSize: envInt("FACE_MAX_IMAGE_SIZE", 1600),
			MaxPixels:    envInt("FACE_MAX_PIXELS", 40_000_000),
			MinDetScore:  envFloat("FACE_MIN_DET_SCORE", 0),
		},
		Matcher: MatcherConfig{
			Threshold:     envFloat("MATCH_THRESHOLD", 0.6),
			Index:         index,
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Web: WebConfig{
			AdminToken:      os.Getenv("ADMIN_TOKEN"),
			MaxRequestBytes: int64(envInt("MAX_REQUEST_BYTES", 20<<20)),
		},
		KnownFacesFile: os.Getenv("KNOWN_FACES_FILE"),
	}
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	if c.Matcher.Threshold <= 0 {
		return errors.New("MATCH_THRESHOLD must be greater than 0")
	}
	switch c.Matcher.Index {
	case IndexLinear, IndexHNSW:
	default:
		return fmt.Errorf("MATCH_INDEX must be %q or %q, got %q", IndexLinear, IndexHNSW, c.Matcher.Index)
	}
	return nil
}

// HasDatabase reports whether identities are persisted to PostgreSQL.
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}
