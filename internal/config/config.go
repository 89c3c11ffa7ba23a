package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const startPositionFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type AppConfig struct {
	EnginePath       string
	HandshakeTimeout time.Duration

	AnalysisLines          int
	AnalysisDepth          int
	AnalysisMoveTimeMillis int

	// Timeout policy knobs for a single analysis request. The exact formula
	// is tuning, not correctness; see analysis.TimeoutPolicy.
	AnalysisBaseTimeout     time.Duration
	AnalysisPerDepthTimeout time.Duration
	AnalysisPerLineTimeout  time.Duration
	AnalysisMaxTimeout      time.Duration

	RedisURL      string
	CacheTTL      time.Duration
	DatabaseURL   string
	StartPosition string
	PuzzleFile    string
}

// fileConfig mirrors AppConfig for the optional YAML overlay. All fields are
// optional; zero values leave the defaults untouched.
type fileConfig struct {
	EnginePath          string `yaml:"engine_path"`
	HandshakeTimeoutSec int    `yaml:"handshake_timeout_sec"`

	AnalysisLines          int `yaml:"analysis_lines"`
	AnalysisDepth          int `yaml:"analysis_depth"`
	AnalysisMoveTimeMillis int `yaml:"analysis_movetime_ms"`

	AnalysisBaseTimeoutSec    int `yaml:"analysis_base_timeout_sec"`
	AnalysisPerDepthTimeoutMS int `yaml:"analysis_per_depth_timeout_ms"`
	AnalysisPerLineTimeoutMS  int `yaml:"analysis_per_line_timeout_ms"`
	AnalysisMaxTimeoutSec     int `yaml:"analysis_max_timeout_sec"`

	RedisURL      string `yaml:"redis_url"`
	CacheTTLSec   int    `yaml:"cache_ttl_sec"`
	DatabaseURL   string `yaml:"database_url"`
	StartPosition string `yaml:"start_position"`
	PuzzleFile    string `yaml:"puzzle_file"`
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HandshakeTimeout:        15 * time.Second,
		AnalysisLines:           3,
		AnalysisDepth:           18,
		AnalysisBaseTimeout:     6 * time.Second,
		AnalysisPerDepthTimeout: 300 * time.Millisecond,
		AnalysisPerLineTimeout:  2 * time.Second,
		AnalysisMaxTimeout:      60 * time.Second,
		CacheTTL:                6 * time.Hour,
		StartPosition:           startPositionFEN,
	}

	if path := strings.TrimSpace(os.Getenv("TRAINER_CONFIG_FILE")); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.EnginePath = envDefault("TRAINER_ENGINE_PATH", cfg.EnginePath)
	cfg.RedisURL = envDefault("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = envDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.StartPosition = envDefault("TRAINER_START_FEN", cfg.StartPosition)
	cfg.PuzzleFile = envDefault("TRAINER_PUZZLE_FILE", cfg.PuzzleFile)

	if v, ok := envInt("TRAINER_HANDSHAKE_TIMEOUT_SEC"); ok {
		cfg.HandshakeTimeout = time.Duration(v) * time.Second
	}
	if v, ok := envInt("TRAINER_ANALYSIS_LINES"); ok {
		cfg.AnalysisLines = v
	}
	if v, ok := envInt("TRAINER_ANALYSIS_DEPTH"); ok {
		cfg.AnalysisDepth = v
	}
	if v, ok := envInt("TRAINER_ANALYSIS_MOVETIME_MS"); ok {
		cfg.AnalysisMoveTimeMillis = v
	}
	if v, ok := envInt("TRAINER_ANALYSIS_BASE_TIMEOUT_SEC"); ok {
		cfg.AnalysisBaseTimeout = time.Duration(v) * time.Second
	}
	if v, ok := envInt("TRAINER_ANALYSIS_PER_DEPTH_TIMEOUT_MS"); ok {
		cfg.AnalysisPerDepthTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("TRAINER_ANALYSIS_PER_LINE_TIMEOUT_MS"); ok {
		cfg.AnalysisPerLineTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("TRAINER_ANALYSIS_MAX_TIMEOUT_SEC"); ok {
		cfg.AnalysisMaxTimeout = time.Duration(v) * time.Second
	}
	if v, ok := envInt("TRAINER_CACHE_TTL_SEC"); ok {
		cfg.CacheTTL = time.Duration(v) * time.Second
	}

	if cfg.EnginePath == "" {
		return nil, errors.New("TRAINER_ENGINE_PATH is required")
	}
	if cfg.AnalysisLines <= 0 {
		return nil, fmt.Errorf("analysis lines must be > 0: %d", cfg.AnalysisLines)
	}
	if cfg.AnalysisDepth <= 0 && cfg.AnalysisMoveTimeMillis <= 0 {
		return nil, errors.New("analysis depth or movetime must be set")
	}
	return cfg, nil
}

func applyFile(cfg *AppConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.EnginePath != "" {
		cfg.EnginePath = strings.TrimSpace(fc.EnginePath)
	}
	if fc.HandshakeTimeoutSec > 0 {
		cfg.HandshakeTimeout = time.Duration(fc.HandshakeTimeoutSec) * time.Second
	}
	if fc.AnalysisLines > 0 {
		cfg.AnalysisLines = fc.AnalysisLines
	}
	if fc.AnalysisDepth > 0 {
		cfg.AnalysisDepth = fc.AnalysisDepth
	}
	if fc.AnalysisMoveTimeMillis > 0 {
		cfg.AnalysisMoveTimeMillis = fc.AnalysisMoveTimeMillis
	}
	if fc.AnalysisBaseTimeoutSec > 0 {
		cfg.AnalysisBaseTimeout = time.Duration(fc.AnalysisBaseTimeoutSec) * time.Second
	}
	if fc.AnalysisPerDepthTimeoutMS > 0 {
		cfg.AnalysisPerDepthTimeout = time.Duration(fc.AnalysisPerDepthTimeoutMS) * time.Millisecond
	}
	if fc.AnalysisPerLineTimeoutMS > 0 {
		cfg.AnalysisPerLineTimeout = time.Duration(fc.AnalysisPerLineTimeoutMS) * time.Millisecond
	}
	if fc.AnalysisMaxTimeoutSec > 0 {
		cfg.AnalysisMaxTimeout = time.Duration(fc.AnalysisMaxTimeoutSec) * time.Second
	}
	if fc.RedisURL != "" {
		cfg.RedisURL = strings.TrimSpace(fc.RedisURL)
	}
	if fc.CacheTTLSec > 0 {
		cfg.CacheTTL = time.Duration(fc.CacheTTLSec) * time.Second
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = strings.TrimSpace(fc.DatabaseURL)
	}
	if fc.StartPosition != "" {
		cfg.StartPosition = strings.TrimSpace(fc.StartPosition)
	}
	if fc.PuzzleFile != "" {
		cfg.PuzzleFile = strings.TrimSpace(fc.PuzzleFile)
	}
	return nil
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
