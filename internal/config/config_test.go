package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresEnginePath(t *testing.T) {
	t.Setenv("TRAINER_ENGINE_PATH", "")
	t.Setenv("TRAINER_CONFIG_FILE", "")
	if _, err := Load(); err == nil {
		t.Fatal("missing engine path accepted")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRAINER_ENGINE_PATH", "/usr/bin/stockfish")
	t.Setenv("TRAINER_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EnginePath != "/usr/bin/stockfish" {
		t.Fatalf("engine path = %q", cfg.EnginePath)
	}
	if cfg.AnalysisLines != 3 || cfg.AnalysisDepth != 18 {
		t.Fatalf("analysis defaults = %d lines, depth %d", cfg.AnalysisLines, cfg.AnalysisDepth)
	}
	if cfg.HandshakeTimeout != 15*time.Second {
		t.Fatalf("handshake timeout = %v", cfg.HandshakeTimeout)
	}
	if cfg.StartPosition == "" {
		t.Fatal("no default start position")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRAINER_CONFIG_FILE", "")
	t.Setenv("TRAINER_ENGINE_PATH", "/opt/engine")
	t.Setenv("TRAINER_ANALYSIS_LINES", "5")
	t.Setenv("TRAINER_ANALYSIS_DEPTH", "22")
	t.Setenv("TRAINER_HANDSHAKE_TIMEOUT_SEC", "30")
	t.Setenv("TRAINER_ANALYSIS_PER_DEPTH_TIMEOUT_MS", "450")
	t.Setenv("TRAINER_ANALYSIS_PER_LINE_TIMEOUT_MS", "2500")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AnalysisLines != 5 || cfg.AnalysisDepth != 22 {
		t.Fatalf("analysis = %d lines, depth %d", cfg.AnalysisLines, cfg.AnalysisDepth)
	}
	if cfg.AnalysisPerDepthTimeout != 450*time.Millisecond || cfg.AnalysisPerLineTimeout != 2500*time.Millisecond {
		t.Fatalf("timeout knobs = %v / %v", cfg.AnalysisPerDepthTimeout, cfg.AnalysisPerLineTimeout)
	}
	if cfg.HandshakeTimeout != 30*time.Second {
		t.Fatalf("handshake timeout = %v", cfg.HandshakeTimeout)
	}
	if cfg.RedisURL != "redis://localhost:6379/2" {
		t.Fatalf("redis url = %q", cfg.RedisURL)
	}
}

func TestLoadYAMLOverlayAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trainer.yaml")
	body := []byte("engine_path: /from/yaml\nanalysis_lines: 4\nanalysis_depth: 20\ncache_ttl_sec: 60\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	t.Setenv("TRAINER_CONFIG_FILE", path)
	t.Setenv("TRAINER_ENGINE_PATH", "")
	t.Setenv("TRAINER_ANALYSIS_LINES", "7") // env wins over the file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EnginePath != "/from/yaml" {
		t.Fatalf("engine path = %q", cfg.EnginePath)
	}
	if cfg.AnalysisLines != 7 {
		t.Fatalf("lines = %d, want env override", cfg.AnalysisLines)
	}
	if cfg.AnalysisDepth != 20 {
		t.Fatalf("depth = %d, want yaml value", cfg.AnalysisDepth)
	}
	if cfg.CacheTTL != time.Minute {
		t.Fatalf("cache ttl = %v", cfg.CacheTTL)
	}
}
