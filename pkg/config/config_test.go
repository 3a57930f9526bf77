package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" || cfg.Neo4j.URL != "neo4j://localhost:7687" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.GraphCode.BatchSize != 500 || cfg.GraphCode.Workers != 8 {
		t.Fatalf("unexpected graphcode defaults: %+v", cfg.GraphCode)
	}
	if cfg.NATS.URL != "" || cfg.Qdrant.Addr != "" {
		t.Fatal("optional services should default to disabled")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SAFETY_PORT", "9090")
	t.Setenv("SAFETY_NEO4J_URL", "neo4j://db:7687")
	t.Setenv("SAFETY_GRAPHCODE_STRICT", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" || cfg.Neo4j.URL != "neo4j://db:7687" || !cfg.GraphCode.Strict {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safety.yaml")
	body := "port: \"7000\"\nqdrant:\n  addr: localhost:6334\n  dim: 384\ngraphcode:\n  batch_size: 50\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "7000" || cfg.Qdrant.Addr != "localhost:6334" || cfg.Qdrant.Dim != 384 || cfg.GraphCode.BatchSize != 50 {
		t.Fatalf("file not applied: %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatal("defaults should fill missing keys")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("SAFETY_LOG_LEVEL", "loud")
	t.Setenv("SAFETY_GRAPHCODE_WORKERS", "0")
	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"LogLevel", "Workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn", "json")
	log.Info("hidden")
	log.Warn("shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Fatalf("unexpected record %v", rec)
	}

	buf.Reset()
	NewLogger(&buf, "bogus", "text").Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}
