package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fieldline/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Stock.NoNegative || cfg.Stock.MaxRetries != 8 {
		t.Fatalf("unexpected stock defaults: %+v", cfg.Stock)
	}
}

func TestResolveAction(t *testing.T) {
	cfg := config.Default()
	cases := map[string]string{
		"consumed":  "consumed",
		"returned":  "returned",
		"used":      "consumed",
		"removed":   "consumed",
		"added":     "returned",
		"retrieved": "returned",
		" Used ":    "consumed", // trimmed, case-insensitive
	}
	for label, want := range cases {
		got, err := cfg.ResolveAction(label)
		if err != nil {
			t.Fatalf("resolve %q: %v", label, err)
		}
		if got != want {
			t.Fatalf("resolve %q = %q, want %q", label, got, want)
		}
	}
	if _, err := cfg.ResolveAction("teleported"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestValidateRejectsBadAliasTarget(t *testing.T) {
	_, err := config.FromYAML([]byte(`stock:
  max_retries: 4
  action_aliases:
    used: destroyed
`))
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("expected alias target error, got %v", err)
	}
}

func TestValidateRejectsZeroRetries(t *testing.T) {
	_, err := config.FromYAML([]byte("stock:\n  no_negative: true\n"))
	if err == nil || !strings.Contains(err.Error(), "max_retries") {
		t.Fatalf("expected max_retries error, got %v", err)
	}
}

func TestValidateRejectsBadColor(t *testing.T) {
	_, err := config.FromYAML([]byte(`stock:
  max_retries: 4
services:
  catalog:
    repair:
      color: orange
`))
	if err == nil || !strings.Contains(err.Error(), "hex") {
		t.Fatalf("expected color error, got %v", err)
	}
}

func TestServiceColorFallback(t *testing.T) {
	cfg := config.Default()
	if c := cfg.ServiceColor("repair"); c != "#f37021" {
		t.Fatalf("catalogued color: %s", c)
	}
	if c := cfg.ServiceColor("juggling"); c != "#6c757d" {
		t.Fatalf("expected grey fallback, got %s", c)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if cfg.Stock.MaxRetries != 8 {
		t.Fatalf("expected default retries, got %d", cfg.Stock.MaxRetries)
	}

	custom := "stock:\n  max_retries: 3\n"
	if err := os.WriteFile(filepath.Join(dir, "fieldline.yml"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stock.MaxRetries != 3 {
		t.Fatalf("expected 3 retries from file, got %d", cfg.Stock.MaxRetries)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config")
	}
}
