package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.StartCooldown() != 2*time.Second {
		t.Fatalf("expected 2s cooldown, got %s", cfg.StartCooldown())
	}
	if len(cfg.Catalog) != 3 {
		t.Fatalf("expected 3 catalog missions, got %d", len(cfg.Catalog))
	}
	hidden := 0
	for _, m := range cfg.Catalog {
		if !m.Visible {
			hidden++
		}
	}
	if hidden != 1 {
		t.Fatalf("expected one hidden mission, got %d", hidden)
	}
	if cfg.Catalog[1].Rewards.Items[0].ID != "crowbar" {
		t.Fatalf("item rewards not parsed: %+v", cfg.Catalog[1].Rewards)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"dialect":  "database:\n  dialect: oracle\n",
		"dsn":      "database:\n  dialect: postgres\n",
		"cooldown": "missions:\n  start_cooldown_seconds: -1\n",
		"duration": "catalog:\n  - id: 1\n    name: x\n    duration_seconds: 0\n",
		"dup":      "catalog:\n  - id: 1\n    name: a\n    duration_seconds: 5\n  - id: 1\n    name: b\n    duration_seconds: 5\n",
		"rewards":  "catalog:\n  - id: 1\n    name: a\n    duration_seconds: 5\n    rewards:\n      credits: -3\n",
		"webhook":  "webhooks:\n  - events: [mission.started]\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestZeroCooldownAllowed(t *testing.T) {
	cfg, err := FromYAML([]byte("missions:\n  start_cooldown_seconds: 0\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.StartCooldown() != 0 {
		t.Fatalf("expected zero cooldown, got %s", cfg.StartCooldown())
	}
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Server.BasePath != "/v1" {
		t.Fatalf("expected default base path, got %q", cfg.Server.BasePath)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("expected missing config hint, got %v", err)
	}
	if err := os.WriteFile(Path(dir), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestCatalogFromFile(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.yml")
	doc := filepath.Join(dir, "doc.yml")
	if err := os.WriteFile(list, []byte("- id: 9\n  name: Rooftop Drop\n  duration_seconds: 120\n  visible: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(doc, []byte("catalog:\n  - id: 10\n    name: Sewer Crawl\n    duration_seconds: 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := CatalogFromFile(list)
	if err != nil || len(got) != 1 || got[0].ID != 9 || !got[0].Visible {
		t.Fatalf("list catalog: %+v %v", got, err)
	}
	got, err = CatalogFromFile(doc)
	if err != nil || len(got) != 1 || got[0].ID != 10 {
		t.Fatalf("doc catalog: %+v %v", got, err)
	}
}
