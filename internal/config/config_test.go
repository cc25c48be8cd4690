package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `workspace:
  slug: osint-lab
  title: OSINT Lab

remote:
  base_url: http://127.0.0.1:8791
  api_key: vk_secret

methodology:
  slug: standard

investigation:
  slug: incident-7

segment:
  slug: batch-1

webhooks:
  - url: https://hooks.example.com/veriline
    events: [unit.state.changed]
    secret: hush
    timeout_seconds: 3
`

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(validYAML))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Workspace.Slug != "osint-lab" || cfg.Remote.APIKey != "vk_secret" {
		t.Fatalf("parsed = %+v", cfg)
	}
	if cfg.Methodology.Slug != "standard" || cfg.Investigation.Slug != "incident-7" || cfg.Segment.Slug != "batch-1" {
		t.Fatalf("slugs = %+v", cfg)
	}
	if len(cfg.Webhooks) != 1 {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
	hook := cfg.Webhooks[0]
	if hook.URL != "https://hooks.example.com/veriline" || hook.TimeoutSeconds != 3 || hook.Secret != "hush" {
		t.Fatalf("webhook = %+v", hook)
	}
	if len(hook.Events) != 1 || hook.Events[0] != "unit.state.changed" {
		t.Fatalf("webhook events = %v", hook.Events)
	}
}

func TestFromYAMLInvalid(t *testing.T) {
	if _, err := FromYAML([]byte("workspace: [")); err == nil {
		t.Fatalf("broken yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	drop := func(field, value string) string {
		return strings.Replace(validYAML, field+": "+value, field+": \"\"", 1)
	}
	cases := map[string]string{
		"workspace slug":     drop("slug", "osint-lab"),
		"remote base url":    drop("base_url", "http://127.0.0.1:8791"),
		"methodology slug":   drop("slug", "standard"),
		"investigation slug": drop("slug", "incident-7"),
		"segment slug":       drop("slug", "batch-1"),
		"webhook url":        strings.Replace(validYAML, "url: https://hooks.example.com/veriline", `url: ""`, 1),
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: missing field accepted", name)
		}
	}
}

func TestValidateSlugShape(t *testing.T) {
	doc := strings.Replace(validYAML, "slug: osint-lab", "slug: osint lab", 1)
	if _, err := FromYAML([]byte(doc)); err == nil {
		t.Fatalf("slug with a space accepted")
	}
}

func TestGenerateDefaultRoundTrip(t *testing.T) {
	raw := GenerateDefault("fresh-lab")
	cfg, err := FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Workspace.Slug != "fresh-lab" {
		t.Fatalf("slug = %q", cfg.Workspace.Slug)
	}
	if got := Default("fresh-lab"); got.Workspace.Slug != cfg.Workspace.Slug || got.Remote.BaseURL != cfg.Remote.BaseURL {
		t.Fatalf("Default() diverges from GenerateDefault(): %+v", got)
	}
}

func TestPath(t *testing.T) {
	if got := Path(""); got != "veriline.yml" {
		t.Fatalf("empty workspace path = %q", got)
	}
	if got := Path("/tmp/ws"); got != filepath.Join("/tmp/ws", "veriline.yml") {
		t.Fatalf("path = %q", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "vl init") {
		t.Fatalf("missing config err = %v", err)
	}
	if cfg, err := LoadOptional(dir); err != nil || cfg != nil {
		t.Fatalf("LoadOptional on missing file = %+v, %v", cfg, err)
	}

	if err := os.WriteFile(Path(dir), []byte(validYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workspace.Slug != "osint-lab" {
		t.Fatalf("loaded = %+v", cfg)
	}
}
