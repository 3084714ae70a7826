package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	thumbtest "github.com/zoobzio/thumb/testing"
)

// fixture writes a config with one local disk and a memory cache, and
// seeds one source image.
func fixture(t *testing.T) (configPath, root string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "public")
	if err := os.MkdirAll(filepath.Join(root, "originals"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "originals", "cat.jpg"), thumbtest.JPEG(64, 48), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := fmt.Sprintf(`
environment: production
log_level: error
disks:
  public:
    driver: local
    root: %s
    url: /storage
cache_provider:
  driver: memory
jobs:
  workers: 2
  backoff: 1ms
dead_letters:
  dsn: %s
presets:
  avatar:
    format: jpg
    smartcrop: 32x32
    destination: {disk: public, path: thumbs/}
    variants:
      small: {smartcrop: 16x16}
`, root, filepath.Join(dir, "dead.db"))
	configPath = filepath.Join(dir, "thumbs.yaml")
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, root
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestResolve(t *testing.T) {
	cfg, root := fixture(t)

	out, err := runCLI(t, "resolve", "--config", cfg, "--preset", "avatar", "public:originals/cat.jpg")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	url := strings.TrimSpace(out)
	if !strings.HasPrefix(url, "/storage/thumbs/") || !strings.HasSuffix(url, "cat_32_32.jpg") {
		t.Errorf("unexpected url %q", url)
	}
	if _, err := os.Stat(filepath.Join(root, strings.TrimPrefix(url, "/storage/"))); err != nil {
		t.Errorf("derived file missing: %v", err)
	}

	out, err = runCLI(t, "resolve", "-c", cfg, "-p", "avatar", "-v", "small", "originals/cat.jpg")
	if err != nil {
		t.Fatalf("resolve variant failed: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "cat_16_16_small.jpg") {
		t.Errorf("unexpected variant url %q", out)
	}
}

func TestResolve_StrictFailure(t *testing.T) {
	cfg, _ := fixture(t)
	_, err := runCLI(t, "resolve", "--config", cfg, "--preset", "avatar", "--mode", "strict", "originals/missing.jpg")
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	if exitCode(err) != 4 {
		t.Errorf("expected permanent exit code 4, got %d (%v)", exitCode(err), err)
	}
}

func TestResolve_SilentFallback(t *testing.T) {
	cfg, _ := fixture(t)
	out, err := runCLI(t, "resolve", "--config", cfg, "--preset", "avatar", "--mode", "silent", "originals/missing.jpg")
	if err != nil {
		t.Fatalf("silent resolve failed: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Error("expected a fallback url")
	}
}

func TestUsageErrors(t *testing.T) {
	cfg, _ := fixture(t)
	cases := map[string][]string{
		"no command":        {},
		"unknown command":   {"frobnicate"},
		"resolve no args":   {"resolve", "--config", cfg},
		"bad mode":          {"resolve", "--config", cfg, "--preset", "avatar", "--mode", "loud", "a.jpg"},
		"purge unconfirmed": {"purge", "--config", cfg, "--preset", "avatar"},
		"purge both":        {"purge", "--config", cfg, "--preset", "avatar", "--all", "--confirm"},
		"unknown flag":      {"stats", "--bogus"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := runCLI(t, args...)
			if !errors.Is(err, errUsage) {
				t.Errorf("expected usage error, got %v", err)
			}
			if exitCode(err) != 2 {
				t.Errorf("expected exit code 2, got %d", exitCode(err))
			}
		})
	}
}

func TestPregenerate_DryRun(t *testing.T) {
	cfg, root := fixture(t)
	out, err := runCLI(t, "pregenerate", "--config", cfg, "--disk", "public", "--dir", "originals/", "--dry-run")
	if err != nil {
		t.Fatalf("pregenerate failed: %v", err)
	}
	if !strings.Contains(out, "avatar: would generate 2 assets from 1 sources") {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := os.Stat(filepath.Join(root, "thumbs")); !os.IsNotExist(err) {
		t.Error("dry run must not write")
	}
}

func TestPregenerate_Sync(t *testing.T) {
	cfg, _ := fixture(t)
	out, err := runCLI(t, "pregenerate", "--config", cfg, "--disk", "public", "--dir", "originals/")
	if err != nil {
		t.Fatalf("pregenerate failed: %v", err)
	}
	if !strings.Contains(out, "avatar: generated 2 of 2 assets, 0 failed") {
		t.Errorf("unexpected output %q", out)
	}

	// A second scan must not treat the derived images as sources.
	out, err = runCLI(t, "pregenerate", "--config", cfg, "--disk", "public", "--dry-run")
	if err != nil {
		t.Fatalf("pregenerate failed: %v", err)
	}
	if !strings.Contains(out, "from 1 sources") {
		t.Errorf("derived images were scanned as sources: %q", out)
	}
}

func TestPregenerate_Async(t *testing.T) {
	cfg, _ := fixture(t)
	out, err := runCLI(t, "pregenerate", "--config", cfg, "--disk", "public", "--dir", "originals/", "--async")
	if err != nil {
		t.Fatalf("pregenerate failed: %v", err)
	}
	if !strings.Contains(out, "avatar: queued 2, generated 2, 0 failed") {
		t.Errorf("unexpected output %q", out)
	}

	out, err = runCLI(t, "dead-letters", "list", "--config", cfg)
	if err != nil {
		t.Fatalf("dead-letters list failed: %v", err)
	}
	if !strings.Contains(out, "no dead letters") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestPurge(t *testing.T) {
	cfg, _ := fixture(t)
	if _, err := runCLI(t, "pregenerate", "--config", cfg, "--disk", "public", "--dir", "originals/"); err != nil {
		t.Fatalf("pregenerate failed: %v", err)
	}
	out, err := runCLI(t, "purge", "--config", cfg, "--preset", "avatar", "--confirm")
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if !strings.Contains(out, "purged 2 derived images") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestStats(t *testing.T) {
	cfg, _ := fixture(t)
	if _, err := runCLI(t, "pregenerate", "--config", cfg, "--disk", "public", "--dir", "originals/"); err != nil {
		t.Fatalf("pregenerate failed: %v", err)
	}
	out, err := runCLI(t, "stats", "--config", cfg)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !strings.Contains(out, "avatar") || !strings.Contains(out, "total: 2 files") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestValidate(t *testing.T) {
	cfg, _ := fixture(t)
	out, err := runCLI(t, "validate", "--config", cfg)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "1 presets, 1 variants") || !strings.Contains(out, "configuration is valid") {
		t.Errorf("unexpected output %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("presets:\n  x: {smartcrop: 10x0, destination: {disk: nowhere}}\n"), 0o644)
	out, err = runCLI(t, "validate", "--config", bad)
	if !errors.Is(err, errIssues) || exitCode(err) != 3 {
		t.Errorf("expected errIssues, got %v", err)
	}
	if !strings.Contains(out, `destination disk "nowhere" is not configured`) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestShards(t *testing.T) {
	out, err := runCLI(t, "shards", "Holiday Photo.jpg")
	if err != nil {
		t.Fatalf("shards failed: %v", err)
	}
	for _, s := range []string{"hash_prefix", "hash_levels", "filename_prefix", "date_based", "none"} {
		if !strings.Contains(out, s) {
			t.Errorf("missing strategy %s in %q", s, out)
		}
	}
}

func TestHelp(t *testing.T) {
	out, err := runCLI(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	if !strings.Contains(out, "pregenerate") || !strings.Contains(out, "dead-letters") {
		t.Errorf("help missing commands: %q", out)
	}
}
