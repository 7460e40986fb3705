package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jonwraymond/keycache/cache"
	"github.com/jonwraymond/keycache/config"
)

// seedStore writes a config for an on-disk SQLite store and fills it with
// two children of "greeting" and a persistent "settings" entry.
func seedStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.toml")
	doc := "service_name = \"cachectl-test\"\n\n[storage]\ndriver = \"sql\"\n\n[storage.sql]\n" +
		"dialect = \"sqlite\"\ndsn = \"file:" + filepath.ToSlash(filepath.Join(dir, "cache.db")) + "\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	cfg, err := config.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	rt, err := config.Build(ctx, cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer rt.Close(ctx)

	greet, err := cache.Wrap(rt.Engine, cache.Options{Kind: cache.Temporal, Key: "greeting", TTL: time.Hour, Params: []int{0}},
		func(_ context.Context, args ...any) (string, error) { return "hello " + args[0].(string), nil })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Wrap(rt.Engine, cache.Options{Kind: cache.Persistent, Key: "settings"},
		func(context.Context, ...any) (map[string]int, error) { return map[string]int{"limit": 10}, nil }); err != nil {
		t.Fatal(err)
	}
	if err := rt.Engine.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"ann", "bob"} {
		if _, err := greet(ctx, name); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCachectl_Workflow(t *testing.T) {
	path := seedStore(t)

	out, err := run(t, "-c", path, "children", "greeting")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	want := []string{`greeting:"ann"`, `greeting:"bob"`}
	if diff := cmp.Diff(want, strings.Fields(out)); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}

	out, err = run(t, "-c", path, "get", "greeting", "--args", `["ann"]`, "--params", "0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if strings.TrimSpace(out) != `"hello ann"` {
		t.Errorf("get = %q", out)
	}

	out, err = run(t, "-c", path, "-o", "json", "get", "settings")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	var got struct {
		Key   string         `json:"key"`
		Value map[string]int `json:"value"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil || got.Value["limit"] != 10 {
		t.Errorf("get settings json = %q, %v", out, err)
	}

	if out, _ := run(t, "-c", path, "kind", "settings"); strings.TrimSpace(out) != "persistent" {
		t.Errorf("kind settings = %q", out)
	}

	if _, err := run(t, "-c", path, "bust", "greeting", "--params", "0", "--args", `["bob"]`); err != nil {
		t.Fatalf("targeted bust: %v", err)
	}
	out, _ = run(t, "-c", path, "children", "greeting")
	if diff := cmp.Diff([]string{`greeting:"ann"`}, strings.Fields(out)); diff != "" {
		t.Errorf("children after targeted bust (-want +got):\n%s", diff)
	}

	if _, err := run(t, "-c", path, "bust", "greeting", "--all"); err != nil {
		t.Fatalf("cascade bust: %v", err)
	}
	if out, _ := run(t, "-c", path, "-o", "json", "children", "greeting"); strings.TrimSpace(out) != "[]" {
		t.Errorf("children after cascade = %q", out)
	}
	if _, err := run(t, "-c", path, "get", "greeting", "--args", `["ann"]`, "--params", "0"); err == nil {
		t.Error("get after cascade succeeded")
	}
}

func TestCachectl_Health(t *testing.T) {
	path := seedStore(t)

	out, err := run(t, "-c", path, "health")
	if err != nil {
		t.Fatalf("health: %v\n%s", err, out)
	}
	if !strings.Contains(out, "cache.storage") || !strings.Contains(out, "healthy") {
		t.Errorf("health output = %q", out)
	}
}

func TestCachectl_UsageErrors(t *testing.T) {
	path := seedStore(t)

	if _, err := run(t, "-c", path, "bust", "greeting", "--params", "0"); !errors.Is(err, cache.ErrUsage) {
		t.Errorf("bust without args error = %v, want ErrUsage", err)
	}
	if _, err := run(t, "-c", path, "get", "greeting", "--args", "not-json"); err == nil {
		t.Error("get with malformed --args succeeded")
	}
	if _, err := run(t, "-c", filepath.Join(t.TempDir(), "missing.yaml"), "children", "x"); err == nil {
		t.Error("missing config file accepted")
	}
}
