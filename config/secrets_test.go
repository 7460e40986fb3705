package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("KEYCACHE_HOST", "db.internal")
	t.Setenv("KEYCACHE_PORT", "5432")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr string
	}{
		{name: "plain", in: "no vars", want: "no vars"},
		{name: "braced", in: "${KEYCACHE_HOST}:${KEYCACHE_PORT}", want: "db.internal:5432"},
		{name: "bare", in: "$KEYCACHE_HOST", want: "db.internal"},
		{name: "escaped dollar", in: "pa$$word", want: "pa$word"},
		{name: "missing", in: "${KEYCACHE_NOPE_B}/${KEYCACHE_NOPE_A}", wantErr: "KEYCACHE_NOPE_A, KEYCACHE_NOPE_B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnvStrict(tt.in)
			if tt.wantErr != "" {
				if !errors.Is(err, ErrSecret) || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ExpandEnvStrict(%q) error = %v, want mention of %q", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExpandEnvStrict(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnvStrict(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseSecretRef(t *testing.T) {
	tests := []struct {
		in       string
		provider string
		ref      string
		ok       bool
	}{
		{"secretref:env:TOKEN", "env", "TOKEN", true},
		{"secretref:file:/run/secrets/db:ro", "file", "/run/secrets/db:ro", true},
		{"secretref:env:", "", "", false},
		{"secretref::x", "", "", false},
		{"plain", "", "", false},
	}
	for _, tt := range tests {
		p, r, ok := ParseSecretRef(tt.in)
		if p != tt.provider || r != tt.ref || ok != tt.ok {
			t.Errorf("ParseSecretRef(%q) = %q, %q, %v", tt.in, p, r, ok)
		}
	}
}

type staticProvider struct{ value string }

func (staticProvider) Name() string { return "vault" }

func (p staticProvider) Resolve(context.Context, string) (string, error) { return p.value, nil }

func TestSecretResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	t.Setenv("KEYCACHE_REDIS_PASSWORD", "hunter2")
	t.Setenv("KEYCACHE_SECRET_NAME", "KEYCACHE_REDIS_PASSWORD")
	t.Setenv("KEYCACHE_EMPTY", "")

	secretFile := filepath.Join(t.TempDir(), "dsn")
	if err := os.WriteFile(secretFile, []byte("postgres://u:p@db/cache\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewSecretResolver(staticProvider{value: "from-vault"})

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "literal", in: "localhost:6379", want: "localhost:6379"},
		{name: "env ref", in: "secretref:env:KEYCACHE_REDIS_PASSWORD", want: "hunter2"},
		{name: "expanded ref", in: "secretref:env:${KEYCACHE_SECRET_NAME}", want: "hunter2"},
		{name: "file ref", in: "secretref:file:" + secretFile, want: "postgres://u:p@db/cache"},
		{name: "custom provider", in: "secretref:vault:cache/redis", want: "from-vault"},
		{name: "unset env", in: "secretref:env:KEYCACHE_UNSET_VAR", wantErr: true},
		{name: "empty env", in: "secretref:env:KEYCACHE_EMPTY", wantErr: true},
		{name: "missing file", in: "secretref:file:/nonexistent/keycache", wantErr: true},
		{name: "unknown provider", in: "secretref:aws:thing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrSecret) {
					t.Fatalf("Resolve(%q) error = %v, want ErrSecret", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSecretResolver_ResolveSecrets(t *testing.T) {
	t.Setenv("KEYCACHE_REDIS_PASSWORD", "hunter2")

	cfg := Default()
	cfg.Storage.Redis.Password = "secretref:env:KEYCACHE_REDIS_PASSWORD"
	cfg.Storage.SQL.DSN = "${KEYCACHE_MISSING_DSN}"

	err := NewSecretResolver().ResolveSecrets(context.Background(), &cfg)
	if err == nil || !strings.HasPrefix(err.Error(), "storage.sql.dsn:") {
		t.Fatalf("ResolveSecrets() error = %v, want storage.sql.dsn failure", err)
	}
	if cfg.Storage.Redis.Password != "hunter2" {
		t.Errorf("redis password = %q, want resolved", cfg.Storage.Redis.Password)
	}
}
