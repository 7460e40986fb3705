package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// ErrSecret is returned when a secret value cannot be resolved.
var ErrSecret = errors.New("config: secret resolution failed")

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands $VAR and ${VAR} in s.
//
// A ${VAR} whose variable is unset is an error; a bare $VAR expands to "".
// "$$" yields a literal "$".
func ExpandEnvStrict(s string) (string, error) {
	const dollar = "\x00KEYCACHE_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	seen := make(map[string]bool)
	for _, m := range envVarPattern.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if _, ok := os.LookupEnv(name); !ok && !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: missing environment variables: %s", ErrSecret, strings.Join(missing, ", "))
	}

	s = os.ExpandEnv(s)
	return strings.ReplaceAll(s, dollar, "$"), nil
}

// SecretProvider resolves a reference such as "secretref:<name>:<ref>".
//
// Implementations must not log secret values.
type SecretProvider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
}

type envProvider struct{}

func (envProvider) Name() string { return "env" }

func (envProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrSecret, ref)
	}
	return v, nil
}

type fileProvider struct{}

func (fileProvider) Name() string { return "file" }

// Resolve reads the file at ref; one trailing newline is dropped.
func (fileProvider) Resolve(_ context.Context, ref string) (string, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrSecret, ref, err)
	}
	return strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r"), nil
}

// SecretResolver expands environment variables and resolves secret
// references in configuration values.
type SecretResolver struct {
	providers map[string]SecretProvider
}

// NewSecretResolver returns a resolver with the "env" and "file" providers
// plus any extra providers (which replace built-ins of the same name).
func NewSecretResolver(extra ...SecretProvider) *SecretResolver {
	r := &SecretResolver{providers: map[string]SecretProvider{
		"env":  envProvider{},
		"file": fileProvider{},
	}}
	for _, p := range extra {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// ParseSecretRef splits "secretref:<provider>:<ref>".
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, "secretref:")
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

// Resolve expands value and, when the result is a secret reference, resolves
// it. An empty resolved secret is an error.
func (r *SecretResolver) Resolve(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil {
		return "", err
	}
	name, ref, ok := ParseSecretRef(expanded)
	if !ok {
		return expanded, nil
	}

	p, found := r.providers[name]
	if !found {
		return "", fmt.Errorf("%w: provider %q is not registered", ErrSecret, name)
	}
	out, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("%w: provider %q returned an empty value", ErrSecret, name)
	}
	return out, nil
}

// ResolveSecrets resolves the secret-bearing fields of cfg in place.
func (r *SecretResolver) ResolveSecrets(ctx context.Context, cfg *Config) error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"storage.redis.password", &cfg.Storage.Redis.Password},
		{"storage.sql.dsn", &cfg.Storage.SQL.DSN},
	}
	for _, f := range fields {
		if *f.ptr == "" {
			continue
		}
		v, err := r.Resolve(ctx, *f.ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.ptr = v
	}
	return nil
}
