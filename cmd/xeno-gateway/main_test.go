// ABOUTME: Tests for the gateway binary's init and token commands
// ABOUTME: Runs them against temp config paths and checks what they write

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/xeno-gateway/internal/auth"
	"github.com/2389/xeno-gateway/internal/config"
)

func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "xeno", "gateway.yaml")
	t.Setenv(config.EnvConfigPath, path)
	t.Setenv(config.EnvDatabasePath, "")
	t.Setenv(config.EnvForceFallback, "")
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return path
}

func TestParseTokenArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		user    string
		ttl     time.Duration
		wantErr string
	}{
		{name: "separate value", args: []string{"--user", "alice"}, user: "alice", ttl: defaultTokenTTL},
		{name: "equals form", args: []string{"--user=bob", "--ttl=1h"}, user: "bob", ttl: time.Hour},
		{name: "short flag", args: []string{"-u", "carol", "--ttl", "90m"}, user: "carol", ttl: 90 * time.Minute},
		{name: "missing user", args: nil, wantErr: "--user flag is required"},
		{name: "blank user", args: []string{"--user", "  "}, wantErr: "--user flag is required"},
		{name: "dangling flag", args: []string{"--user"}, wantErr: "--user requires a value"},
		{name: "bad ttl", args: []string{"--user", "a", "--ttl", "soon"}, wantErr: "invalid --ttl"},
		{name: "negative ttl", args: []string{"--user", "a", "--ttl=-1h"}, wantErr: "invalid --ttl"},
		{name: "unknown flag", args: []string{"--name", "a"}, wantErr: "unknown flag"},
		{name: "positional", args: []string{"alice"}, wantErr: "unexpected argument"},
		{name: "too long", args: []string{"--user", strings.Repeat("x", 101)}, wantErr: "maximum length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTokenArgs(tt.args)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, got.user)
			assert.Equal(t, tt.ttl, got.ttl)
		})
	}
}

func TestIssueToken(t *testing.T) {
	secret := strings.Repeat("k", config.MinJWTSecretLength)

	token, err := issueToken(secret, "alice", time.Hour)
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	user, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	_, err = issueToken("short", "alice", time.Hour)
	assert.Error(t, err)
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret()
	require.NoError(t, err)
	b, err := generateSecret()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(a), config.MinJWTSecretLength)
	assert.NotEqual(t, a, b)
}

func TestRunToken_CreatesConfig(t *testing.T) {
	path := isolateConfig(t)

	require.NoError(t, runToken([]string{"--user", "alice"}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Auth.JWTSecret)

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(path), "token"))
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	require.NoError(t, err)
	user, err := verifier.Verify(string(raw))
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	// A second token reuses the secret.
	require.NoError(t, runToken([]string{"--user", "bob"}))
	again, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Auth.JWTSecret, again.Auth.JWTSecret)
}

func TestRunToken_AnonymousConfig(t *testing.T) {
	path := isolateConfig(t)
	require.NoError(t, config.Default().Write(path))

	err := runToken([]string{"--user", "alice"})
	assert.ErrorContains(t, err, "jwt_secret not configured")
}

func TestRunInit(t *testing.T) {
	path := isolateConfig(t)

	answers := strings.Join([]string{
		path,                 // config path
		"",                   // http address
		"http://app.example", // allowed origins
		"none",               // database
		"",                   // provider
		"y",                  // auth
		"",                   // log level
		"json",               // log format
	}, "\n") + "\n"

	require.NoError(t, runInit(strings.NewReader(answers)))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"http://app.example"}, cfg.Server.AllowedOrigins)
	assert.Empty(t, cfg.Database.Path)
	assert.Equal(t, "none", cfg.Generation.Provider)
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), config.MinJWTSecretLength)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	path := isolateConfig(t)
	require.NoError(t, config.Default().Write(path))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, runInit(strings.NewReader(path+"\nno\n")))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
