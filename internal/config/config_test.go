// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at an empty directory and clears every variable the
// loader reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, l := range legacyEnv {
		t.Setenv(l.name, "")
	}
	for _, key := range GetAllKeys() {
		t.Setenv(EnvName(key), "")
	}
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Name)
	assert.Equal(t, "https://api.openai.com", cfg.Model.BaseURL)
	assert.Equal(t, "v1", cfg.Model.APIVersion)
	assert.Equal(t, "localhost", cfg.Email.SMTPServer)
	assert.Equal(t, ByteSize(64*1024), cfg.Sandbox.MaxOutput)
}

func TestValidate_CollectsEveryError(t *testing.T) {
	cfg := Default()
	cfg.Model.BaseURL = "ftp://example.com"
	cfg.Model.Temperature = 3
	cfg.Agent.MaxTurns = 0
	cfg.Dispatch.DangerousPatterns = []string{"(unclosed"}
	cfg.Dispatch.TierOverrides = map[string]string{"send_email": "maybe"}
	cfg.Email.Destination = "not an address"
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, len(verrs))
	for i, e := range verrs {
		fields[i] = e.Field
	}
	assert.Equal(t, []string{
		"agent.max_turns",
		"dispatch.dangerous_patterns",
		"dispatch.tier_overrides.send_email",
		"email.destination",
		"logging.format",
		"model.base_url",
		"model.temperature",
	}, fields)
	assert.Contains(t, err.Error(), "; ")
}

// =============================================================================
// LOADING
// =============================================================================

func TestLoad_NoFiles(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFrom_TOML(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "custom.toml")
	writeFile(t, path, `
[model]
name = "llama3"
base_url = "http://localhost:11434"
backoff = "250ms"

[sandbox]
max_output = "1MiB"
env_allowlist = ["PATH", "HOME"]

[dispatch]
max_result = 2048
tier_overrides = { scrape_url = "ambiguous" }
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "llama3", cfg.Model.Name)
	assert.Equal(t, "http://localhost:11434", cfg.Model.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Model.Backoff)
	assert.Equal(t, ByteSize(1<<20), cfg.Sandbox.MaxOutput)
	assert.Equal(t, []string{"PATH", "HOME"}, cfg.Sandbox.EnvAllowlist)
	assert.Equal(t, ByteSize(2048), cfg.Dispatch.MaxResult)
	assert.Equal(t, map[string]string{"scrape_url": "ambiguous"}, cfg.Dispatch.TierOverrides)
	// Untouched sections keep their defaults.
	assert.Equal(t, 25, cfg.Agent.MaxTurns)
}

func TestLoadFrom_Errors(t *testing.T) {
	home := isolate(t)

	_, err := LoadFrom(filepath.Join(home, "missing.toml"))
	assert.Error(t, err)

	unknown := filepath.Join(home, "unknown.toml")
	writeFile(t, unknown, "[model]\nnmae = \"typo\"\n")
	_, err = LoadFrom(unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.nmae")

	invalid := filepath.Join(home, "invalid.toml")
	writeFile(t, invalid, "[agent]\nmax_turns = -1\n")
	_, err = LoadFrom(invalid)
	var verrs ValidationErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestLoad_FixesPermissions(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".aicli", "config.toml")
	writeFile(t, path, "[model]\nname = \"x\"\n")
	require.NoError(t, os.Chmod(path, 0o644))

	_, err := Load()
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestSaveAndReload(t *testing.T) {
	home := isolate(t)
	cfg := Default()
	cfg.Model.APIKey = "sk-secret"
	cfg.Sandbox.MaxOutput = 128 * 1024
	cfg.Dispatch.TierOverrides = map[string]string{"send_email": "destructive"}
	require.NoError(t, Save(cfg))

	path := filepath.Join(home, ".aicli", "config.toml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `max_output = "128KiB"`)
	assert.Contains(t, string(data), `timeout = "2m0s"`)

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFile_IgnoresEnvironment(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".aicli", "config.toml")
	writeFile(t, path, "[model]\nname = \"gpt-file\"\n")
	t.Setenv("AICLI_MODEL_NAME", "gpt-env")
	t.Setenv("API_KEY", "sk-env")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-file", cfg.Model.Name)
	assert.Empty(t, cfg.Model.APIKey)

	missing, err := LoadFile(filepath.Join(home, "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), missing)
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

func TestApplyEnvOverrides_Precedence(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".aicli.conf"), `
# legacy settings
API_KEY="sk-from-file"
MODEL=gpt-from-file # trailing comment
SMTP_SERVER_IP='10.0.0.5'
export DESTINATION_EMAIL=me@example.com
`)
	t.Setenv("MODEL", "gpt-from-env")
	t.Setenv("AICLI_AGENT_MAX_TURNS", "7")
	t.Setenv("AICLI_SANDBOX_MAX_OUTPUT", "256k")
	t.Setenv("AICLI_EMAIL_SMTP_SERVER", "smtp.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-file", cfg.Model.APIKey)
	assert.Equal(t, "gpt-from-env", cfg.Model.Name)
	assert.Equal(t, "me@example.com", cfg.Email.Destination)
	assert.Equal(t, 7, cfg.Agent.MaxTurns)
	assert.Equal(t, ByteSize(256*1024), cfg.Sandbox.MaxOutput)
	// AICLI_* beats the legacy name.
	assert.Equal(t, "smtp.example.com", cfg.Email.SMTPServer)
}

func TestApplyEnvOverrides_BadValue(t *testing.T) {
	isolate(t)
	t.Setenv("AICLI_MODEL_TEMPERATURE", "warm")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AICLI_MODEL_TEMPERATURE")
}

func TestParseDotEnv(t *testing.T) {
	vars, err := ParseDotEnv(strings.NewReader(`
A=plain
B="with spaces and ; semicolon"
C='single # not a comment'
D="escaped \" quote" # comment
E=
`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"A": "plain",
		"B": "with spaces and ; semicolon",
		"C": "single # not a comment",
		"D": `escaped " quote`,
		"E": "",
	}, vars)

	_, err = ParseDotEnv(strings.NewReader("NOEQUALS\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = ParseDotEnv(strings.NewReader(`X="open`))
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "AICLI_MODEL_API_KEY", EnvName("model.api_key"))
	assert.Equal(t, "AICLI_DISPATCH_TIER_OVERRIDES", EnvName("dispatch.tier_overrides"))
}

// =============================================================================
// GET / SET
// =============================================================================

func TestGetSet(t *testing.T) {
	cfg := Default()
	tests := []struct {
		key, value, want string
	}{
		{"model.name", "gpt-4o", "gpt-4o"},
		{"model.temperature", "0.7", "0.7"},
		{"model.backoff", "2s", "2s"},
		{"agent.max_turns", "40", "40"},
		{"sandbox.max_output", "1MiB", "1MiB"},
		{"sandbox.env_allowlist", "PATH, HOME ,", "PATH,HOME"},
		{"editor.allow_outside_root", "yes", "true"},
		{"dispatch.tier_overrides", "send_email=destructive,scrape_url=safe", "scrape_url=safe,send_email=destructive"},
		{"email.smtp_port", "587", "587"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.NoError(t, cfg.Set(tt.key, tt.value))
			got, err := cfg.GetString(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	require.NoError(t, cfg.Set("Model.Max-Retries", 5))
	assert.Equal(t, 5, cfg.Model.MaxRetries)
}

func TestGetSet_Errors(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.Set("model.nope", "x"), "unknown field: model.nope")
	assert.ErrorContains(t, cfg.Set("model.name.deeper", "x"), "is not a struct")
	assert.Error(t, cfg.Set("agent.max_turns", "many"))
	assert.Error(t, cfg.Set("model.timeout", "soon"))
	assert.Error(t, cfg.Set("editor.allow_outside_root", "perhaps"))
	assert.Error(t, cfg.Set("dispatch.tier_overrides", "novalue"))
	_, err := cfg.Get("")
	assert.Error(t, err)
}

func TestGetAllKeys_Resolve(t *testing.T) {
	cfg := Default()
	keys := GetAllKeys()
	assert.Contains(t, keys, "model.api_key")
	assert.Contains(t, keys, "ui.color")
	for _, key := range keys {
		_, err := cfg.Get(key)
		assert.NoError(t, err, key)
	}
}

// =============================================================================
// COPYING AND REDACTION
// =============================================================================

func TestClone_IsDeep(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.EnvAllowlist = []string{"PATH"}
	cfg.Dispatch.TierOverrides = map[string]string{"a": "safe"}

	clone := cfg.Clone()
	clone.Sandbox.EnvAllowlist[0] = "HOME"
	clone.Dispatch.TierOverrides["a"] = "destructive"

	assert.Equal(t, "PATH", cfg.Sandbox.EnvAllowlist[0])
	assert.Equal(t, "safe", cfg.Dispatch.TierOverrides["a"])
}

func TestRedaction(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKey = "sk-abcdef123456"
	cfg.Email.Password = "hunter2"
	cfg.Finance.APIKey = "abc"

	out := cfg.String()
	assert.NotContains(t, out, "abcdef123456")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "sk-a****")

	text, err := cfg.TOML()
	require.NoError(t, err)
	assert.Contains(t, text, `api_key = "sk-a****"`)
	assert.Equal(t, "sk-abcdef123456", cfg.Model.APIKey)

	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Empty(t, MaskSecret(""))
	assert.True(t, IsSecret("Email.Password"))
	assert.False(t, IsSecret("email.username"))
}

func TestStoragePath(t *testing.T) {
	home := isolate(t)
	cfg := Default()
	p, err := cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".aicli", "history.db"), p)

	cfg.Storage.Path = "~/elsewhere/h.db"
	p, err = cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "elsewhere", "h.db"), p)
}
