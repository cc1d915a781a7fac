// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-shellwords"
)

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// EnvPrefix prefixes the generated override names: model.api_key is read
// from AICLI_MODEL_API_KEY.
const EnvPrefix = "AICLI_"

// legacyEnv maps the variable names of earlier releases, still accepted in
// ~/.aicli.conf and the environment, to config keys. AICLI_* names win.
var legacyEnv = []struct{ name, key string }{
	{"API_BASE_URL", "model.base_url"},
	{"API_VERSION", "model.api_version"},
	{"MODEL", "model.name"},
	{"API_KEY", "model.api_key"},
	{"SMTP_SERVER_IP", "email.smtp_server"},
	{"SMTP_USERNAME", "email.username"},
	{"SMTP_PASSWORD", "email.password"},
	{"SENDER_EMAIL", "email.sender"},
	{"DESTINATION_EMAIL", "email.destination"},
	{"GOOGLE_SEARCH_API_KEY", "search.api_key"},
	{"GOOGLE_SEARCH_ENGINE_ID", "search.engine_id"},
	{"ALPHA_VANTAGE_API_KEY", "finance.api_key"},
}

// EnvName returns the AICLI_* variable overriding key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// ApplyEnvOverrides applies ~/.aicli.conf, then the process environment.
// A variable set in the environment hides the same name in the file.
func (c *Config) ApplyEnvOverrides() error {
	fileVars := map[string]string{}
	if path, err := DotEnvPath(); err == nil {
		vars, err := LoadDotEnv(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		fileVars = vars
	}
	return c.applyEnv(func(name string) (string, bool) {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
		v, ok := fileVars[name]
		return v, ok
	})
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	set := func(name, key string) {
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		if err := c.Set(key, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for _, l := range legacyEnv {
		set(l.name, l.key)
	}
	for _, key := range GetAllKeys() {
		set(EnvName(key), key)
	}
	return errors.Join(errs...)
}

// =============================================================================
// DOTENV
// =============================================================================

// LoadDotEnv reads KEY=VALUE lines from path.
func LoadDotEnv(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	vars, err := ParseDotEnv(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vars, nil
}

// ParseDotEnv parses dotenv syntax: blank lines and # comments are skipped,
// an optional "export " prefix is dropped, and quoted values are unquoted
// with shell rules. Unquoted values end at " #".
func ParseDotEnv(r io.Reader) (map[string]string, error) {
	vars := map[string]string{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", lineNo)
		}
		value, err := dotEnvValue(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		vars[key] = value
	}
	return vars, sc.Err()
}

func dotEnvValue(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if raw[0] != '"' && raw[0] != '\'' {
		if i := strings.Index(raw, " #"); i >= 0 {
			raw = raw[:i]
		}
		return strings.TrimSpace(raw), nil
	}

	end := strings.LastIndexByte(raw, raw[0])
	if end == 0 {
		return "", fmt.Errorf("unterminated quote in %s", raw)
	}
	if rest := strings.TrimSpace(raw[end+1:]); rest != "" && !strings.HasPrefix(rest, "#") {
		return "", fmt.Errorf("unexpected %q after value", rest)
	}
	words, err := shellwords.Parse(raw[:end+1])
	if err != nil {
		return "", fmt.Errorf("bad quoting in %s", raw)
	}
	return strings.Join(words, " "), nil
}
