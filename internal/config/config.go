// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete aicli configuration.
type Config struct {
	Model    ModelConfig    `toml:"model" json:"model"`
	Agent    AgentConfig    `toml:"agent" json:"agent"`
	Sandbox  SandboxConfig  `toml:"sandbox" json:"sandbox"`
	Editor   EditorConfig   `toml:"editor" json:"editor"`
	Dispatch DispatchConfig `toml:"dispatch" json:"dispatch"`
	Email    EmailConfig    `toml:"email" json:"email"`
	Search   SearchConfig   `toml:"search" json:"search"`
	Finance  FinanceConfig  `toml:"finance" json:"finance"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	Logging  LoggingConfig  `toml:"logging" json:"logging"`
	UI       UIConfig       `toml:"ui" json:"ui"`
}

// ModelConfig selects the chat completions endpoint.
type ModelConfig struct {
	BaseURL           string        `toml:"base_url" json:"base_url"`
	APIVersion        string        `toml:"api_version" json:"api_version"`
	Name              string        `toml:"name" json:"name"`
	APIKey            string        `toml:"api_key" json:"api_key"`
	Temperature       float64       `toml:"temperature" json:"temperature"`
	Timeout           time.Duration `toml:"timeout" json:"timeout"`
	MaxRetries        int           `toml:"max_retries" json:"max_retries"`
	Backoff           time.Duration `toml:"backoff" json:"backoff"`
	MaxBackoff        time.Duration `toml:"max_backoff" json:"max_backoff"`
	RequestsPerSecond float64       `toml:"requests_per_second" json:"requests_per_second"`
}

// AgentConfig bounds the conversation loop.
type AgentConfig struct {
	MaxTurns          int    `toml:"max_turns" json:"max_turns"`
	SystemPromptExtra string `toml:"system_prompt_extra" json:"system_prompt_extra"`
}

// SandboxConfig confines execute_command. An empty root means the current
// directory; an empty allowlist means the built-in one.
type SandboxConfig struct {
	Root         string        `toml:"root" json:"root"`
	EnvAllowlist []string      `toml:"env_allowlist" json:"env_allowlist"`
	Timeout      time.Duration `toml:"timeout" json:"timeout"`
	MaxOutput    ByteSize      `toml:"max_output" json:"max_output"`
}

// EditorConfig configures file_editor.
type EditorConfig struct {
	FuzzLines        int  `toml:"fuzz_lines" json:"fuzz_lines"`
	AllowOutsideRoot bool `toml:"allow_outside_root" json:"allow_outside_root"`
}

// DispatchConfig configures the tool dispatcher and its risk policy. Empty
// pattern lists mean the built-in ones.
type DispatchConfig struct {
	HandlerTimeout    time.Duration     `toml:"handler_timeout" json:"handler_timeout"`
	MaxResult         ByteSize          `toml:"max_result" json:"max_result"`
	AutoApprove       bool              `toml:"auto_approve" json:"auto_approve"`
	DangerousPatterns []string          `toml:"dangerous_patterns" json:"dangerous_patterns"`
	AmbiguousPatterns []string          `toml:"ambiguous_patterns" json:"ambiguous_patterns"`
	TierOverrides     map[string]string `toml:"tier_overrides" json:"tier_overrides"`
}

// EmailConfig configures send_email.
type EmailConfig struct {
	SMTPServer  string        `toml:"smtp_server" json:"smtp_server"`
	SMTPPort    int           `toml:"smtp_port" json:"smtp_port"`
	Username    string        `toml:"username" json:"username"`
	Password    string        `toml:"password" json:"password"`
	Sender      string        `toml:"sender" json:"sender"`
	Destination string        `toml:"destination" json:"destination"`
	Timeout     time.Duration `toml:"timeout" json:"timeout"`
}

// SearchConfig configures search_online. Without an API key and engine ID
// DuckDuckGo is used.
type SearchConfig struct {
	APIKey     string `toml:"api_key" json:"api_key"`
	EngineID   string `toml:"engine_id" json:"engine_id"`
	Endpoint   string `toml:"endpoint" json:"endpoint"`
	MaxResults int    `toml:"max_results" json:"max_results"`
	Excerpts   int    `toml:"excerpts" json:"excerpts"`
	PageChars  int    `toml:"page_chars" json:"page_chars"`
}

// FinanceConfig configures alpha_vantage_query.
type FinanceConfig struct {
	APIKey   string `toml:"api_key" json:"api_key"`
	Endpoint string `toml:"endpoint" json:"endpoint"`
}

// StorageConfig configures the transcript store. An empty path means
// ~/.aicli/history.db.
type StorageConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	File   string `toml:"file" json:"file"`
}

// UIConfig configures terminal output.
type UIConfig struct {
	Markdown bool   `toml:"markdown" json:"markdown"`
	Spinner  string `toml:"spinner" json:"spinner"`
	Color    string `toml:"color" json:"color"`
}

// =============================================================================
// BYTE SIZES
// =============================================================================

// ByteSize is a size written as "64KiB", "5MB" or a plain byte count.
// Units are binary.
type ByteSize int64

var (
	_ encoding.TextMarshaler   = ByteSize(0)
	_ encoding.TextUnmarshaler = (*ByteSize)(nil)
)

// MarshalText renders the size in the largest exact binary unit.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText parses a human-readable size.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("negative size %q", text)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			BaseURL:     "https://api.openai.com",
			APIVersion:  "v1",
			Name:        "gpt-4o-mini",
			Temperature: 0.2,
			Timeout:     2 * time.Minute,
			MaxRetries:  3,
			Backoff:     500 * time.Millisecond,
			MaxBackoff:  10 * time.Second,
		},
		Agent: AgentConfig{
			MaxTurns: 25,
		},
		Sandbox: SandboxConfig{
			Timeout:   2 * time.Minute,
			MaxOutput: 64 * units.KiB,
		},
		Editor: EditorConfig{
			FuzzLines: 3,
		},
		Dispatch: DispatchConfig{
			HandlerTimeout: 5 * time.Minute,
			MaxResult:      32 * units.KiB,
		},
		Email: EmailConfig{
			SMTPServer: "localhost",
			SMTPPort:   25,
			Timeout:    10 * time.Second,
		},
		Search: SearchConfig{
			MaxResults: 5,
			Excerpts:   2,
			PageChars:  12000,
		},
		Storage: StorageConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		UI: UIConfig{
			Markdown: true,
			Spinner:  "dot",
			Color:    "auto",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the aicli configuration directory, ~/.aicli.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".aicli"), nil
}

// Path returns the default config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DotEnvPath returns the legacy ~/.aicli.conf path.
func DotEnvPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".aicli.conf"), nil
}

// StoragePath returns the transcript database path.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return expandHome(c.Storage.Path)
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ensureSecurePermissions tightens a config file holding credentials to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.aicli/config.toml when it exists, then the legacy dotenv
// file and the environment, and validates the result.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return load(path, false)
}

// LoadFrom is Load with an explicit file, which must exist.
func LoadFrom(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, required bool) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := decodeFile(cfg, path); err != nil {
			return nil, err
		}
	} else if required || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads only path over the defaults, without the dotenv file or
// the environment. A missing file yields the defaults. The config set
// command edits this view so overrides are never written back.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := decodeFile(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeFile(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default path.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes cfg as TOML with 0600 permissions.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# aicli configuration file")
	fmt.Fprintln(file, "# Edit by hand or with `aicli config set <key> <value>`.")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validTiers = map[string]bool{"safe": true, "ambiguous": true, "destructive": true}

// Validate reports every invalid field. It returns nil or ValidationErrors.
func (c *Config) Validate() error {
	var errs ValidationErrors
	fail := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Model
	if u, err := url.Parse(c.Model.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fail("model.base_url", "must be an http or https URL, got %q", c.Model.BaseURL)
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		fail("model.name", "must not be empty")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		fail("model.temperature", "must be between 0 and 2, got %g", c.Model.Temperature)
	}
	if c.Model.Timeout < 0 {
		fail("model.timeout", "must not be negative")
	}
	if c.Model.MaxRetries < 0 || c.Model.MaxRetries > 10 {
		fail("model.max_retries", "must be between 0 and 10, got %d", c.Model.MaxRetries)
	}
	if c.Model.Backoff < 0 {
		fail("model.backoff", "must not be negative")
	}
	if c.Model.MaxBackoff != 0 && c.Model.MaxBackoff < c.Model.Backoff {
		fail("model.max_backoff", "must be at least model.backoff (%s)", c.Model.Backoff)
	}
	if c.Model.RequestsPerSecond < 0 {
		fail("model.requests_per_second", "must not be negative")
	}

	// Agent
	if c.Agent.MaxTurns < 1 || c.Agent.MaxTurns > 200 {
		fail("agent.max_turns", "must be between 1 and 200, got %d", c.Agent.MaxTurns)
	}

	// Sandbox
	if c.Sandbox.Timeout < 0 {
		fail("sandbox.timeout", "must not be negative")
	}
	if c.Sandbox.MaxOutput < 0 {
		fail("sandbox.max_output", "must not be negative")
	}
	for _, name := range c.Sandbox.EnvAllowlist {
		if name == "" || strings.ContainsAny(name, "= ") {
			fail("sandbox.env_allowlist", "invalid variable name %q", name)
		}
	}

	// Editor
	if c.Editor.FuzzLines < 0 || c.Editor.FuzzLines > 50 {
		fail("editor.fuzz_lines", "must be between 0 and 50, got %d", c.Editor.FuzzLines)
	}

	// Dispatch
	if c.Dispatch.HandlerTimeout < 0 {
		fail("dispatch.handler_timeout", "must not be negative")
	}
	if c.Dispatch.MaxResult < 0 {
		fail("dispatch.max_result", "must not be negative")
	}
	for field, patterns := range map[string][]string{
		"dispatch.dangerous_patterns": c.Dispatch.DangerousPatterns,
		"dispatch.ambiguous_patterns": c.Dispatch.AmbiguousPatterns,
	} {
		for _, p := range patterns {
			if _, err := regexp.Compile(p); err != nil {
				fail(field, "invalid pattern %q: %v", p, err)
			}
		}
	}
	for tool, tier := range c.Dispatch.TierOverrides {
		if !validTiers[strings.ToLower(tier)] {
			fail("dispatch.tier_overrides."+tool, "invalid tier %q, must be one of: safe, ambiguous, destructive", tier)
		}
	}

	// Email
	if c.Email.SMTPPort < 1 || c.Email.SMTPPort > 65535 {
		fail("email.smtp_port", "must be between 1 and 65535, got %d", c.Email.SMTPPort)
	}
	for field, addr := range map[string]string{"email.sender": c.Email.Sender, "email.destination": c.Email.Destination} {
		if addr == "" {
			continue
		}
		if _, err := mail.ParseAddress(addr); err != nil {
			fail(field, "invalid address %q", addr)
		}
	}

	// Search
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 10 {
		fail("search.max_results", "must be between 1 and 10, got %d", c.Search.MaxResults)
	}
	if c.Search.Excerpts < 0 || c.Search.Excerpts > c.Search.MaxResults {
		fail("search.excerpts", "must be between 0 and search.max_results, got %d", c.Search.Excerpts)
	}
	if c.Search.PageChars < 0 {
		fail("search.page_chars", "must not be negative")
	}
	for field, endpoint := range map[string]string{"search.endpoint": c.Search.Endpoint, "finance.endpoint": c.Finance.Endpoint} {
		if endpoint == "" {
			continue
		}
		if u, err := url.Parse(endpoint); err != nil || u.Host == "" {
			fail(field, "invalid URL %q", endpoint)
		}
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		fail("logging.level", "invalid level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		fail("logging.format", "invalid format %q, must be one of: text, json", c.Logging.Format)
	}

	// UI
	switch strings.ToLower(c.UI.Color) {
	case "auto", "always", "never":
	default:
		fail("ui.color", "invalid value %q, must be one of: auto, always, never", c.UI.Color)
	}

	if len(errs) == 0 {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get returns the value at a dot-separated key such as "model.name".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// GetString renders the value at key the way `config get` prints it.
func (c *Config) GetString(key string) (string, error) {
	v, err := c.Get(key)
	if err != nil {
		return "", err
	}
	switch v := v.(type) {
	case []string:
		return strings.Join(v, ","), nil
	case map[string]string:
		pairs := make([]string, 0, len(v))
		for k, val := range v {
			pairs = append(pairs, k+"="+val)
		}
		sort.Strings(pairs)
		return strings.Join(pairs, ","), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Set assigns the value at key. Strings are converted to the field's
// type: durations use Go syntax, sizes accept units, lists are comma
// separated and maps are comma separated key=value pairs.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	if err := setFieldValue(field, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue sets field from value, converting strings as Set describes.
func setFieldValue(field reflect.Value, value any) error {
	strVal, ok := value.(string)
	if !ok {
		val := reflect.ValueOf(value)
		if !val.IsValid() {
			return errors.New("nil value")
		}
		if val.Type().AssignableTo(field.Type()) {
			field.Set(val)
			return nil
		}
		if val.Type().ConvertibleTo(field.Type()) && field.Kind() != reflect.String {
			field.Set(val.Convert(field.Type()))
			return nil
		}
		return fmt.Errorf("cannot assign %T to %s", value, field.Type())
	}

	strVal = strings.TrimSpace(strVal)
	if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(strVal))
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(strVal)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(strVal)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(strVal, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %w", err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(strVal, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %w", err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := parseBool(strVal)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		field.Set(reflect.ValueOf(splitList(strVal)))
	case reflect.Map:
		m := make(map[string]string)
		for _, pair := range splitList(strVal) {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("invalid key=value pair %q", pair)
			}
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(m))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", s)
}

func splitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetAllKeys returns every configuration key in dot notation, in file order.
func GetAllKeys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := range t.NumField() {
		section := t.Field(i)
		for j := range section.Type.NumField() {
			keys = append(keys, tomlName(section)+"."+tomlName(section.Type.Field(j)))
		}
	}
	return keys
}

func tomlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	return name
}

// =============================================================================
// COPYING AND DISPLAY
// =============================================================================

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Sandbox.EnvAllowlist = cloneSlice(c.Sandbox.EnvAllowlist)
	clone.Dispatch.DangerousPatterns = cloneSlice(c.Dispatch.DangerousPatterns)
	clone.Dispatch.AmbiguousPatterns = cloneSlice(c.Dispatch.AmbiguousPatterns)
	if c.Dispatch.TierOverrides != nil {
		clone.Dispatch.TierOverrides = make(map[string]string, len(c.Dispatch.TierOverrides))
		for k, v := range c.Dispatch.TierOverrides {
			clone.Dispatch.TierOverrides[k] = v
		}
	}
	return &clone
}

func cloneSlice(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// Redacted returns a copy with credentials masked.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	safe.Model.APIKey = MaskSecret(safe.Model.APIKey)
	safe.Email.Password = MaskSecret(safe.Email.Password)
	safe.Search.APIKey = MaskSecret(safe.Search.APIKey)
	safe.Finance.APIKey = MaskSecret(safe.Finance.APIKey)
	return safe
}

// MaskSecret keeps the first four characters of a secret.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// IsSecret reports whether key holds a credential.
func IsSecret(key string) bool {
	switch strings.ToLower(key) {
	case "model.api_key", "email.password", "search.api_key", "finance.api_key":
		return true
	}
	return false
}

// String renders the redacted config as JSON for logs.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// TOML renders the redacted config in file syntax for `config show`.
func (c *Config) TOML() (string, error) {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c.Redacted()); err != nil {
		return "", err
	}
	return sb.String(), nil
}
