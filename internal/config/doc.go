// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and manages the aicli configuration.
//
// # Configuration Precedence
//
// Later sources win:
//   - Built-in defaults
//   - ~/.aicli/config.toml, or the file given with --config
//   - ~/.aicli.conf (KEY=VALUE lines)
//   - Environment variables
//
// Every key can be overridden with an AICLI_* variable named after it, so
// model.api_key is read from AICLI_MODEL_API_KEY. The variable names of
// earlier releases (API_KEY, MODEL, SMTP_SERVER_IP, ...) are still read,
// with lower precedence than the AICLI_* names.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	_ = cfg.Set("sandbox.max_output", "128KiB")
//	v, _ := cfg.GetString("model.name")
package config
