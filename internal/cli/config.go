// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Print one value
//   set <key> <value>   Set a value in the config file
//   keys                List every key
//   reset               Reset the config file to defaults
//   path                Show configuration file path
//
// Examples:
//   aicli config show --json
//   aicli config set model.name gpt-4o
//   aicli config set sandbox.max_output 128KiB
//   aicli config set dispatch.tier_overrides send_email=destructive
//   aicli config get model.base_url

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/aicli/internal/config"
)

func newConfigCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long: `View and modify ~/.aicli/config.toml.

show and get print the effective configuration, including ~/.aicli.conf and
AICLI_* environment overrides. set and reset only change the file.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return configShow(cmd.OutOrStdout(), opts, false)
		},
	}

	var showJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration (secrets masked)",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return configShow(cmd.OutOrStdout(), opts, showJSON)
		},
	}
	show.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")

	var reveal bool
	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			value, err := cfg.GetString(args[0])
			if err != nil {
				return &UsageError{Err: err}
			}
			if config.IsSecret(args[0]) && !reveal {
				value = config.MaskSecret(value)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	get.Flags().BoolVar(&reveal, "reveal", false, "Print credentials unmasked")

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value in the config file",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return configSet(cmd.OutOrStdout(), opts, args[0], args[1])
		},
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "List every configuration key",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, key := range config.GetAllKeys() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s %s\n", key, config.EnvName(key))
			}
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Reset the config file to defaults",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configFilePath(opts)
			if err != nil {
				return err
			}
			if err := config.SaveTo(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration reset to defaults: %s\n", path)
			return nil
		},
	}

	var pathJSON bool
	path := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return configPath(cmd.OutOrStdout(), opts, pathJSON)
		},
	}
	path.Flags().BoolVar(&pathJSON, "json", false, "Output in JSON format")

	cmd.AddCommand(show, get, set, keys, reset, path)
	return cmd
}

// configFilePath is --config or the default path.
func configFilePath(opts *globalOptions) (string, error) {
	if opts.configPath != "" {
		return opts.configPath, nil
	}
	return config.Path()
}

func configShow(w io.Writer, opts *globalOptions, asJSON bool) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	path, err := configFilePath(opts)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"path":   path,
			"config": cfg.Redacted(),
		})
	}

	text, err := cfg.TOML()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "# Config file: %s\n\n%s", path, text)
	return nil
}

// configSet edits the file alone, so environment overrides and dotenv
// values are never written back.
func configSet(w io.Writer, opts *globalOptions, key, value string) error {
	path, err := configFilePath(opts)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return &UsageError{Err: err}
	}
	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &UsageError{Err: err}
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return err
	}

	shown, _ := cfg.GetString(key)
	if config.IsSecret(key) {
		shown = config.MaskSecret(shown)
	}
	fmt.Fprintf(w, "Set %s = %s\n", key, shown)
	if env := config.EnvName(key); os.Getenv(env) != "" {
		fmt.Fprintf(w, "Note: %s is set in the environment and overrides this value.\n", env)
	}
	return nil
}

func configPath(w io.Writer, opts *globalOptions, asJSON bool) error {
	path, err := configFilePath(opts)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return statErr
	}

	if asJSON {
		return json.NewEncoder(w).Encode(map[string]any{"path": path, "exists": exists})
	}
	fmt.Fprintln(w, path)
	if !exists {
		fmt.Fprintln(w, "(not created yet; defaults are in use)")
	}
	return nil
}
