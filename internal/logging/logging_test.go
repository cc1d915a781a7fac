// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/aicli/internal/config"
)

func TestSetup_Level(t *testing.T) {
	logger := logrus.New()
	closer, err := Setup(logger, config.LoggingConfig{Level: "error", Format: "text"}, false)
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, logrus.ErrorLevel, logger.GetLevel())
	assert.Equal(t, os.Stderr, logger.Out)

	_, err = Setup(logger, config.LoggingConfig{Level: "error"}, true)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestSetup_Errors(t *testing.T) {
	logger := logrus.New()
	_, err := Setup(logger, config.LoggingConfig{Level: "loud", Format: "text"}, false)
	assert.Error(t, err)
	_, err = Setup(logger, config.LoggingConfig{Level: "info", Format: "xml"}, false)
	assert.ErrorContains(t, err, "unsupported log format")
}

func TestSetup_JSONFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	logger := logrus.New()
	closer, err := Setup(logger, config.LoggingConfig{Level: "info", Format: "json", File: "aicli.log"}, false)
	require.NoError(t, err)
	logger.WithField("tool", "execute_command").Info("dispatched")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(home, ".aicli", "logs", "aicli.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool":"execute_command"`)
	assert.Contains(t, string(data), `"msg":"dispatched"`)
}

func TestFilePath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "x.log")
	p, err := FilePath(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, p)
}
