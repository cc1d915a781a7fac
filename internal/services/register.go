// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/aicli/internal/tools"
)

// Config gathers the settings of every service tool.
type Config struct {
	Fetch        FetchConfig
	MaxPageChars int
	Search       SearchConfig
	Email        EmailConfig
	Finance      FinanceConfig
}

// Register adds search_online, scrape_url, send_email and
// alpha_vantage_query to r. Tools whose credentials are missing are still
// registered and report not_configured when called.
func Register(r *tools.Registry, cfg Config, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	f := NewFetcher(cfg.Fetch, log)

	specs := []tools.ToolSpec{
		SearchTool(NewSearcher(cfg.Search, f, log)),
		ScrapeTool(NewScraper(f, cfg.MaxPageChars)),
		EmailTool(NewMailer(cfg.Email, log)),
		FinanceTool(NewAlphaVantage(cfg.Finance, f)),
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}
