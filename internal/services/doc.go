// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package services implements the tools that reach outside the machine:
// web search, page scraping, email and market data.
//
// All HTTP goes through one Fetcher, which refuses non-http schemes and
// private, loopback and cloud metadata addresses, including addresses
// reached by redirect or DNS. Failures are HandlerErrors whose Kind the
// dispatcher reports as the result's error detail.
//
// # Tools
//
//   - search_online: Google Custom Search, or DuckDuckGo without a key
//   - scrape_url: readable text of a page
//   - send_email: SMTP to the configured destination (ambiguous tier)
//   - alpha_vantage_query: Alpha Vantage market data
package services
