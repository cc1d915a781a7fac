// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/jeranaias/aicli/internal/tools"
)

// DefaultFinanceEndpoint is the Alpha Vantage query URL.
const DefaultFinanceEndpoint = "https://www.alphavantage.co/query"

// compactSeries is how many points of a time series are kept in compact
// output.
const compactSeries = 30

// FinanceConfig configures alpha_vantage_query.
type FinanceConfig struct {
	APIKey   string
	Endpoint string
}

// AlphaVantage queries market data.
type AlphaVantage struct {
	cfg   FinanceConfig
	fetch *Fetcher
}

// NewAlphaVantage returns a client using f.
func NewAlphaVantage(cfg FinanceConfig, f *Fetcher) *AlphaVantage {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultFinanceEndpoint
	}
	return &AlphaVantage{cfg: cfg, fetch: f}
}

// FinanceArgs are the arguments of alpha_vantage_query.
type FinanceArgs struct {
	Function   string `json:"function" jsonschema:"pattern=^[A-Z_]+$" jsonschema_description:"Alpha Vantage function, e.g. GLOBAL_QUOTE, TIME_SERIES_DAILY, TIME_SERIES_WEEKLY, TIME_SERIES_MONTHLY or OVERVIEW."`
	Symbol     string `json:"symbol" jsonschema:"minLength=1" jsonschema_description:"Ticker symbol, e.g. IBM."`
	OutputSize string `json:"outputsize,omitempty" jsonschema:"enum=compact,enum=full" jsonschema_description:"compact (default) returns the latest points; full returns the whole history."`
}

// Query runs one API call and returns the reply as indented JSON.
func (a *AlphaVantage) Query(ctx context.Context, args FinanceArgs) (string, error) {
	if a.cfg.APIKey == "" {
		return "", notConfigured("alpha vantage", "set finance.api_key")
	}
	size := args.OutputSize
	if size == "" {
		size = "compact"
	}

	q := url.Values{}
	q.Set("function", args.Function)
	q.Set("symbol", strings.ToUpper(strings.TrimSpace(args.Symbol)))
	q.Set("apikey", a.cfg.APIKey)
	if args.Function != "GLOBAL_QUOTE" {
		q.Set("outputsize", size)
	}

	page, err := a.fetch.Get(ctx, a.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", withService(err, "alpha vantage")
	}

	var reply map[string]json.RawMessage
	if err := json.Unmarshal(page.Body, &reply); err != nil {
		return "", &HandlerError{Kind: KindUpstream, Service: "alpha vantage", Msg: "malformed reply", Err: err}
	}
	// Errors and rate limiting come back as 200 with a single message key.
	for _, key := range []string{"Error Message", "Note", "Information"} {
		if raw, ok := reply[key]; ok && len(reply) == 1 {
			var msg string
			_ = json.Unmarshal(raw, &msg)
			return "", &HandlerError{Kind: KindUpstream, Service: "alpha vantage", Msg: msg}
		}
	}
	if len(reply) == 0 {
		return fmt.Sprintf("No data for %s %s.", args.Function, args.Symbol), nil
	}

	if size == "compact" {
		for key, raw := range reply {
			if strings.HasPrefix(key, "Time Series") {
				reply[key] = latestPoints(raw, compactSeries)
			}
		}
	}

	out, err := json.Marshal(reply)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, out, "", "  "); err != nil {
		return string(out), nil
	}
	return buf.String(), nil
}

// latestPoints keeps the n most recent entries of a date-keyed series.
func latestPoints(raw json.RawMessage, n int) json.RawMessage {
	var series map[string]json.RawMessage
	if err := json.Unmarshal(raw, &series); err != nil || len(series) <= n {
		return raw
	}
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	kept := make(map[string]json.RawMessage, n)
	for _, k := range keys[:n] {
		kept[k] = series[k]
	}
	out, err := json.Marshal(kept)
	if err != nil {
		return raw
	}
	return out
}

// FinanceTool is alpha_vantage_query. Reading market data is safe.
func FinanceTool(a *AlphaVantage) tools.ToolSpec {
	spec := tools.NewTool("alpha_vantage_query",
		"Query Alpha Vantage for stock market data: quotes, daily/weekly/monthly time series and company overviews.",
		tools.TierSafe,
		a.Query)
	spec.Summarize = func(_ context.Context, raw json.RawMessage) string {
		var args FinanceArgs
		_ = json.Unmarshal(raw, &args)
		return fmt.Sprintf("query alpha vantage %s for %s", args.Function, args.Symbol)
	}
	return spec
}
