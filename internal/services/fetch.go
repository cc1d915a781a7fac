// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// SSRF PROTECTION - BLOCKED IP RANGES
// =============================================================================

// blockedCIDRs are private and reserved ranges a fetched URL may not
// resolve to.
var blockedCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",

	"::1/128",
	"::/128",
	"64:ff9b::/96",
	// ::ffff:0:0/96 is left out: net.ParseCIDR turns it into 0.0.0.0/0.
	// Mapped addresses are normalized to IPv4 and caught above.
	"100::/64",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
}

// blockedHosts are cloud metadata names and local aliases.
var blockedHosts = []string{
	"metadata.google.internal",
	"metadata.google.com",
	"169.254.169.254",
	"metadata",
	"instance-data",
	"localhost",
}

var blockedNetworks = func() []*net.IPNet {
	out := make([]*net.IPNet, 0, len(blockedCIDRs))
	for _, cidr := range blockedCIDRs {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			out = append(out, n)
		}
	}
	return out
}()

func isBlockedIP(ip net.IP) bool {
	for _, n := range blockedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// =============================================================================
// FETCHER
// =============================================================================

const (
	DefaultMaxResponse = 5 * 1024 * 1024
	DefaultTimeout     = 30 * time.Second
	DefaultUserAgent   = "aicli/1.0"
)

// FetchConfig configures a Fetcher. Zero values select the defaults.
type FetchConfig struct {
	MaxBytes     int64
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string

	// AllowPrivate turns off the address checks. Only tests set it.
	AllowPrivate bool
}

// Fetcher performs GET requests for the web tools. URLs must be http or
// https and may not reach private or metadata addresses, including
// through redirects or DNS answers.
type Fetcher struct {
	cfg    FetchConfig
	client *http.Client
	log    logrus.FieldLogger
}

// Page is a fetched response body.
type Page struct {
	URL         string
	ContentType string
	Body        []byte
}

// NewFetcher returns a fetcher for cfg.
func NewFetcher(cfg FetchConfig, log logrus.FieldLogger) *Fetcher {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxResponse
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	f := &Fetcher{cfg: cfg, log: log}
	f.client = f.newClient()
	return f
}

// validateURL parses rawURL and rejects schemes and hosts that are not
// allowed.
func (f *Fetcher) validateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &HandlerError{Kind: KindInvalidInput, Msg: "invalid URL", Err: err}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, &HandlerError{Kind: KindInvalidInput, Msg: "only http and https URLs are allowed"}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, &HandlerError{Kind: KindInvalidInput, Msg: "URL has no host"}
	}
	if f.cfg.AllowPrivate {
		return u, nil
	}
	for _, b := range blockedHosts {
		if host == b || strings.HasSuffix(host, "."+b) {
			return nil, &HandlerError{Kind: KindBlocked, Msg: "host " + host + " is blocked"}
		}
	}
	if ip := net.ParseIP(host); ip != nil && isBlockedIP(ip) {
		return nil, &HandlerError{Kind: KindBlocked, Msg: "address " + host + " is private or reserved"}
	}
	return u, nil
}

func (f *Fetcher) newClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if f.cfg.AllowPrivate {
				return dialer.DialContext(ctx, network, addr)
			}
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			// Resolved addresses are checked too, so a public name cannot
			// point at an internal service.
			ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			if err != nil {
				return nil, err
			}
			if len(ips) == 0 {
				return nil, errNoAddress
			}
			for _, ip := range ips {
				if isBlockedIP(ip) {
					return nil, &HandlerError{Kind: KindBlocked, Msg: host + " resolves to " + ip.String()}
				}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
		},
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   f.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= f.cfg.MaxRedirects {
				return errTooManyRedirects
			}
			_, err := f.validateURL(req.URL.String())
			return err
		},
	}
}

// Get fetches rawURL. Non-2xx statuses return an http_status error;
// bodies over MaxBytes return response_too_large.
func (f *Fetcher) Get(ctx context.Context, rawURL string, header http.Header) (Page, error) {
	u, err := f.validateURL(rawURL)
	if err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, &HandlerError{Kind: KindInvalidInput, Msg: "build request", Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, vs := range header {
		req.Header[k] = vs
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, classifyFetchError(err)
	}
	defer resp.Body.Close()

	f.log.WithFields(logrus.Fields{
		"host":     u.Host,
		"path":     u.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("fetched")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return Page{}, &HandlerError{Kind: KindHTTPStatus, Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return Page{}, classifyFetchError(err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return Page{}, &HandlerError{Kind: KindTooLarge, Msg: "body exceeds limit"}
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	return Page{URL: resp.Request.URL.String(), ContentType: ct, Body: body}, nil
}

// classifyFetchError keeps HandlerErrors raised by the dialer or redirect
// check and maps everything else to network. Context errors pass through.
func classifyFetchError(err error) error {
	var he *HandlerError
	if errors.As(err, &he) {
		return he
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	msg := "request failed"
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		msg = "request timed out"
	}
	if errors.Is(err, errTooManyRedirects) {
		msg = "too many redirects"
	}
	return &HandlerError{Kind: KindNetwork, Msg: msg, Err: err}
}
