package fetcher

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mosajjal/authhec/pkg/auth"
	"github.com/mosajjal/authhec/pkg/config"
	"github.com/mosajjal/authhec/pkg/models"
	"github.com/mosajjal/authhec/pkg/source"
)

const (
	// DefaultMaxBodyBytes caps a single page body
	DefaultMaxBodyBytes = 32 << 20

	// DefaultTimeout applies to each page request when the caller supplies no client
	DefaultTimeout = 30 * time.Second
)

// Result is the outcome of one fetch
type Result struct {
	Events    []models.AuthEvent
	Dropped   int
	Pages     int
	Truncated bool
	Disabled  bool
}

// Fetcher pulls authentication events from an upstream API
type Fetcher struct {
	client       *http.Client
	auth         *auth.Authenticator
	logger       *zap.Logger
	maxBodyBytes int64
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithAuthenticator replaces the default static-credential authenticator
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(f *Fetcher) { f.auth = a }
}

// WithMaxBodyBytes changes the per-page body cap
func WithMaxBodyBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBodyBytes = n }
}

// New creates a Fetcher. A nil client gets a default client with DefaultTimeout.
func New(client *http.Client, logger *zap.Logger, opts ...Option) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		client:       client,
		auth:         &auth.Authenticator{},
		logger:       logger,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves events for cfg, following next-page links up to cfg.MaxPages. A disabled
// config returns a Disabled result without touching the network. Any failure discards the
// pages already read.
func (f *Fetcher) Fetch(ctx context.Context, cfg config.IntegrationConfig) (*Result, error) {
	if !cfg.Enabled {
		return &Result{Disabled: true}, nil
	}

	decoder, err := source.ForFormat(cfg.ResponseFormat)
	if err != nil {
		return nil, &FetchError{Kind: KindParse, Err: err}
	}

	headers, err := f.auth.Headers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = config.DefaultMaxPages
	}

	result := &Result{}
	visited := map[string]bool{}
	next := cfg.Endpoint.String()

	for next != "" {
		if result.Pages >= maxPages {
			result.Truncated = true
			f.logger.Warn("pagination limit reached, remaining pages left for the next cycle",
				zap.String("integration", cfg.Name),
				zap.Int("max_pages", maxPages),
			)
			break
		}
		if visited[next] {
			f.logger.Warn("upstream returned a next link that was already fetched",
				zap.String("integration", cfg.Name),
				zap.String("url", next),
			)
			break
		}
		visited[next] = true
		page := result.Pages + 1

		body, link, err := f.get(ctx, next, headers, page)
		if err != nil {
			return nil, err
		}

		records, err := decoder.Decode(body)
		if err != nil {
			return nil, &FetchError{Kind: KindParse, Page: page, Err: err}
		}

		for i, record := range records {
			event, err := parseEvent(record)
			if err != nil {
				result.Dropped++
				f.logger.Debug("dropping malformed event",
					zap.String("integration", cfg.Name),
					zap.Int("page", page),
					zap.Int("index", i),
					zap.String("reason", err.Error()),
				)
				continue
			}
			result.Events = append(result.Events, event)
		}
		result.Pages = page

		f.logger.Debug("fetched page",
			zap.String("integration", cfg.Name),
			zap.Int("page", page),
			zap.Int("records", len(records)),
		)

		next, err = resolveLink(next, link)
		if err != nil {
			return nil, &FetchError{Kind: KindParse, Page: page, Err: err}
		}
	}

	return result, nil
}

func (f *Fetcher) get(ctx context.Context, target string, headers map[string]string, page int) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", &FetchError{Kind: KindTransport, Page: page, Err: err}
	}
	auth.Apply(req, headers)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", &FetchError{Kind: KindTransport, Page: page, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, "", &FetchError{Kind: KindAuth, StatusCode: resp.StatusCode, Page: page, Err: statusErr(resp)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, "", &FetchError{Kind: KindUpstream, StatusCode: resp.StatusCode, Page: page, Err: statusErr(resp)}
	}

	reader := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") && !resp.Uncompressed {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, "", &FetchError{Kind: KindParse, StatusCode: resp.StatusCode, Page: page, Err: fmt.Errorf("failed to create gzip reader: %w", err)}
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, "", &FetchError{Kind: KindTransport, StatusCode: resp.StatusCode, Page: page, Err: err}
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, "", &FetchError{Kind: KindParse, StatusCode: resp.StatusCode, Page: page, Err: fmt.Errorf("response body exceeds %d bytes", f.maxBodyBytes)}
	}

	return body, nextLink(resp.Header.Values("Link")), nil
}

func statusErr(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(snippet))
	if text == "" {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return fmt.Errorf("unexpected status %s: %s", resp.Status, text)
}

// nextLink extracts the rel="next" target from RFC 8288 Link header values. Targets are
// read up to the closing bracket, so commas inside a URL do not split a link.
func nextLink(values []string) string {
	for _, value := range values {
		rest := value
		for {
			open := strings.IndexByte(rest, '<')
			if open < 0 {
				break
			}
			closing := strings.IndexByte(rest[open:], '>')
			if closing < 0 {
				break
			}
			target := strings.TrimSpace(rest[open+1 : open+closing])
			var params string
			params, rest = linkParams(rest[open+closing+1:])
			if relNext(params) {
				return target
			}
		}
	}
	return ""
}

// linkParams returns the parameters of one link-value and what follows its separating comma.
// Commas inside quoted values do not end the link-value.
func linkParams(s string) (params, rest string) {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				return s[:i], s[i+1:]
			}
		}
	}
	return s, ""
}

func relNext(params string) bool {
	for _, param := range strings.Split(params, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
			continue
		}
		for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(val), `"`)) {
			if strings.EqualFold(rel, "next") {
				return true
			}
		}
	}
	return false
}

// resolveLink resolves a possibly relative next link against the current page URL
func resolveLink(current, link string) (string, error) {
	if link == "" {
		return "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid next link %q: %w", link, err)
	}
	return base.ResolveReference(ref).String(), nil
}
