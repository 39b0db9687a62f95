package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/mosajjal/authhec/pkg/config"
)

// BasicUsername is the fixed user half of basic credentials. Only the secret is configurable.
const BasicUsername = "user"

// HeaderBuildError is returned when headers cannot be built for a config
type HeaderBuildError struct {
	Header string
	Err    error
}

func (e *HeaderBuildError) Error() string {
	if e.Header == "" {
		return fmt.Sprintf("failed to build request headers: %v", e.Err)
	}
	return fmt.Sprintf("failed to build request header %q: %v", e.Header, e.Err)
}

func (e *HeaderBuildError) Unwrap() error {
	return e.Err
}

// Authenticator builds outbound request headers. The zero value is ready to use.
type Authenticator struct {
	// TokenSource, when set, supplies bearer tokens for the oauth scheme instead of the
	// static credential
	TokenSource oauth2.TokenSource
}

// BuildHeaders returns the headers for cfg using the static credential for every scheme
func BuildHeaders(cfg config.IntegrationConfig) (map[string]string, error) {
	return (&Authenticator{}).Headers(context.Background(), cfg)
}

// Headers returns the headers for an outbound request to cfg.Endpoint. Custom headers are
// merged last and override anything derived from the scheme, Authorization included.
func (a *Authenticator) Headers(ctx context.Context, cfg config.IntegrationConfig) (map[string]string, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
	}

	switch cfg.AuthScheme {
	case config.SchemeAPIKey:
		headers["Authorization"] = "Bearer " + cfg.Credential
	case config.SchemeBasic:
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(BasicUsername+":"+cfg.Credential))
	case config.SchemeOAuth:
		token := cfg.Credential
		if a != nil && a.TokenSource != nil {
			tok, err := a.TokenSource.Token()
			if err != nil {
				return nil, &HeaderBuildError{Header: "Authorization", Err: fmt.Errorf("oauth token source: %w", err)}
			}
			token = tok.AccessToken
		}
		headers["Authorization"] = "Bearer " + token
	default:
		return nil, &HeaderBuildError{Header: "Authorization", Err: fmt.Errorf("unsupported auth scheme %q", cfg.AuthScheme)}
	}

	for name, value := range cfg.CustomHeaders {
		if !validHeaderName(name) {
			return nil, &HeaderBuildError{Header: name, Err: fmt.Errorf("invalid header name")}
		}
		if strings.ContainsAny(value, "\r\n") {
			return nil, &HeaderBuildError{Header: name, Err: fmt.Errorf("header value contains a line break")}
		}
		// match case-insensitively so an override replaces the scheme value instead of
		// producing two spellings of the same header
		for existing := range headers {
			if strings.EqualFold(existing, name) {
				delete(headers, existing)
			}
		}
		headers[name] = value
	}

	return headers, nil
}

// Apply sets headers on req
func Apply(req *http.Request, headers map[string]string) {
	for name, value := range headers {
		req.Header.Set(name, value)
	}
}

// validHeaderName reports whether name is an RFC 7230 token
func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r > 0x7e || r <= 0x20 {
			return false
		}
		if strings.ContainsRune(`"(),/:;<=>?@[\]{}`, r) {
			return false
		}
	}
	return true
}
