package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mosajjal/authhec/pkg/source"
)

// AuthScheme selects how outbound requests are authenticated
type AuthScheme string

const (
	SchemeAPIKey AuthScheme = "apikey"
	SchemeOAuth  AuthScheme = "oauth"
	SchemeBasic  AuthScheme = "basic"
)

const (
	// MinPollingInterval is the shortest accepted polling interval
	MinPollingInterval = 60 * time.Second

	// DefaultMaxPages bounds pagination when the integration does not set a limit
	DefaultMaxPages = 10
)

// Seconds holds a polling interval that may be supplied as "300" or 300
type Seconds string

// UnmarshalJSON accepts both JSON strings and JSON numbers
func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Seconds(str)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	*s = Seconds(data)
	return nil
}

// RawConfig is an integration definition as supplied by the configuration form or file,
// before validation. The api_url, api_key and auth_type fields are accepted as aliases.
type RawConfig struct {
	Name            string  `json:"name" mapstructure:"name"`
	Endpoint        string  `json:"endpoint" mapstructure:"endpoint"`
	APIURL          string  `json:"api_url,omitempty" mapstructure:"api_url"`
	Credential      string  `json:"credential" mapstructure:"credential"`
	APIKey          string  `json:"api_key,omitempty" mapstructure:"api_key"`
	AuthScheme      string  `json:"auth_scheme" mapstructure:"auth_scheme"`
	AuthType        string  `json:"auth_type,omitempty" mapstructure:"auth_type"`
	CustomHeaders   string  `json:"custom_headers,omitempty" mapstructure:"custom_headers"`
	PollingInterval Seconds `json:"polling_interval" mapstructure:"polling_interval"`
	Enabled         bool    `json:"enabled" mapstructure:"enabled"`
	ResponseFormat  string  `json:"response_format,omitempty" mapstructure:"response_format"`
	MaxPages        int     `json:"max_pages,omitempty" mapstructure:"max_pages"`

	// OAuth switches the oauth scheme from a static bearer token to the client
	// credentials grant, with Credential as the client secret
	OAuth *OAuthClient `json:"oauth,omitempty" mapstructure:"oauth"`
}

// OAuthClient describes a client credentials grant
type OAuthClient struct {
	TokenURL string   `json:"token_url" mapstructure:"token_url"`
	ClientID string   `json:"client_id" mapstructure:"client_id"`
	Scopes   []string `json:"scopes,omitempty" mapstructure:"scopes"`
}

// IntegrationConfig is a validated integration. It is only produced by Validate and is
// treated as immutable for the duration of a collection cycle.
type IntegrationConfig struct {
	Name            string
	Endpoint        *url.URL
	Credential      string
	AuthScheme      AuthScheme
	CustomHeaders   map[string]string
	PollingInterval time.Duration
	Enabled         bool
	ResponseFormat  string
	MaxPages        int
	OAuth           *OAuthClient
}

// String never includes the credential
func (c IntegrationConfig) String() string {
	return fmt.Sprintf("integration(%s, %s)", c.Name, c.AuthScheme)
}

// MarshalJSON renders the config with the credential redacted
func (c IntegrationConfig) MarshalJSON() ([]byte, error) {
	endpoint := ""
	if c.Endpoint != nil {
		endpoint = c.Endpoint.String()
	}
	return json.Marshal(struct {
		Name            string     `json:"name"`
		Endpoint        string     `json:"endpoint"`
		Credential      string     `json:"credential"`
		AuthScheme      AuthScheme `json:"auth_scheme"`
		CustomHeaders   []string   `json:"custom_headers,omitempty"`
		PollingInterval int        `json:"polling_interval"`
		Enabled         bool       `json:"enabled"`
		ResponseFormat  string     `json:"response_format"`
		MaxPages        int        `json:"max_pages"`
		OAuthTokenURL   string     `json:"oauth_token_url,omitempty"`
	}{
		Name:            c.Name,
		Endpoint:        endpoint,
		Credential:      "REDACTED",
		AuthScheme:      c.AuthScheme,
		CustomHeaders:   headerNames(c.CustomHeaders),
		PollingInterval: int(c.PollingInterval / time.Second),
		Enabled:         c.Enabled,
		ResponseFormat:  c.ResponseFormat,
		MaxPages:        c.MaxPages,
		OAuthTokenURL:   oauthTokenURL(c.OAuth),
	})
}

// FieldError describes one rejected field
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message
}

// ValidationError lists every problem found in a RawConfig
type ValidationError struct {
	Problems []FieldError

	// HeaderErr is set when custom_headers was one of the problems
	HeaderErr *CustomHeaderParseError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return "invalid configuration: " + strings.Join(parts, ", ")
}

// Unwrap exposes the custom header error, if any, to errors.As
func (e *ValidationError) Unwrap() error {
	if e.HeaderErr == nil {
		return nil
	}
	return e.HeaderErr
}

// Has reports whether field was rejected
func (e *ValidationError) Has(field string) bool {
	for _, p := range e.Problems {
		if p.Field == field {
			return true
		}
	}
	return false
}

// CustomHeaderParseError is returned when custom_headers is not a flat JSON object of
// string values. It is kept apart from ValidationError since only that one field needs
// editing to recover.
type CustomHeaderParseError struct {
	Err error
}

func (e *CustomHeaderParseError) Error() string {
	return "invalid custom headers JSON format: " + e.Err.Error()
}

func (e *CustomHeaderParseError) Unwrap() error {
	return e.Err
}

// Validate checks a RawConfig and returns its normalized form. It has no side effects.
// When custom_headers is the only problem the error is a *CustomHeaderParseError,
// otherwise a *ValidationError.
func Validate(raw RawConfig) (IntegrationConfig, error) {
	var problems []FieldError
	reject := func(field, format string, args ...interface{}) {
		problems = append(problems, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	cfg := IntegrationConfig{
		Name:    strings.TrimSpace(raw.Name),
		Enabled: raw.Enabled,
	}

	if cfg.Name == "" {
		reject("name", "must not be empty")
	}

	endpoint := firstNonEmpty(raw.Endpoint, raw.APIURL)
	if u, err := parseEndpoint(endpoint); err != nil {
		reject("endpoint", "%v", err)
	} else {
		cfg.Endpoint = u
	}

	cfg.Credential = firstNonEmpty(raw.Credential, raw.APIKey)
	if strings.TrimSpace(cfg.Credential) == "" {
		reject("credential", "must not be empty")
	}

	scheme := AuthScheme(strings.ToLower(strings.TrimSpace(firstNonEmpty(raw.AuthScheme, raw.AuthType))))
	switch scheme {
	case SchemeAPIKey, SchemeOAuth, SchemeBasic:
		cfg.AuthScheme = scheme
	case "":
		reject("auth_scheme", "must be one of apikey, oauth, basic")
	default:
		reject("auth_scheme", "unsupported scheme %q, must be one of apikey, oauth, basic", scheme)
	}

	interval := strings.TrimSpace(string(raw.PollingInterval))
	if interval == "" {
		reject("polling_interval", "is required")
	} else if seconds, err := strconv.ParseInt(interval, 10, 64); err != nil {
		reject("polling_interval", "must be a whole number of seconds")
	} else if seconds > math.MaxInt64/int64(time.Second) {
		reject("polling_interval", "must be at most %d seconds, got %d", int64(math.MaxInt64/int64(time.Second)), seconds)
	} else if time.Duration(seconds)*time.Second < MinPollingInterval {
		reject("polling_interval", "must be at least %d seconds, got %d", int(MinPollingInterval/time.Second), seconds)
	} else {
		cfg.PollingInterval = time.Duration(seconds) * time.Second
	}

	cfg.ResponseFormat = strings.ToLower(strings.TrimSpace(raw.ResponseFormat))
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = source.FormatArray
	}
	if !source.IsKnown(cfg.ResponseFormat) {
		reject("response_format", "unknown format %q", raw.ResponseFormat)
	}

	switch {
	case raw.MaxPages < 0:
		reject("max_pages", "must not be negative")
	case raw.MaxPages == 0:
		cfg.MaxPages = DefaultMaxPages
	default:
		cfg.MaxPages = raw.MaxPages
	}

	if raw.OAuth != nil {
		if cfg.AuthScheme != "" && cfg.AuthScheme != SchemeOAuth {
			reject("oauth", "only applies to the oauth scheme")
		}
		if _, err := parseEndpoint(raw.OAuth.TokenURL); err != nil {
			reject("oauth.token_url", "%v", err)
		}
		if strings.TrimSpace(raw.OAuth.ClientID) == "" {
			reject("oauth.client_id", "must not be empty")
		}
		client := *raw.OAuth
		client.Scopes = append([]string(nil), raw.OAuth.Scopes...)
		cfg.OAuth = &client
	}

	var headerErr *CustomHeaderParseError
	headers, err := ParseCustomHeaders(raw.CustomHeaders)
	if err != nil {
		headerErr = err.(*CustomHeaderParseError)
		reject("custom_headers", "%v", headerErr.Err)
	} else {
		cfg.CustomHeaders = headers
	}

	if len(problems) == 0 {
		return cfg, nil
	}
	if len(problems) == 1 && headerErr != nil {
		return IntegrationConfig{}, headerErr
	}
	return IntegrationConfig{}, &ValidationError{Problems: problems, HeaderErr: headerErr}
}

// ParseCustomHeaders decodes a serialized flat object of header name to value. Blank input
// yields an empty map. Failures are always *CustomHeaderParseError.
func ParseCustomHeaders(serialized string) (map[string]string, error) {
	headers := map[string]string{}
	if strings.TrimSpace(serialized) == "" {
		return headers, nil
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(serialized), &decoded); err != nil {
		return nil, &CustomHeaderParseError{Err: err}
	}
	if decoded == nil {
		return nil, &CustomHeaderParseError{Err: fmt.Errorf("expected a JSON object")}
	}
	for name, value := range decoded {
		str, ok := value.(string)
		if !ok {
			return nil, &CustomHeaderParseError{Err: fmt.Errorf("header %q must have a string value", name)}
		}
		if strings.TrimSpace(name) == "" {
			return nil, &CustomHeaderParseError{Err: fmt.Errorf("header names must not be empty")}
		}
		headers[name] = str
	}
	return headers, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("not a valid URL")
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func headerNames(headers map[string]string) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func oauthTokenURL(client *OAuthClient) string {
	if client == nil {
		return ""
	}
	return client.TokenURL
}
