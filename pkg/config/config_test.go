package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() RawConfig {
	return RawConfig{
		Name:            "Auth Events Collector",
		Endpoint:        "https://api.example.com/auth/events",
		Credential:      "abc123",
		AuthScheme:      "apikey",
		PollingInterval: "300",
		Enabled:         true,
	}
}

func TestValidate_Valid(t *testing.T) {
	raw := validRaw()
	raw.CustomHeaders = `{"X-Tenant":"acme"}`

	cfg, err := Validate(raw)
	require.NoError(t, err)

	assert.Equal(t, "Auth Events Collector", cfg.Name)
	assert.Equal(t, "https://api.example.com/auth/events", cfg.Endpoint.String())
	assert.Equal(t, SchemeAPIKey, cfg.AuthScheme)
	assert.Equal(t, 300*time.Second, cfg.PollingInterval)
	assert.Equal(t, map[string]string{"X-Tenant": "acme"}, cfg.CustomHeaders)
	assert.Equal(t, "array", cfg.ResponseFormat)
	assert.Equal(t, DefaultMaxPages, cfg.MaxPages)
	assert.True(t, cfg.Enabled)
}

func TestValidate_Aliases(t *testing.T) {
	raw := RawConfig{
		Name:            "legacy form",
		APIURL:          "http://localhost:9000/events",
		APIKey:          "secret",
		AuthType:        "BASIC",
		PollingInterval: " 60 ",
	}

	cfg, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/events", cfg.Endpoint.String())
	assert.Equal(t, "secret", cfg.Credential)
	assert.Equal(t, SchemeBasic, cfg.AuthScheme)
	assert.Equal(t, time.Minute, cfg.PollingInterval)
	assert.False(t, cfg.Enabled)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RawConfig)
		field  string
	}{
		{"empty name", func(r *RawConfig) { r.Name = "  " }, "name"},
		{"relative endpoint", func(r *RawConfig) { r.Endpoint = "/auth/events" }, "endpoint"},
		{"garbage endpoint", func(r *RawConfig) { r.Endpoint = "::not a url" }, "endpoint"},
		{"ftp endpoint", func(r *RawConfig) { r.Endpoint = "ftp://example.com/x" }, "endpoint"},
		{"empty endpoint", func(r *RawConfig) { r.Endpoint = "" }, "endpoint"},
		{"empty credential", func(r *RawConfig) { r.Credential = "" }, "credential"},
		{"interval below minimum", func(r *RawConfig) { r.PollingInterval = "59" }, "polling_interval"},
		{"interval zero", func(r *RawConfig) { r.PollingInterval = "0" }, "polling_interval"},
		{"interval not a number", func(r *RawConfig) { r.PollingInterval = "5m" }, "polling_interval"},
		{"interval missing", func(r *RawConfig) { r.PollingInterval = "" }, "polling_interval"},
		{"interval overflows duration", func(r *RawConfig) { r.PollingInterval = "18446744173" }, "polling_interval"},
		{"interval beyond int64", func(r *RawConfig) { r.PollingInterval = "99999999999999999999" }, "polling_interval"},
		{"interval negative", func(r *RawConfig) { r.PollingInterval = "-300" }, "polling_interval"},
		{"unknown scheme", func(r *RawConfig) { r.AuthScheme = "digest" }, "auth_scheme"},
		{"missing scheme", func(r *RawConfig) { r.AuthScheme = "" }, "auth_scheme"},
		{"unknown format", func(r *RawConfig) { r.ResponseFormat = "xml" }, "response_format"},
		{"negative pages", func(r *RawConfig) { r.MaxPages = -1 }, "max_pages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)

			_, err := Validate(raw)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
			assert.True(t, verr.Has(tt.field), "expected %s to be rejected: %v", tt.field, err)
			assert.Len(t, verr.Problems, 1)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	_, err := Validate(RawConfig{})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	for _, field := range []string{"name", "endpoint", "credential", "auth_scheme", "polling_interval"} {
		assert.True(t, verr.Has(field), field)
	}
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestValidate_CustomHeaderParseError(t *testing.T) {
	raw := validRaw()
	raw.CustomHeaders = `{"X-Tenant": `

	_, err := Validate(raw)
	require.Error(t, err)

	var herr *CustomHeaderParseError
	require.True(t, errors.As(err, &herr))

	var verr *ValidationError
	assert.False(t, errors.As(err, &verr), "a lone header problem is not a generic validation error")
}

func TestValidate_CustomHeaderWithOtherProblems(t *testing.T) {
	raw := validRaw()
	raw.Name = ""
	raw.CustomHeaders = `["not", "an", "object"]`

	_, err := Validate(raw)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("custom_headers"))

	var herr *CustomHeaderParseError
	assert.True(t, errors.As(err, &herr))
}

func TestParseCustomHeaders(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected map[string]string
		wantErr  bool
	}{
		{"blank", "   ", map[string]string{}, false},
		{"flat object", `{"Authorization":"Custom xyz","X-A":"b"}`, map[string]string{"Authorization": "Custom xyz", "X-A": "b"}, false},
		{"nested value", `{"X-A":{"b":"c"}}`, nil, true},
		{"number value", `{"X-A":1}`, nil, true},
		{"null", `null`, nil, true},
		{"array", `["a"]`, nil, true},
		{"empty name", `{"":"x"}`, nil, true},
		{"broken", `{`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers, err := ParseCustomHeaders(tt.input)
			if tt.wantErr {
				var herr *CustomHeaderParseError
				require.True(t, errors.As(err, &herr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, headers)
		})
	}
}

func TestSeconds_UnmarshalJSON(t *testing.T) {
	var raw RawConfig
	require.NoError(t, json.Unmarshal([]byte(`{"polling_interval": 120}`), &raw))
	assert.Equal(t, Seconds("120"), raw.PollingInterval)

	require.NoError(t, json.Unmarshal([]byte(`{"polling_interval": "300"}`), &raw))
	assert.Equal(t, Seconds("300"), raw.PollingInterval)

	require.NoError(t, json.Unmarshal([]byte(`{"polling_interval": null}`), &raw))
	assert.Equal(t, Seconds(""), raw.PollingInterval)
}

func TestIntegrationConfig_RedactsCredential(t *testing.T) {
	raw := validRaw()
	raw.Credential = "super-secret-value"
	raw.CustomHeaders = `{"X-Api-Secret":"also-secret"}`

	cfg, err := Validate(raw)
	require.NoError(t, err)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret-value")
	assert.NotContains(t, string(data), "also-secret")
	assert.Contains(t, string(data), "X-Api-Secret")
	assert.NotContains(t, cfg.String(), "super-secret-value")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "integrations.yaml")
	content := `
integrations:
  - name: okta
    endpoint: https://okta.example.com/api/v1/logs
    credential: token-1
    auth_scheme: apikey
    polling_interval: 300
    enabled: true
  - name: legacy
    api_url: https://legacy.example.com/events
    api_key: token-2
    auth_type: basic
    polling_interval: "60"
    custom_headers: '{"X-Tenant":"acme"}'
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	raws, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, raws, 2)

	assert.Equal(t, "okta", raws[0].Name)
	assert.Equal(t, Seconds("300"), raws[0].PollingInterval)
	assert.True(t, raws[0].Enabled)

	cfg, err := Validate(raws[1])
	require.NoError(t, err)
	assert.Equal(t, SchemeBasic, cfg.AuthScheme)
	assert.Equal(t, "acme", cfg.CustomHeaders["X-Tenant"])
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("other: true\n"), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestValidate_OAuthClient(t *testing.T) {
	raw := validRaw()
	raw.AuthScheme = "oauth"
	raw.OAuth = &OAuthClient{
		TokenURL: "https://login.example.com/oauth2/token",
		ClientID: "collector",
		Scopes:   []string{"logs.read"},
	}

	cfg, err := Validate(raw)
	require.NoError(t, err)
	require.NotNil(t, cfg.OAuth)
	assert.Equal(t, "collector", cfg.OAuth.ClientID)

	// the validated copy does not share the caller's slice
	raw.OAuth.Scopes[0] = "changed"
	assert.Equal(t, []string{"logs.read"}, cfg.OAuth.Scopes)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"oauth_token_url":"https://login.example.com/oauth2/token"`)
}

func TestValidate_OAuthClientRejections(t *testing.T) {
	raw := validRaw()
	raw.OAuth = &OAuthClient{TokenURL: "/token"}

	_, err := Validate(raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("oauth"))
	assert.True(t, verr.Has("oauth.token_url"))
	assert.True(t, verr.Has("oauth.client_id"))
}
