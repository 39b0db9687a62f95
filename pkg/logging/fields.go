package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mosajjal/authhec/pkg/config"
)

// Integration logs the non-secret parts of a validated config. Custom header values are
// left out since they may carry credentials.
func Integration(cfg config.IntegrationConfig) zap.Field {
	return zap.Object("config", integrationFields(cfg))
}

type integrationFields config.IntegrationConfig

func (f integrationFields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", f.Name)
	if f.Endpoint != nil {
		enc.AddString("endpoint", f.Endpoint.Redacted())
	}
	enc.AddString("auth_scheme", string(f.AuthScheme))
	enc.AddDuration("polling_interval", f.PollingInterval)
	enc.AddBool("enabled", f.Enabled)
	enc.AddString("response_format", f.ResponseFormat)
	enc.AddInt("max_pages", f.MaxPages)
	enc.AddInt("custom_headers", len(f.CustomHeaders))
	return nil
}
