package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mosajjal/authhec/pkg/auth"
	"github.com/mosajjal/authhec/pkg/config"
)

// ConnectionResult reports whether an upstream accepted a probe
type ConnectionResult struct {
	Reachable  bool
	Detail     string
	StatusCode int
	Method     string
	Latency    time.Duration
	Error      error
}

// TestConnection probes cfg's endpoint with its headers. It sends HEAD, falling back to a
// GET for a single record when HEAD is not allowed. Nothing is fetched into the pipeline,
// and disabled integrations are probed too.
func (c *Collector) TestConnection(ctx context.Context, raw config.RawConfig) ConnectionResult {
	cfg, err := config.Validate(raw)
	if err != nil {
		return ConnectionResult{Detail: "invalid configuration: " + err.Error(), Error: err}
	}

	headers, err := c.authenticator(cfg).Headers(ctx, cfg)
	if err != nil {
		return ConnectionResult{Detail: "could not build request headers: " + err.Error(), Error: err}
	}

	started := time.Now()
	method := http.MethodHead
	status, err := c.probe(ctx, method, cfg.Endpoint.String(), headers)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		method = http.MethodGet
		u := *cfg.Endpoint
		q := u.Query()
		q.Set("limit", "1")
		u.RawQuery = q.Encode()
		status, err = c.probe(ctx, method, u.String(), headers)
	}

	result := ConnectionResult{StatusCode: status, Method: method, Latency: time.Since(started)}
	switch {
	case err != nil:
		result.Detail = "connection failed: " + err.Error()
		result.Error = err
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		result.Detail = fmt.Sprintf("authentication rejected (HTTP %d)", status)
	case status >= 200 && status < 400:
		result.Reachable = true
		result.Detail = fmt.Sprintf("reachable (HTTP %d)", status)
	default:
		result.Detail = fmt.Sprintf("unexpected response (HTTP %d)", status)
	}

	c.logger.Info("connection test finished",
		zap.String("integration", cfg.Name),
		zap.String("method", method),
		zap.Bool("reachable", result.Reachable),
		zap.Int("status", status),
		zap.Duration("latency", result.Latency),
	)
	return result
}

func (c *Collector) probe(ctx context.Context, method, target string, headers map[string]string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	auth.Apply(req, headers)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
