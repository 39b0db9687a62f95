// Package collector runs collection cycles: validate a configuration, fetch its events and
// forward them, reporting every outcome as a CollectionResult.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mosajjal/authhec/pkg/auth"
	"github.com/mosajjal/authhec/pkg/config"
	"github.com/mosajjal/authhec/pkg/fetcher"
	"github.com/mosajjal/authhec/pkg/forwarder"
	"github.com/mosajjal/authhec/pkg/lock"
	"github.com/mosajjal/authhec/pkg/logging"
	"github.com/mosajjal/authhec/pkg/metrics"
	"github.com/mosajjal/authhec/pkg/models"
)

// Forwarder delivers fetched events
type Forwarder interface {
	Forward(ctx context.Context, integration string, events []models.AuthEvent) (forwarder.Result, error)
}

// Collector wires the fetcher and forwarder together behind a per-integration lock
type Collector struct {
	client       *http.Client
	forwarder    Forwarder
	locker       lock.Locker
	logger       *zap.Logger
	maxBodyBytes int64

	mu           sync.Mutex
	tokenSources map[string]oauth2.TokenSource
}

// Option configures a Collector
type Option func(*Collector)

// WithLocker replaces the in-process lock, e.g. with lock.Redis for several replicas
func WithLocker(l lock.Locker) Option {
	return func(c *Collector) { c.locker = l }
}

// WithMaxBodyBytes changes the per-page body cap of the fetcher
func WithMaxBodyBytes(n int64) Option {
	return func(c *Collector) { c.maxBodyBytes = n }
}

// New creates a Collector. client is used for upstream requests and token requests; nil
// gets a client with fetcher.DefaultTimeout.
func New(client *http.Client, fwd Forwarder, logger *zap.Logger, opts ...Option) *Collector {
	if client == nil {
		client = &http.Client{Timeout: fetcher.DefaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		client:       client,
		forwarder:    fwd,
		locker:       lock.NewLocal(),
		logger:       logger,
		tokenSources: make(map[string]oauth2.TokenSource),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidateConfig checks raw without side effects
func (c *Collector) ValidateConfig(raw config.RawConfig) (config.IntegrationConfig, error) {
	return config.Validate(raw)
}

// RunCollectionCycle validates raw, fetches its events and forwards them. It never panics
// and never returns an error separately: every failure is described by the result.
func (c *Collector) RunCollectionCycle(ctx context.Context, raw config.RawConfig) (res CollectionResult) {
	started := time.Now()
	res = CollectionResult{
		Integration: strings.TrimSpace(raw.Name),
		RunID:       uuid.New().String(),
		State:       StateIdle,
		Step:        StateIdle,
		StartedAt:   started.UTC(),
	}
	logger := c.logger.With(zap.String("run_id", res.RunID), zap.String("integration", res.Integration))

	defer func() {
		if r := recover(); r != nil {
			res.fail(KindPanic, fmt.Errorf("panic: %v", r))
		}
		res.Duration = time.Since(started)
		c.report(res, logger)
	}()

	res.enter(StateValidating)
	cfg, err := config.Validate(raw)
	if err != nil {
		res.fail(KindValidation, err)
		return res
	}
	if !cfg.Enabled {
		res.enter(StateDisabled)
		return res
	}

	res.enter(StateLocking)
	release, acquired, err := c.locker.TryAcquire(ctx, cfg.Name)
	if err != nil {
		res.fail(KindLock, err)
		return res
	}
	if !acquired {
		res.enter(StateSkipped)
		res.Error = ErrCycleInProgress
		return res
	}
	defer release()

	c.run(ctx, cfg, &res, logger)
	return res
}

// run executes the locked part of a cycle. A panic here is recovered before the lock is released.
func (c *Collector) run(ctx context.Context, cfg config.IntegrationConfig, res *CollectionResult, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("collection step panicked", zap.String("step", string(res.Step)), zap.Any("panic", r))
			res.fail(KindPanic, fmt.Errorf("panic: %v", r))
		}
	}()

	res.enter(StateFetching)
	logger.Debug("fetching events", logging.Integration(cfg))
	fetched, err := c.fetcherFor(cfg).Fetch(ctx, cfg)
	if err != nil {
		res.fail(fetchKind(err), err)
		return
	}
	res.Fetched = len(fetched.Events)
	res.Dropped = fetched.Dropped
	res.Pages = fetched.Pages
	res.Truncated = fetched.Truncated

	res.enter(StateForwarding)
	if len(fetched.Events) == 0 {
		res.enter(StateDone)
		return
	}

	fwd, err := c.forwarder.Forward(ctx, cfg.Name, fetched.Events)
	res.Forwarded = fwd.Forwarded
	res.Retried = fwd.Retried
	res.FailedToForward = fwd.Failed
	res.Archived = fwd.Archived
	if fwd.Retries > 0 {
		metrics.ForwardRetries.WithLabelValues(cfg.Name).Add(float64(fwd.Retries))
	}
	if err != nil {
		res.fail(forwardKind(ctx, err), err)
		return
	}
	res.enter(StateDone)
}

func (c *Collector) fetcherFor(cfg config.IntegrationConfig) *fetcher.Fetcher {
	opts := []fetcher.Option{fetcher.WithAuthenticator(c.authenticator(cfg))}
	if c.maxBodyBytes > 0 {
		opts = append(opts, fetcher.WithMaxBodyBytes(c.maxBodyBytes))
	}
	return fetcher.New(c.client, c.logger, opts...)
}

// authenticator reuses one token source per integration so cached tokens survive across cycles
func (c *Collector) authenticator(cfg config.IntegrationConfig) *auth.Authenticator {
	if cfg.AuthScheme != config.SchemeOAuth || cfg.OAuth == nil {
		return &auth.Authenticator{}
	}
	key := strings.Join([]string{cfg.Name, cfg.OAuth.TokenURL, cfg.OAuth.ClientID}, "\x00")

	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.tokenSources[key]
	if !ok {
		ts = auth.ClientCredentials(context.Background(), cfg, c.client)
		c.tokenSources[key] = ts
	}
	return &auth.Authenticator{TokenSource: ts}
}

func fetchKind(err error) string {
	var ferr *fetcher.FetchError
	if errors.As(err, &ferr) {
		return string(ferr.Kind)
	}
	var herr *auth.HeaderBuildError
	if errors.As(err, &herr) {
		return KindHeaders
	}
	return string(fetcher.KindTransport)
}

func forwardKind(ctx context.Context, err error) string {
	var partial *forwarder.PartialAckError
	switch {
	case ctx.Err() != nil:
		return KindCancelled
	case errors.As(err, &partial):
		return KindPartialAck
	default:
		return KindDelivery
	}
}

func (c *Collector) report(res CollectionResult, logger *zap.Logger) {
	outcome := res.Outcome()
	name := res.Integration
	if name == "" {
		name = "unknown"
	}

	metrics.CyclesTotal.WithLabelValues(name, string(outcome)).Inc()
	metrics.CycleDuration.WithLabelValues(name).Observe(res.Duration.Seconds())
	for stage, n := range map[string]int{
		metrics.StageFetched:   res.Fetched,
		metrics.StageDropped:   res.Dropped,
		metrics.StageForwarded: res.Forwarded,
		metrics.StageRetried:   res.Retried,
		metrics.StageFailed:    res.FailedToForward,
		metrics.StageArchived:  res.Archived,
	} {
		if n > 0 {
			metrics.EventsTotal.WithLabelValues(name, stage).Add(float64(n))
		}
	}

	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.String("state", string(res.State)),
		zap.String("step", string(res.Step)),
		zap.Int("fetched", res.Fetched),
		zap.Int("dropped", res.Dropped),
		zap.Int("forwarded", res.Forwarded),
		zap.Int("retried", res.Retried),
		zap.Int("failed_to_forward", res.FailedToForward),
		zap.Int("archived", res.Archived),
		zap.Int("pages", res.Pages),
		zap.Bool("truncated", res.Truncated),
		zap.Duration("duration", res.Duration),
	}
	if res.Error != nil {
		fields = append(fields, zap.Error(res.Error))
	}

	switch outcome {
	case OutcomeSuccess:
		metrics.LastSuccess.WithLabelValues(name).SetToCurrentTime()
		logger.Info("collection cycle finished", fields...)
	case OutcomeDisabled:
		logger.Info("integration disabled, nothing collected", fields...)
	case OutcomeSkipped:
		logger.Info("collection cycle skipped", fields...)
	case OutcomePartial:
		logger.Warn("collection cycle partially delivered", fields...)
	default:
		var ferr *fetcher.FetchError
		if errors.As(res.Error, &ferr) {
			metrics.FetchErrors.WithLabelValues(name, string(ferr.Kind)).Inc()
		}
		logger.Error("collection cycle failed", fields...)
	}
}
