package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mosajjal/authhec/pkg/models"
	"github.com/mosajjal/authhec/pkg/storage"
)

// archiveTimeout bounds archiving of failed events, which runs even after cancellation
const archiveTimeout = 30 * time.Second

// Sink delivers one batch to the indexing backend. A nil error acknowledges the whole
// batch; a *PartialAckError acknowledges a prefix; anything else is a full rejection.
type Sink interface {
	Send(ctx context.Context, integration string, events []models.AuthEvent) error
}

// Config tunes batching and retry
type Config struct {
	MaxBatchEvents  int
	MaxBatchBytes   int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig returns the default batching and retry settings
func DefaultConfig() Config {
	return Config{
		MaxBatchEvents:  500,
		MaxBatchBytes:   1 << 20,
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// BatchResult is the outcome of one batch
type BatchResult struct {
	Index     int
	Events    int
	Forwarded int
	Failed    int
	Attempts  int
	Err       error
}

// Result accounts for every event passed to Forward. Retried events are also counted
// in Forwarded, so Forwarded+Failed == Total.
type Result struct {
	Total     int
	Forwarded int
	Retried   int
	Failed    int
	Archived  int
	Retries   int
	Batches   []BatchResult
}

// Forwarder batches events and delivers them through a Sink
type Forwarder struct {
	sink    Sink
	config  Config
	failure storage.Backend
	cold    storage.Backend
	logger  *zap.Logger
}

// Option configures a Forwarder
type Option func(*Forwarder)

// WithFailureStorage archives events that could not be delivered
func WithFailureStorage(b storage.Backend) Option {
	return func(f *Forwarder) { f.failure = b }
}

// WithColdStorage copies every batch to b before delivery
func WithColdStorage(b storage.Backend) Option {
	return func(f *Forwarder) { f.cold = b }
}

// New creates a Forwarder. Zero values in cfg fall back to DefaultConfig.
func New(sink Sink, cfg Config, logger *zap.Logger, opts ...Option) *Forwarder {
	def := DefaultConfig()
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = def.MaxBatchEvents
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = def.MaxBatchBytes
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Forwarder{sink: sink, config: cfg, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward delivers events in order. Batches are sent one after another; a fully rejected
// batch is retried with exponential backoff up to MaxAttempts. The returned error is a
// *ForwardError whenever at least one event was not delivered.
func (f *Forwarder) Forward(ctx context.Context, integration string, events []models.AuthEvent) (Result, error) {
	result := Result{Total: len(events)}
	if len(events) == 0 {
		return result, nil
	}

	var errs []error
	for i, batch := range f.split(events) {
		br, failed := f.sendBatch(ctx, integration, i, batch)
		result.Batches = append(result.Batches, br)
		result.Forwarded += br.Forwarded
		result.Failed += br.Failed
		result.Retries += max(br.Attempts-1, 0)
		if br.Attempts > 1 {
			result.Retried += br.Forwarded
		}
		if br.Err != nil {
			errs = append(errs, fmt.Errorf("batch %d: %w", i, br.Err))
		}
		if len(failed) > 0 {
			result.Archived += f.archive(ctx, integration, failed)
		}
	}

	if result.Failed > 0 {
		return result, &ForwardError{Failed: result.Failed, Total: result.Total, Err: errors.Join(errs...)}
	}
	return result, nil
}

// sendBatch returns the batch outcome and the events that were not acknowledged
func (f *Forwarder) sendBatch(ctx context.Context, integration string, index int, batch []models.AuthEvent) (BatchResult, []models.AuthEvent) {
	br := BatchResult{Index: index, Events: len(batch)}

	if f.cold != nil {
		if err := f.cold.Store(ctx, integration, batch); err != nil {
			f.logger.Warn("failed to copy batch to cold storage",
				zap.String("integration", integration),
				zap.Int("batch", index),
				zap.Error(err),
			)
		}
	}

	if err := ctx.Err(); err != nil {
		br.Failed = len(batch)
		br.Err = err
		return br, batch
	}

	var partial *PartialAckError
	operation := func() error {
		br.Attempts++
		err := f.sink.Send(ctx, integration, batch)
		if err == nil {
			return nil
		}
		if errors.As(err, &partial) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			// an unacknowledged batch is never assumed delivered
			return backoff.Permanent(err)
		}
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = f.config.InitialInterval
	expo.MaxInterval = f.config.MaxInterval
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(f.config.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		f.logger.Warn("batch rejected, retrying",
			zap.String("integration", integration),
			zap.Int("batch", index),
			zap.Int("events", len(batch)),
			zap.Int("attempt", br.Attempts),
			zap.Int("max_attempts", f.config.MaxAttempts),
			zap.Duration("next_delay", next),
			zap.Error(err),
		)
	})

	switch {
	case err == nil:
		br.Forwarded = len(batch)
		if br.Attempts > 1 {
			f.logger.Info("batch delivered after retry",
				zap.String("integration", integration),
				zap.Int("batch", index),
				zap.Int("attempts", br.Attempts),
			)
		}
		return br, nil
	case partial != nil && errors.Is(err, partial):
		accepted := min(max(partial.Accepted, 0), len(batch))
		br.Forwarded = accepted
		br.Failed = len(batch) - accepted
		br.Err = err
		f.logger.Warn("batch partially accepted",
			zap.String("integration", integration),
			zap.Int("batch", index),
			zap.Int("accepted", accepted),
			zap.Int("rejected", br.Failed),
			zap.String("reason", partial.Reason),
		)
		return br, batch[accepted:]
	default:
		br.Failed = len(batch)
		br.Err = err
		f.logger.Error("batch delivery failed",
			zap.String("integration", integration),
			zap.Int("batch", index),
			zap.Int("events", len(batch)),
			zap.Int("attempts", br.Attempts),
			zap.Error(err),
		)
		return br, batch
	}
}

// archive hands undelivered events to the failure backend and returns how many were stored
func (f *Forwarder) archive(ctx context.Context, integration string, events []models.AuthEvent) int {
	if f.failure == nil {
		return 0
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	if err := f.failure.Store(actx, integration, events); err != nil {
		f.logger.Error("failed to archive undelivered events",
			zap.String("integration", integration),
			zap.Int("events", len(events)),
			zap.Error(err),
		)
		return 0
	}
	return len(events)
}

// split groups events into batches bounded by MaxBatchEvents and MaxBatchBytes, keeping
// order. An event larger than MaxBatchBytes travels alone.
func (f *Forwarder) split(events []models.AuthEvent) [][]models.AuthEvent {
	var batches [][]models.AuthEvent
	start, size := 0, 0
	for i, event := range events {
		n := encodedSize(event)
		count := i - start
		if count > 0 && (count >= f.config.MaxBatchEvents || size+n > f.config.MaxBatchBytes) {
			batches = append(batches, events[start:i])
			start, size = i, 0
		}
		size += n
	}
	return append(batches, events[start:])
}

func encodedSize(event models.AuthEvent) int {
	data, err := json.Marshal(event)
	if err != nil {
		return 0
	}
	// newline or comma separator
	return len(data) + 1
}
