package forwarder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mosajjal/authhec/pkg/models"
)

type call struct {
	integration string
	events      []models.AuthEvent
}

// scriptedSink returns the scripted errors in order, then nil
type scriptedSink struct {
	mu     sync.Mutex
	script []error
	calls  []call
	onSend func(n int)
}

func (s *scriptedSink) Send(ctx context.Context, integration string, events []models.AuthEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{integration: integration, events: events})
	if s.onSend != nil {
		s.onSend(len(s.calls))
	}
	if len(s.script) == 0 {
		return nil
	}
	err := s.script[0]
	s.script = s.script[1:]
	return err
}

type memoryBackend struct {
	mu     sync.Mutex
	stored map[string][]models.AuthEvent
	err    error
}

func (m *memoryBackend) Store(ctx context.Context, integration string, events []models.AuthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.stored == nil {
		m.stored = make(map[string][]models.AuthEvent)
	}
	m.stored[integration] = append(m.stored[integration], events...)
	return nil
}

func (m *memoryBackend) Close() error { return nil }

func makeEvents(n int) []models.AuthEvent {
	events := make([]models.AuthEvent, n)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := range events {
		events[i] = models.AuthEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			EventType: models.EventLoginSuccess,
			UserID:    fmt.Sprintf("user-%d", i),
		}
	}
	return events
}

func fastConfig() Config {
	return Config{
		MaxBatchEvents:  500,
		MaxBatchBytes:   1 << 20,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestForward_Success(t *testing.T) {
	sink := &scriptedSink{}
	f := New(sink, fastConfig(), zaptest.NewLogger(t))

	res, err := f.Forward(context.Background(), "okta", makeEvents(5))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 5, res.Forwarded)
	assert.Zero(t, res.Retried)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Retries)
	require.Len(t, sink.calls, 1)
	assert.Equal(t, "okta", sink.calls[0].integration)
}

func TestForward_Empty(t *testing.T) {
	sink := &scriptedSink{}
	f := New(sink, fastConfig(), zaptest.NewLogger(t))

	res, err := f.Forward(context.Background(), "okta", nil)
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Empty(t, sink.calls)
}

func TestForward_RetryThenAccept(t *testing.T) {
	sink := &scriptedSink{script: []error{errors.New("503 service unavailable")}}
	f := New(sink, fastConfig(), zaptest.NewLogger(t))

	res, err := f.Forward(context.Background(), "okta", makeEvents(4))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Forwarded)
	assert.Equal(t, 4, res.Retried)
	assert.Equal(t, 1, res.Retries)
	assert.Zero(t, res.Failed)
	require.Len(t, res.Batches, 1)
	assert.Equal(t, 2, res.Batches[0].Attempts)
	assert.Len(t, sink.calls, 2)
}

func TestForward_RetriesExhausted(t *testing.T) {
	boom := errors.New("connection refused")
	sink := &scriptedSink{script: []error{boom, boom, boom, boom}}
	failures := &memoryBackend{}
	f := New(sink, fastConfig(), zaptest.NewLogger(t), WithFailureStorage(failures))

	res, err := f.Forward(context.Background(), "okta", makeEvents(3))
	require.Error(t, err)

	var fe *ForwardError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Failed)
	assert.Equal(t, 3, fe.Total)
	assert.False(t, fe.Partial())
	assert.ErrorIs(t, err, boom)

	assert.Zero(t, res.Forwarded)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 3, res.Archived)
	assert.Equal(t, 2, res.Retries)
	assert.Len(t, sink.calls, 3)
	assert.Len(t, failures.stored["okta"], 3)
}

func TestForward_PartialAckNotRetried(t *testing.T) {
	sink := &scriptedSink{script: []error{&PartialAckError{Accepted: 2, Rejected: 3, Reason: "Invalid data format"}}}
	failures := &memoryBackend{}
	f := New(sink, fastConfig(), zaptest.NewLogger(t), WithFailureStorage(failures))

	events := makeEvents(5)
	res, err := f.Forward(context.Background(), "okta", events)
	require.Error(t, err)

	var fe *ForwardError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Partial())

	var pe *PartialAckError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Accepted)

	assert.Equal(t, 2, res.Forwarded)
	assert.Equal(t, 3, res.Failed)
	assert.Zero(t, res.Retries)
	assert.Len(t, sink.calls, 1)
	require.Len(t, failures.stored["okta"], 3)
	assert.Equal(t, events[2].UserID, failures.stored["okta"][0].UserID)
}

func TestForward_ArchiveFailureIsNotCounted(t *testing.T) {
	sink := &scriptedSink{script: []error{errors.New("x"), errors.New("x"), errors.New("x")}}
	failures := &memoryBackend{err: errors.New("bucket missing")}
	f := New(sink, fastConfig(), zaptest.NewLogger(t), WithFailureStorage(failures))

	res, err := f.Forward(context.Background(), "okta", makeEvents(2))
	require.Error(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, res.Archived)
}

func TestForward_BatchesByCount(t *testing.T) {
	sink := &scriptedSink{}
	cfg := fastConfig()
	cfg.MaxBatchEvents = 3
	f := New(sink, cfg, zaptest.NewLogger(t))

	events := makeEvents(7)
	res, err := f.Forward(context.Background(), "okta", events)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Forwarded)
	require.Len(t, sink.calls, 3)
	assert.Len(t, sink.calls[0].events, 3)
	assert.Len(t, sink.calls[1].events, 3)
	assert.Len(t, sink.calls[2].events, 1)

	var order []string
	for _, c := range sink.calls {
		for _, e := range c.events {
			order = append(order, e.UserID)
		}
	}
	for i, e := range events {
		assert.Equal(t, e.UserID, order[i])
	}
}

func TestForward_BatchesByBytes(t *testing.T) {
	sink := &scriptedSink{}
	cfg := fastConfig()
	cfg.MaxBatchBytes = encodedSize(makeEvents(1)[0])*2 + 1
	f := New(sink, cfg, zaptest.NewLogger(t))

	_, err := f.Forward(context.Background(), "okta", makeEvents(5))
	require.NoError(t, err)
	require.Len(t, sink.calls, 3)
	assert.Len(t, sink.calls[0].events, 2)
	assert.Len(t, sink.calls[2].events, 1)
}

func TestForward_OversizedEventTravelsAlone(t *testing.T) {
	sink := &scriptedSink{}
	cfg := fastConfig()
	cfg.MaxBatchBytes = 10
	f := New(sink, cfg, zaptest.NewLogger(t))

	events := makeEvents(2)
	events[0].UserAgent = strings.Repeat("a", 100)
	_, err := f.Forward(context.Background(), "okta", events)
	require.NoError(t, err)
	assert.Len(t, sink.calls, 2)
}

func TestForward_FailedBatchDoesNotStopLaterBatches(t *testing.T) {
	boom := errors.New("rejected")
	sink := &scriptedSink{script: []error{boom, boom, boom}}
	cfg := fastConfig()
	cfg.MaxBatchEvents = 2
	f := New(sink, cfg, zaptest.NewLogger(t))

	res, err := f.Forward(context.Background(), "okta", makeEvents(4))
	require.Error(t, err)
	assert.Equal(t, 2, res.Forwarded)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, sink.calls, 4)
}

func TestForward_CancelledBeforeStart(t *testing.T) {
	sink := &scriptedSink{}
	failures := &memoryBackend{}
	f := New(sink, fastConfig(), zaptest.NewLogger(t), WithFailureStorage(failures))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.Forward(ctx, "okta", makeEvents(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Forwarded)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 3, res.Archived)
	assert.Empty(t, sink.calls)
}

func TestForward_CancelledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &scriptedSink{onSend: func(int) { cancel() }}
	cfg := fastConfig()
	cfg.MaxBatchEvents = 2
	f := New(sink, cfg, zaptest.NewLogger(t))

	res, err := f.Forward(ctx, "okta", makeEvents(4))
	require.Error(t, err)
	assert.Equal(t, 2, res.Forwarded)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, sink.calls, 1)
}

func TestForward_CancelledDuringSendIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &scriptedSink{
		script: []error{context.Canceled},
		onSend: func(int) { cancel() },
	}
	f := New(sink, fastConfig(), zaptest.NewLogger(t))

	res, err := f.Forward(ctx, "okta", makeEvents(2))
	require.Error(t, err)
	assert.Zero(t, res.Forwarded)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, sink.calls, 1)
}

func TestForward_ColdStorageGetsEveryBatch(t *testing.T) {
	sink := &scriptedSink{}
	cold := &memoryBackend{}
	cfg := fastConfig()
	cfg.MaxBatchEvents = 2
	f := New(sink, cfg, zaptest.NewLogger(t), WithColdStorage(cold))

	_, err := f.Forward(context.Background(), "okta", makeEvents(5))
	require.NoError(t, err)
	assert.Len(t, cold.stored["okta"], 5)
}

func TestNew_Defaults(t *testing.T) {
	f := New(&scriptedSink{}, Config{}, nil)
	assert.Equal(t, DefaultConfig(), f.config)
}
