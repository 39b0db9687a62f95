package hec

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mosajjal/Go-Splunk-HTTP/splunk/v2"
	"go.uber.org/zap"

	"github.com/mosajjal/authhec/pkg/forwarder"
	"github.com/mosajjal/authhec/pkg/models"
)

const (
	DefaultSourceType     = "authhec:event"
	DefaultTimeout        = 30 * time.Second
	DefaultHealthInterval = 10 * time.Second
)

// ErrNoHealthyConnection is returned when every endpoint failed its last health check
var ErrNoHealthyConnection = errors.New("no healthy HEC connection available")

// Config holds HEC client configuration
type Config struct {
	Endpoints       []string
	TLSSkipVerify   bool
	Proxy           string
	Token           string
	ChannelID       string
	Index           string
	Source          string // defaults to the integration name
	SourceType      string
	Host            string
	Timeout         time.Duration
	BalanceStrategy string // first_available, sticky, random, roundrobin
	HealthInterval  time.Duration
}

// Client delivers auth event batches to one or more HEC endpoints
type Client struct {
	config          Config
	connections     []*connection
	balanceStrategy uint8
	next            atomic.Uint64
	sticky          atomic.Int64
	logger          *zap.Logger
	stop            context.CancelFunc
	wg              sync.WaitGroup
}

const (
	FirstAvailable = 1
	Sticky         = 2
	Random         = 3
	RoundRobin     = 4
)

type connection struct {
	endpoint  string
	channelID string
	transport http.RoundTripper
	health    *splunk.Client
	healthy   atomic.Bool
}

// NewClient creates a new HEC client. Endpoints start healthy until the first probe says otherwise.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SourceType == "" {
		cfg.SourceType = DefaultSourceType
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.Host == "" {
		cfg.Host, _ = os.Hostname()
	}

	client := &Client{
		config: cfg,
		logger: logger,
	}

	switch cfg.BalanceStrategy {
	case "first_available", "":
		client.balanceStrategy = FirstAvailable
	case "sticky":
		client.balanceStrategy = Sticky
	case "random":
		client.balanceStrategy = Random
	case "roundrobin":
		client.balanceStrategy = RoundRobin
	default:
		logger.Warn("unknown load balance strategy, using first_available", zap.String("strategy", cfg.BalanceStrategy))
		client.balanceStrategy = FirstAvailable
	}

	for _, endpoint := range cfg.Endpoints {
		conn, err := newConnection(endpoint, cfg)
		if err != nil {
			logger.Warn("failed to create HEC connection", zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}
		client.connections = append(client.connections, conn)
	}

	if len(client.connections) == 0 {
		return nil, fmt.Errorf("no valid HEC endpoints configured")
	}

	return client, nil
}

func newConnection(endpoint string, cfg Config) (*connection, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid HEC endpoint %q", endpoint)
	}

	rt := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		rt.Proxy = http.ProxyURL(proxyURL)
	}

	endpoint = strings.TrimSuffix(endpoint, "/")
	if !strings.HasSuffix(endpoint, "/services/collector") {
		endpoint = fmt.Sprintf("%s/services/collector", endpoint)
	}

	channelID := cfg.ChannelID
	if _, err := uuid.Parse(channelID); err != nil {
		channelID = uuid.New().String()
	}

	conn := &connection{
		endpoint:  endpoint,
		channelID: channelID,
		transport: rt,
	}
	conn.health = splunk.NewClient(
		&http.Client{Timeout: cfg.Timeout, Transport: rt},
		endpoint,
		cfg.Token,
		channelID,
		cfg.Source,
		cfg.SourceType,
		cfg.Index,
	)
	conn.healthy.Store(true)
	return conn, nil
}

// contextTransport binds every request of a splunk client to one context
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(r.WithContext(t.ctx))
}

func (c *connection) clientFor(ctx context.Context, cfg Config, source string) *splunk.Client {
	return splunk.NewClient(
		&http.Client{Timeout: cfg.Timeout, Transport: contextTransport{ctx: ctx, base: c.transport}},
		c.endpoint,
		cfg.Token,
		c.channelID,
		source,
		cfg.SourceType,
		cfg.Index,
	)
}

func (c *connection) updateHealth(logger *zap.Logger) {
	err := c.health.CheckHealth()
	healthy := err == nil
	if was := c.healthy.Swap(healthy); was != healthy {
		if healthy {
			logger.Info("HEC endpoint recovered", zap.String("endpoint", c.endpoint))
		} else {
			logger.Warn("HEC endpoint unhealthy", zap.String("endpoint", c.endpoint), zap.Error(err))
		}
	}
}

// Start probes every endpoint now and then every HealthInterval until ctx is done or Close is called
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	for _, conn := range c.connections {
		c.wg.Add(1)
		go func(conn *connection) {
			defer c.wg.Done()
			conn.updateHealth(c.logger)

			ticker := time.NewTicker(c.config.HealthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					conn.updateHealth(c.logger)
				}
			}
		}(conn)
	}
}

// Healthy reports whether at least one endpoint is usable
func (c *Client) Healthy() bool {
	for _, conn := range c.connections {
		if conn.healthy.Load() {
			return true
		}
	}
	return false
}

// Send delivers one batch. A HEC rejection naming an invalid event number is reported as
// a *forwarder.PartialAckError so that the accepted prefix is not resent.
func (c *Client) Send(ctx context.Context, integration string, events []models.AuthEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conn := c.getConnection()
	if conn == nil {
		return ErrNoHealthyConnection
	}

	source := c.config.Source
	if source == "" {
		source = integration
	}

	splunkEvents := make([]*splunk.Event, len(events))
	for i, event := range events {
		splunkEvents[i] = &splunk.Event{
			Time:       splunk.EventTime{Time: event.Timestamp},
			Host:       c.config.Host,
			Source:     source,
			SourceType: c.config.SourceType,
			Index:      c.config.Index,
			Event:      event,
		}
	}

	if err := conn.clientFor(ctx, c.config, source).LogEvents(splunkEvents); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("hec %s: %w", conn.endpoint, ctxErr)
		}
		if partial := parsePartialAck(err, len(events)); partial != nil {
			return partial
		}
		return fmt.Errorf("hec %s: %w", conn.endpoint, err)
	}
	return nil
}

// parsePartialAck maps a HEC rejection that names an invalid event to a partial
// acknowledgement. HEC indexes the events before invalid-event-number and drops the rest.
func parsePartialAck(err error, total int) *forwarder.PartialAckError {
	var resp *splunk.EventCollectorResponse
	if !errors.As(err, &resp) || resp.InvalidEventNumber == nil {
		return nil
	}
	accepted := *resp.InvalidEventNumber
	if accepted < 0 || accepted >= total {
		return nil
	}
	return &forwarder.PartialAckError{
		Accepted: accepted,
		Rejected: total - accepted,
		Reason:   resp.Text,
	}
}

func (c *Client) getConnection() *connection {
	switch c.balanceStrategy {
	case Sticky:
		return c.getSticky()
	case Random:
		return c.getRandom()
	case RoundRobin:
		return c.getRoundRobin()
	default:
		return c.getFirstAvailable()
	}
}

func (c *Client) getFirstAvailable() *connection {
	for _, conn := range c.connections {
		if conn.healthy.Load() {
			return conn
		}
	}
	return nil
}

// getSticky keeps the current endpoint until it turns unhealthy, then moves to the next healthy one
func (c *Client) getSticky() *connection {
	n := int64(len(c.connections))
	current := c.sticky.Load()
	for i := int64(0); i < n; i++ {
		idx := (current + i) % n
		if c.connections[idx].healthy.Load() {
			c.sticky.Store(idx)
			return c.connections[idx]
		}
	}
	return nil
}

func (c *Client) getRandom() *connection {
	healthy := make([]*connection, 0, len(c.connections))
	for _, conn := range c.connections {
		if conn.healthy.Load() {
			healthy = append(healthy, conn)
		}
	}
	if len(healthy) == 0 {
		return nil
	}
	return healthy[rand.IntN(len(healthy))]
}

func (c *Client) getRoundRobin() *connection {
	n := uint64(len(c.connections))
	start := c.next.Add(1) - 1
	for i := uint64(0); i < n; i++ {
		conn := c.connections[(start+i)%n]
		if conn.healthy.Load() {
			return conn
		}
	}
	return nil
}

// Close stops the health probes
func (c *Client) Close() error {
	if c.stop != nil {
		c.stop()
	}
	c.wg.Wait()
	return nil
}
