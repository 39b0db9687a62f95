package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"go.uber.org/zap"

	"github.com/mosajjal/authhec/pkg/collector"
	"github.com/mosajjal/authhec/pkg/config"
	"github.com/mosajjal/authhec/pkg/forwarder"
	"github.com/mosajjal/authhec/pkg/hec"
	"github.com/mosajjal/authhec/pkg/lock"
	"github.com/mosajjal/authhec/pkg/secrets"
	"github.com/mosajjal/authhec/pkg/storage"
	s3storage "github.com/mosajjal/authhec/pkg/storage/s3"
)

// Runtime holds everything a collection cycle needs
type Runtime struct {
	Collector    *collector.Collector
	Integrations []config.RawConfig
	HEC          *hec.Client

	closers []func() error
}

// Close releases the HEC health probes, archives and lock backend
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// AWSConfig loads the default AWS configuration, with static credentials when both keys are set
func AWSConfig(ctx context.Context, region, keyID, secret string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if keyID != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return cfg, nil
}

// LoadIntegrations reads the integrations file and resolves Secrets Manager credentials.
// AWS is only contacted when a credential is a secret reference.
func LoadIntegrations(ctx context.Context, opts Options, logger *zap.Logger) ([]config.RawConfig, error) {
	raws, err := config.LoadFile(opts.Integrations)
	if err != nil {
		return nil, err
	}

	needsAWS := false
	for _, raw := range raws {
		if secrets.IsReference(raw.Credential) || secrets.IsReference(raw.APIKey) {
			needsAWS = true
			break
		}
	}
	if !needsAWS {
		return raws, nil
	}

	awsCfg, err := AWSConfig(ctx, opts.Region, opts.S3AccessKeyID, opts.S3AccessKeySecret)
	if err != nil {
		return nil, err
	}
	if err := secrets.NewResolver(awsCfg, logger).ResolveConfigs(ctx, raws); err != nil {
		return nil, err
	}
	return raws, nil
}

// Select returns the integration called name, or all of them when name is empty
func Select(raws []config.RawConfig, name string) ([]config.RawConfig, error) {
	if name == "" {
		return raws, nil
	}
	for _, raw := range raws {
		if strings.EqualFold(strings.TrimSpace(raw.Name), strings.TrimSpace(name)) {
			return []config.RawConfig{raw}, nil
		}
	}
	return nil, fmt.Errorf("no integration named %q", name)
}

// NewLocker returns a Redis locker when a URL is configured, otherwise an in-process one
func NewLocker(opts Options, logger *zap.Logger) (lock.Locker, error) {
	if opts.RedisURL == "" {
		return lock.NewLocal(), nil
	}
	l, err := lock.NewRedis(opts.RedisURL, opts.LockTTL, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("using redis run locks", zap.Duration("ttl", opts.LockTTL))
	return l, nil
}

// NewCollector builds a collector for commands that never forward, such as connection tests
func NewCollector(opts Options, fwd collector.Forwarder, locker lock.Locker, logger *zap.Logger) *collector.Collector {
	client := &http.Client{Timeout: opts.FetchTimeout}
	return collector.New(client, fwd, logger, collector.WithLocker(locker))
}

// Build wires the full pipeline. Health probes for HEC start immediately and stop on Close.
func Build(ctx context.Context, opts Options, logger *zap.Logger) (*Runtime, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("at least one HEC endpoint is required (HEC_ENDPOINTS)")
	}

	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	raws, err := LoadIntegrations(ctx, opts, logger)
	if err != nil {
		return fail(err)
	}
	rt.Integrations = raws

	awsCfg, err := AWSConfig(ctx, opts.Region, opts.S3AccessKeyID, opts.S3AccessKeySecret)
	if err != nil {
		return fail(err)
	}

	token := opts.Token
	if secrets.IsReference(token) {
		token, err = secrets.NewResolver(awsCfg, logger).Resolve(ctx, token)
		if err != nil {
			return fail(fmt.Errorf("failed to resolve HEC token: %w", err))
		}
	}

	hecClient, err := hec.NewClient(hec.Config{
		Endpoints:       opts.Endpoints,
		TLSSkipVerify:   opts.TLSSkipVerify,
		Proxy:           opts.Proxy,
		Token:           token,
		ChannelID:       opts.ChannelID,
		Index:           opts.Index,
		Source:          opts.Source,
		SourceType:      opts.Sourcetype,
		Host:            opts.Host,
		Timeout:         opts.BatchTimeout,
		BalanceStrategy: opts.Balance,
	}, logger.Named("hec"))
	if err != nil {
		return fail(err)
	}
	hecClient.Start(ctx)
	rt.HEC = hecClient
	rt.closers = append(rt.closers, hecClient.Close)

	var fwdOpts []forwarder.Option
	if opts.S3URL != "" {
		failures, err := s3storage.NewStorage(storage.StorageConfig{
			Provider:        "s3",
			URL:             opts.S3URL,
			Region:          opts.Region,
			CompressionType: opts.S3Compression,
		}, awsCfg, logger.Named("failure-storage"))
		if err != nil {
			return fail(fmt.Errorf("failed to setup failure storage: %w", err))
		}
		rt.closers = append(rt.closers, failures.Close)
		fwdOpts = append(fwdOpts, forwarder.WithFailureStorage(failures))
	}
	if opts.S3ColdStorageURL != "" {
		coldCfg := awsCfg
		if opts.S3ColdStorageAccessKeyID != "" {
			coldCfg, err = AWSConfig(ctx, opts.Region, opts.S3ColdStorageAccessKeyID, opts.S3ColdStorageAccessKeySecret)
			if err != nil {
				return fail(err)
			}
		}
		cold, err := s3storage.NewStorage(storage.StorageConfig{
			Provider:        "s3",
			URL:             opts.S3ColdStorageURL,
			Region:          opts.Region,
			CompressionType: opts.S3Compression,
		}, coldCfg, logger.Named("cold-storage"))
		if err != nil {
			return fail(fmt.Errorf("failed to setup cold storage: %w", err))
		}
		rt.closers = append(rt.closers, cold.Close)
		fwdOpts = append(fwdOpts, forwarder.WithColdStorage(cold))
	}

	fwd := forwarder.New(hecClient, forwarder.Config{
		MaxBatchEvents: opts.BatchSize,
		MaxBatchBytes:  opts.BatchBytes,
		MaxAttempts:    opts.MaxAttempts,
	}, logger.Named("forwarder"), fwdOpts...)

	locker, err := NewLocker(opts, logger)
	if err != nil {
		return fail(err)
	}
	rt.closers = append(rt.closers, locker.Close)

	rt.Collector = NewCollector(opts, fwd, locker, logger.Named("collector"))
	return rt, nil
}
