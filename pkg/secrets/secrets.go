// Package secrets resolves AWS Secrets Manager references used in place of literal tokens.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"

	"github.com/mosajjal/authhec/pkg/config"
)

// ARNPrefix marks a value that must be fetched from Secrets Manager
const ARNPrefix = "arn:aws:secretsmanager:"

type getSecretValueAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver fetches and caches secret values
type Resolver struct {
	client getSecretValueAPI
	cache  map[string]string
	logger *zap.Logger
}

// NewResolver creates a Resolver backed by Secrets Manager
func NewResolver(awsCfg aws.Config, logger *zap.Logger) *Resolver {
	return newResolver(secretsmanager.NewFromConfig(awsCfg), logger)
}

func newResolver(client getSecretValueAPI, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{client: client, cache: make(map[string]string), logger: logger}
}

// IsReference reports whether value names a Secrets Manager secret
func IsReference(value string) bool {
	return strings.HasPrefix(value, ARNPrefix)
}

// Resolve returns value unchanged unless it is a Secrets Manager ARN. An ARN may carry a
// JSON key suffix, "arn:...:secret:name#key", to pick one field of a JSON secret.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	if cached, ok := r.cache[value]; ok {
		return cached, nil
	}

	arn, key, _ := strings.Cut(value, "#")
	r.logger.Info("fetching secret from AWS Secrets Manager", zap.String("secret_id", arn))

	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", arn, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", arn)
	}

	secret := *out.SecretString
	if key != "" {
		var fields map[string]string
		if err := json.Unmarshal([]byte(secret), &fields); err != nil {
			return "", fmt.Errorf("secret %s is not a JSON object: %w", arn, err)
		}
		v, ok := fields[key]
		if !ok {
			return "", fmt.Errorf("secret %s has no key %q", arn, key)
		}
		secret = v
	}

	r.cache[value] = secret
	return secret, nil
}

// ResolveConfigs replaces credential references in every raw config
func (r *Resolver) ResolveConfigs(ctx context.Context, raws []config.RawConfig) error {
	for i := range raws {
		cred := raws[i].Credential
		if cred == "" {
			cred = raws[i].APIKey
		}
		if !IsReference(cred) {
			continue
		}
		secret, err := r.Resolve(ctx, cred)
		if err != nil {
			return fmt.Errorf("integration %q: %w", raws[i].Name, err)
		}
		raws[i].Credential = secret
		raws[i].APIKey = ""
	}
	return nil
}
