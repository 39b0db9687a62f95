package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mosajjal/authhec/pkg/config"
)

const tokenARN = "arn:aws:secretsmanager:us-east-1:123456789012:secret:hec-token-AbCdEf"

type fakeSecrets struct {
	values map[string]string
	calls  int
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	v, ok := f.values[aws.ToString(params.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestResolve_Literal(t *testing.T) {
	fake := &fakeSecrets{}
	r := newResolver(fake, zaptest.NewLogger(t))

	got, err := r.Resolve(context.Background(), "plain-token")
	require.NoError(t, err)
	assert.Equal(t, "plain-token", got)
	assert.Zero(t, fake.calls)
}

func TestResolve_ARNIsCached(t *testing.T) {
	fake := &fakeSecrets{values: map[string]string{tokenARN: "s3cr3t"}}
	r := newResolver(fake, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		got, err := r.Resolve(context.Background(), tokenARN)
		require.NoError(t, err)
		assert.Equal(t, "s3cr3t", got)
	}
	assert.Equal(t, 1, fake.calls)
}

func TestResolve_JSONKey(t *testing.T) {
	fake := &fakeSecrets{values: map[string]string{tokenARN: `{"okta":"okta-key","auth0":"auth0-key"}`}}
	r := newResolver(fake, zaptest.NewLogger(t))

	got, err := r.Resolve(context.Background(), tokenARN+"#auth0")
	require.NoError(t, err)
	assert.Equal(t, "auth0-key", got)

	_, err = r.Resolve(context.Background(), tokenARN+"#missing")
	assert.Error(t, err)
}

func TestResolve_NotFound(t *testing.T) {
	r := newResolver(&fakeSecrets{}, zaptest.NewLogger(t))
	_, err := r.Resolve(context.Background(), tokenARN)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ResourceNotFoundException")
}

func TestResolveConfigs(t *testing.T) {
	fake := &fakeSecrets{values: map[string]string{tokenARN: "from-aws"}}
	r := newResolver(fake, zaptest.NewLogger(t))

	raws := []config.RawConfig{
		{Name: "literal", Credential: "abc123"},
		{Name: "arn", Credential: tokenARN},
		{Name: "alias", APIKey: tokenARN},
	}
	require.NoError(t, r.ResolveConfigs(context.Background(), raws))
	assert.Equal(t, "abc123", raws[0].Credential)
	assert.Equal(t, "from-aws", raws[1].Credential)
	assert.Equal(t, "from-aws", raws[2].Credential)
	assert.Empty(t, raws[2].APIKey)

	bad := []config.RawConfig{{Name: "broken", Credential: tokenARN + "-missing"}}
	err := r.ResolveConfigs(context.Background(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"broken"`)
}
