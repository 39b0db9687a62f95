package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mosajjal/authhec/pkg/collector"
	"github.com/mosajjal/authhec/pkg/config"
	"github.com/mosajjal/authhec/pkg/lock"
)

const integrationsYAML = `
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
    enabled: false
  - name: broken
    endpoint: https://broken.example.com
    credential: token-3
    auth_scheme: apikey
    polling_interval: 10
    enabled: true
`

func writeIntegrations(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "integrations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(integrationsYAML), 0o600))
	return path
}

func TestLoadIntegrations(t *testing.T) {
	raws, err := LoadIntegrations(context.Background(), Options{Integrations: writeIntegrations(t)}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, raws, 3)
	assert.Equal(t, "token-1", raws[0].Credential)
}

func TestSelect(t *testing.T) {
	raws := []config.RawConfig{{Name: "okta"}, {Name: "Auth0"}}

	all, err := Select(raws, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := Select(raws, "auth0")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "Auth0", one[0].Name)

	_, err = Select(raws, "ping")
	assert.Error(t, err)
}

func TestNewLocker(t *testing.T) {
	l, err := NewLocker(Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &lock.Local{}, l)

	mr := miniredis.RunT(t)
	l, err = NewLocker(Options{RedisURL: "redis://" + mr.Addr(), LockTTL: time.Minute}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &lock.Redis{}, l)
	require.NoError(t, l.Close())
}

func TestBuild_RequiresEndpoints(t *testing.T) {
	_, err := Build(context.Background(), Options{Integrations: writeIntegrations(t)}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

type countingRunner struct {
	mu    sync.Mutex
	names []string
}

func (r *countingRunner) RunCollectionCycle(ctx context.Context, raw config.RawConfig) collector.CollectionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, raw.Name)
	return collector.CollectionResult{Integration: raw.Name, State: collector.StateDone}
}

func TestSchedule(t *testing.T) {
	raws, err := LoadIntegrations(context.Background(), Options{Integrations: writeIntegrations(t)}, zaptest.NewLogger(t))
	require.NoError(t, err)

	c := NewScheduler(zaptest.NewLogger(t))
	runner := &countingRunner{}
	n, err := Schedule(context.Background(), c, runner, raws, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries := c.Entries()
	require.Len(t, entries, 1)

	// run the job directly rather than waiting five minutes
	entries[0].WrappedJob.Run()
	assert.Equal(t, []string{"okta"}, runner.names)
}
