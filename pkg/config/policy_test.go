package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/observability"
)

func TestParsePolicy(t *testing.T) {
	base := DefaultPolicy()

	p, err := ParsePolicy([]byte("retention: archive\nlease_ttl: 45s\nretry:\n  max_attempts: 5\n"), base)
	require.NoError(t, err)
	assert.Equal(t, "archive", p.Retention)
	assert.Equal(t, 45*time.Second, p.LeaseTTL)
	assert.Equal(t, 5, p.Retry.MaxAttempts)
	assert.Equal(t, base.SessionTTL, p.SessionTTL, "absent keys keep the base value")
	assert.Equal(t, base.Retry.InitialDelay, p.Retry.InitialDelay)

	lp := p.Linking()
	assert.Equal(t, identity.RetainArchive, lp.Retention)
	assert.Equal(t, 45*time.Second, lp.LeaseTTL)
	assert.Equal(t, 5, p.RetryPolicy().MaxAttempts())
}

func TestParsePolicy_Rejects(t *testing.T) {
	base := DefaultPolicy()
	tests := map[string]string{
		"unknown key":     "retension: archive\n",
		"bad retention":   "retention: shred\n",
		"bad duration":    "lease_ttl: soon\n",
		"too many tries":  "retry:\n  max_attempts: 50\n",
		"not yaml":        "{{{",
		"inverted delays": "retry:\n  initial_delay: 5s\n  max_delay: 1s\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := ParsePolicy([]byte(doc), base)
			assert.Error(t, err)
			assert.Equal(t, base, p, "base is returned on error")
		})
	}
}

func TestParsePolicy_EmptyKeepsBase(t *testing.T) {
	base := DefaultPolicy()
	p, err := ParsePolicy([]byte("  \n"), base)
	require.NoError(t, err)
	assert.Equal(t, base, p)
}

func TestLoadPolicyFile_Missing(t *testing.T) {
	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "nope.yaml"), DefaultPolicy())
	assert.Error(t, err)
}

func TestPolicyWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retention: delete\n"), 0o600))

	var mu sync.Mutex
	var applied []Policy
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	w := NewPolicyWatcher(path, DefaultPolicy(), logger, func(p Policy) {
		mu.Lock()
		defer mu.Unlock()
		applied = append(applied, p)
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	defer func() {
		cancel()
		<-w.Done()
	}()

	// An invalid write is ignored
	require.NoError(t, os.WriteFile(path, []byte("retention: shred\n"), 0o600))
	time.Sleep(3 * reloadDelay)

	require.NoError(t, os.WriteFile(path, []byte("retention: archive\nlease_ttl: 1m\n"), 0o600))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "archive", w.Current().Retention)
	assert.Equal(t, time.Minute, w.Current().LeaseTTL)
}

func TestPolicyWatcher_MissingDirectory(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	w := NewPolicyWatcher(filepath.Join(t.TempDir(), "missing", "policy.yaml"), DefaultPolicy(), logger, func(Policy) {})
	assert.Error(t, w.Start(context.Background()))
}
