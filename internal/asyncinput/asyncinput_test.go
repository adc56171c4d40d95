package asyncinput

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type searchConfig struct {
	Q string
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never became true")
}

func TestSetConfigIsSynchronousAndHandlerIsAsync(t *testing.T) {
	release := make(chan struct{})
	var setterCalls []Value[searchConfig, string]
	var mu sync.Mutex

	g := New(Value[searchConfig, string]{Meta: Meta[searchConfig]{TS: 0, Config: searchConfig{Q: ""}}},
		func(ctx context.Context, cfg searchConfig) (string, error) {
			<-release
			return cfg.Q + "-result", nil
		},
		func(v Value[searchConfig, string]) {
			mu.Lock()
			setterCalls = append(setterCalls, v)
			mu.Unlock()
		},
	)
	defer g.Close()

	g.SetConfig(func(cur searchConfig) (searchConfig, bool) {
		return searchConfig{Q: "abc"}, true
	})

	// Config update is visible immediately; the handler has not run yet.
	require.Equal(t, "abc", g.Config().Q)
	require.True(t, g.Pending())

	close(release)
	waitUntil(t, time.Second, func() bool { return !g.Pending() })

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, setterCalls, 1)
	require.Equal(t, "abc-result", setterCalls[0].Result)
}

func TestStaleResultNeverReachesSetter(t *testing.T) {
	var setterCalls []Value[searchConfig, string]
	var mu sync.Mutex

	slowRelease := make(chan struct{})
	fastRelease := make(chan struct{})

	g := New(Value[searchConfig, string]{Meta: Meta[searchConfig]{TS: 0, Config: searchConfig{Q: ""}}},
		func(ctx context.Context, cfg searchConfig) (string, error) {
			switch cfg.Q {
			case "a":
				<-slowRelease
			case "ab":
				<-fastRelease
			}
			return cfg.Q + "-result", nil
		},
		func(v Value[searchConfig, string]) {
			mu.Lock()
			setterCalls = append(setterCalls, v)
			mu.Unlock()
		},
	)
	defer g.Close()

	g.SetConfig(func(cur searchConfig) (searchConfig, bool) { return searchConfig{Q: "a"}, true })
	time.Sleep(10 * time.Millisecond)
	g.SetConfig(func(cur searchConfig) (searchConfig, bool) { return searchConfig{Q: "ab"}, true })

	// Fast one resolves first, is fresh relative to the external ts (0) and
	// reaches the setter, which bumps the gateway's notion of externalTS.
	close(fastRelease)
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(setterCalls) == 1
	})

	// Slow one resolves after; its ts is now <= the external ts the fast
	// result already established, so it must never reach the setter.
	close(slowRelease)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, setterCalls, 1)
	require.Equal(t, "ab-result", setterCalls[0].Result)
}

func TestSyncExternalOnlyAppliesNewerMeta(t *testing.T) {
	g := New(Value[searchConfig, string]{Meta: Meta[searchConfig]{TS: 5, Config: searchConfig{Q: "seed"}}},
		func(ctx context.Context, cfg searchConfig) (string, error) { return cfg.Q, nil },
		nil,
	)
	defer g.Close()

	g.SyncExternal(Value[searchConfig, string]{Result: "old", Meta: Meta[searchConfig]{TS: 3, Config: searchConfig{Q: "older"}}})
	require.Equal(t, "seed", g.Config().Q, "a stale external update must not overwrite a newer internal meta")

	g.SyncExternal(Value[searchConfig, string]{Result: "newer", Meta: Meta[searchConfig]{TS: 10, Config: searchConfig{Q: "fresher"}}})
	require.Equal(t, "fresher", g.Config().Q)
}
