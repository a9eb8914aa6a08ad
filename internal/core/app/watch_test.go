package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"packt/internal/core/ports"
	"packt/internal/data/queue"
	"packt/internal/shared/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextBuild(t *testing.T, builds <-chan ports.BuildResult, timeout time.Duration) ports.BuildResult {
	t.Helper()
	select {
	case res := <-builds:
		return res
	case <-time.After(timeout):
		t.Fatalf("no build within %s", timeout)
		return ports.BuildResult{}
	}
}

func assertNoBuild(t *testing.T, builds <-chan ports.BuildResult, quiet time.Duration) {
	t.Helper()
	select {
	case res := <-builds:
		t.Fatalf("unexpected build, changed paths %v", res.ChangedPaths)
	case <-time.After(quiet):
	}
}

// drainBuilds consumes builds until none arrives for quiet.
func drainBuilds(builds <-chan ports.BuildResult, quiet time.Duration) {
	for {
		select {
		case <-builds:
		case <-time.After(quiet):
			return
		}
	}
}

// startLoop runs fn in the background and stops it when the test ends.
func startLoop(t *testing.T, fn func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("loop did not stop after cancel")
		}
	})
}

func TestWatch_RebuildsChangedFileAndIgnoresOutputs(t *testing.T) {
	root, cfg := homeAboutShared(t)
	cfg.Watch.Debounce = 50 * time.Millisecond
	cfg.Watch.MaxRebuildsPerSecond = 100
	a := newApp(t, cfg)

	builds := make(chan ports.BuildResult, 32)
	startLoop(t, func(ctx context.Context) error {
		return a.Watch(ctx, func(res ports.BuildResult, err error) {
			assert.NoError(t, err)
			select {
			case builds <- res:
			default:
			}
		})
	})

	first := nextBuild(t, builds, 5*time.Second)
	assert.False(t, first.Incremental)
	assert.Empty(t, first.ChangedPaths)

	// The watcher is registered after the first build returns, so keep
	// touching the file until a rebuild shows up.
	home := filepath.Join(root, "home.js")
	var rebuilt ports.BuildResult
	deadline := time.Now().Add(10 * time.Second)
	for got := false; !got; {
		require.True(t, time.Now().Before(deadline), "no rebuild after editing home.js")
		writeFiles(t, root, map[string]string{"home.js": "import { greet } from \"./shared\";\ngreet(\"edited\");\n"})
		select {
		case rebuilt = <-builds:
			got = true
		case <-time.After(300 * time.Millisecond):
		}
	}
	assert.True(t, rebuilt.Incremental)
	assert.Contains(t, rebuilt.ChangedPaths, home)

	// Bundles written by the rebuilds above must not trigger more rebuilds.
	drainBuilds(builds, time.Second)

	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "default", "extra.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".packt", "state", "extra.json"), []byte("{}"), 0o644))
	assertNoBuild(t, builds, time.Second)
}

func TestRebuildLoop_MergesPathsQueuedWhileThrottled(t *testing.T) {
	root, cfg := homeAboutShared(t)
	a := newApp(t, cfg)
	_, err := a.Build(context.Background(), ports.BuildRequest{})
	require.NoError(t, err)

	changes := queue.NewMemoryQueue(8)
	limiter := util.NewLimiter(2, 1)
	// Spend the burst so the next rebuild waits about half a second.
	require.True(t, limiter.Allow(1))

	builds := make(chan ports.BuildResult, 4)
	startLoop(t, func(ctx context.Context) error {
		return a.rebuildLoop(ctx, changes, limiter, func(res ports.BuildResult, err error) {
			assert.NoError(t, err)
			builds <- res
		})
	})

	home := filepath.Join(root, "home.js")
	about := filepath.Join(root, "about.js")
	require.Equal(t, queue.EnqueueAccepted, changes.Enqueue(home))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, queue.EnqueueAccepted, changes.Enqueue(about))

	res := nextBuild(t, builds, 5*time.Second)
	assert.True(t, res.Incremental)
	assert.Equal(t, []string{about, home}, res.ChangedPaths)
	assertNoBuild(t, builds, 300*time.Millisecond)
}

func TestRebuildLoop_OverflowForcesFullBuild(t *testing.T) {
	root, cfg := homeAboutShared(t)
	a := newApp(t, cfg)
	_, err := a.Build(context.Background(), ports.BuildRequest{})
	require.NoError(t, err)

	changes := queue.NewMemoryQueue(1)
	require.Equal(t, queue.EnqueueAccepted, changes.Enqueue(filepath.Join(root, "home.js")))
	require.Equal(t, queue.EnqueueDropped, changes.Enqueue(filepath.Join(root, "about.js")))

	builds := make(chan ports.BuildResult, 4)
	startLoop(t, func(ctx context.Context) error {
		return a.rebuildLoop(ctx, changes, util.NewLimiter(0, 1), func(res ports.BuildResult, err error) {
			assert.NoError(t, err)
			builds <- res
		})
	})

	res := nextBuild(t, builds, 5*time.Second)
	assert.False(t, res.Incremental)
	assert.Empty(t, res.ChangedPaths)
	assert.Equal(t, 3, res.Reused)
	assert.False(t, changes.TakeOverflow())
}
