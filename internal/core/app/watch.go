package app

import (
	"context"
	"log/slog"
	"time"

	"packt/internal/core/errors"
	"packt/internal/core/ports"
	"packt/internal/core/watcher"
	"packt/internal/data/queue"
	"packt/internal/shared/util"
)

const (
	changeQueueCapacity = 4096
	changeBatchWait     = 250 * time.Millisecond
)

// Watch runs a full build, then rebuilds incrementally whenever sources under
// the project root change, until ctx is cancelled. Every build result is
// passed to onBuild; build failures do not stop watching.
func (a *App) Watch(ctx context.Context, onBuild func(ports.BuildResult, error)) error {
	if onBuild == nil {
		onBuild = func(ports.BuildResult, error) {}
	}
	onBuild(a.Build(ctx, ports.BuildRequest{}))
	if ctx.Err() != nil {
		return nil
	}

	changes := queue.NewMemoryQueue(changeQueueCapacity)
	defer changes.Close()

	cfg := a.Config.Watch
	w, err := watcher.NewWatcher(cfg.Debounce, cfg.ExcludeDirs, cfg.ExcludeFiles, func(paths []string) {
		for _, p := range paths {
			changes.Enqueue(p)
		}
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeConfig, "create watcher")
	}
	defer w.Close()

	w.IgnoreRoots(a.Config.Paths.OutputDir, a.Config.Paths.CacheDir, a.Config.Paths.StateDir)
	if err := w.Watch([]string{a.Config.Paths.ProjectRoot}); err != nil {
		return errors.IO("watch", a.Config.Paths.ProjectRoot, err)
	}
	slog.Info("watching for changes", "root", a.Config.Paths.ProjectRoot, "debounce", cfg.Debounce)

	return a.rebuildLoop(ctx, changes, util.NewLimiter(cfg.MaxRebuildsPerSecond, 1), onBuild)
}

// rebuildLoop turns queued change batches into builds until ctx is cancelled.
// Paths queued while waiting on limiter join the pending rebuild, and a queue
// overflow turns it into a full build.
func (a *App) rebuildLoop(ctx context.Context, changes *queue.MemoryQueue, limiter *util.Limiter, onBuild func(ports.BuildResult, error)) error {
	for {
		batch, err := changes.DequeueBatch(ctx, changeQueueCapacity, changeBatchWait)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.CodeInternal, "read change queue")
		}
		if len(batch) == 0 {
			continue
		}
		if err := limiter.Wait(ctx, 1); err != nil {
			return nil
		}
		if more, _ := changes.DequeueBatch(ctx, changeQueueCapacity, 0); len(more) > 0 {
			batch = append(batch, more...)
		}

		req := ports.BuildRequest{ChangedPaths: util.SortedStringKeys(setOf(batch))}
		if changes.TakeOverflow() {
			slog.Warn("change queue overflowed, rebuilding everything")
			req = ports.BuildRequest{}
		}
		slog.Info("rebuilding", "changed", len(req.ChangedPaths))
		onBuild(a.Build(ctx, req))
	}
}
