package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	coreapp "packt/internal/core/app"
	"packt/internal/core/config"
	"packt/internal/core/ports"
	"packt/internal/shared/observability"
	"packt/internal/ui/report"
)

// Run is the packt entry point. It returns the process exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}
	if opts.version {
		fmt.Fprintf(stdout, "packt v%s\n", versionString)
		return 0
	}

	configureLogging(stderr, opts.verbose)

	cfg, err := config.LoadWithEnv(opts.configPath)
	if err != nil {
		slog.Error("failed to load config", "path", opts.configPath, "error", err)
		return 1
	}

	shutdown := startObservability(ctx, cfg.Observability)
	defer shutdown()

	a, err := coreapp.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("failed to close app", "error", err)
		}
	}()

	root := cfg.Paths.ProjectRoot
	switch {
	case opts.history > 0:
		return printHistory(ctx, a, opts, stdout)

	case opts.explain != "" || opts.impact != "":
		if _, err := a.Build(ctx, ports.BuildRequest{}); err != nil {
			slog.Error("build failed", "error", err)
			return 1
		}
		variant := opts.variant
		if variant == "" {
			variant = cfg.Build.Variants[0]
		}
		if opts.impact != "" {
			impact, err := a.Impact(variant, opts.impact)
			if err != nil {
				fmt.Fprintln(stderr, err.Error())
				return 1
			}
			fmt.Fprint(stdout, report.RenderImpact(variant, impact, root))
			return 0
		}
		chains, err := a.Explain(variant, opts.explain)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 1
		}
		fmt.Fprint(stdout, report.RenderExplain(variant, absPath(root, opts.explain), chains, root))
		return 0

	case opts.watch:
		err := a.Watch(ctx, func(res ports.BuildResult, err error) {
			fmt.Fprint(stdout, report.RenderBuild(res, err, root))
		})
		if err != nil {
			slog.Error("watch failed", "error", err)
			return 1
		}
		return 0

	default:
		res, err := a.Build(ctx, ports.BuildRequest{})
		fmt.Fprint(stdout, report.RenderBuild(res, err, root))
		if err != nil {
			return 1
		}
		return 0
	}
}

func printHistory(ctx context.Context, a *coreapp.App, opts cliOptions, stdout io.Writer) int {
	records, err := a.History(ctx, opts.history)
	if err != nil {
		slog.Error("failed to read build history", "error", err)
		return 1
	}
	if !opts.historyJSON {
		_, _ = stdout.Write(report.RenderHistoryTSV(records))
		return 0
	}
	data, err := report.RenderHistoryJSON(records)
	if err != nil {
		slog.Error("failed to encode build history", "error", err)
		return 1
	}
	fmt.Fprintln(stdout, string(data))
	return 0
}

// startObservability starts the metrics server and tracing exporter the
// config asks for and returns a function stopping both.
func startObservability(ctx context.Context, cfg config.Observability) func() {
	var stops []func(context.Context) error
	if cfg.Enabled {
		server := observability.NewServer(cfg.Address)
		if err := server.Start(); err != nil {
			slog.Warn("failed to start observability server", "addr", cfg.Address, "error", err)
		} else {
			stops = append(stops, server.Stop)
		}
	}
	if cfg.EnableTracing {
		stopTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint)
		if err != nil {
			slog.Warn("failed to initialize tracing", "error", err)
		} else {
			stops = append(stops, stopTracing)
		}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(stops) - 1; i >= 0; i-- {
			if err := stops[i](shutdownCtx); err != nil {
				slog.Warn("observability shutdown failed", "error", err)
			}
		}
	}
}

func configureLogging(out io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

func absPath(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}
