package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mosajjal/authhec/pkg/app"
	"github.com/mosajjal/authhec/pkg/collector"
	"github.com/mosajjal/authhec/pkg/config"
	"github.com/mosajjal/authhec/pkg/logging"
)

type runCmd struct {
	MetricsAddr string `arg:"--metrics-addr,env:METRICS_ADDR" default:":9090" help:"serve /metrics and /healthz here, empty to disable"`
	RunOnStart  bool   `arg:"--run-on-start,env:RUN_ON_START" help:"collect once for every integration at startup"`
}

type onceCmd struct {
	Name string `arg:"positional" help:"only this integration"`
}

type testCmd struct {
	Name string `arg:"positional" help:"only this integration"`
}

type validateCmd struct{}

var args struct {
	app.Options

	Run      *runCmd      `arg:"subcommand:run" help:"collect on every integration's polling interval until stopped"`
	Once     *onceCmd     `arg:"subcommand:once" help:"run one collection cycle and exit"`
	Test     *testCmd     `arg:"subcommand:test" help:"check that upstream APIs accept the configured credentials"`
	Validate *validateCmd `arg:"subcommand:validate" help:"validate the integrations file and print the normalized result"`
}

var errFailed = errors.New("one or more integrations failed")

func main() {
	p := arg.MustParse(&args)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	logger, err := logging.New(args.LogLevel, args.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case args.Run != nil:
		err = run(ctx, args.Options, *args.Run, logger)
	case args.Once != nil:
		err = once(ctx, args.Options, args.Once.Name, logger)
	case args.Test != nil:
		err = test(ctx, args.Options, args.Test.Name, logger)
	case args.Validate != nil:
		err = validate(ctx, args.Options, logger)
	}
	if err != nil {
		if !errors.Is(err, errFailed) {
			logger.Error("command failed", zap.Error(err))
		}
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts app.Options, cmd runCmd, logger *zap.Logger) error {
	rt, err := app.Build(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	scheduler := app.NewScheduler(logger)
	n, err := app.Schedule(ctx, scheduler, rt.Collector, rt.Integrations, logger)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("no enabled, valid integrations to schedule")
	}

	var srv *http.Server
	if cmd.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if !rt.HEC.Healthy() {
				http.Error(w, "no healthy HEC endpoint", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("ok"))
		})
		srv = &http.Server{Addr: cmd.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("serving metrics", zap.String("addr", cmd.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	if cmd.RunOnStart {
		runAll(ctx, rt.Collector, rt.Integrations)
	}

	scheduler.Start()
	logger.Info("scheduler started", zap.Int("integrations", n))
	<-ctx.Done()

	logger.Info("shutting down, waiting for running cycles")
	select {
	case <-scheduler.Stop().Done():
	case <-time.After(time.Minute):
		logger.Warn("running cycles did not finish in time")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func once(ctx context.Context, opts app.Options, name string, logger *zap.Logger) error {
	rt, err := app.Build(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	raws, err := app.Select(rt.Integrations, name)
	if err != nil {
		return err
	}

	results := runAll(ctx, rt.Collector, raws)
	failed := false
	for _, res := range results {
		summary := map[string]any{
			"integration":       res.Integration,
			"run_id":            res.RunID,
			"outcome":           res.Outcome(),
			"fetched":           res.Fetched,
			"dropped":           res.Dropped,
			"forwarded":         res.Forwarded,
			"retried":           res.Retried,
			"failed_to_forward": res.FailedToForward,
			"archived":          res.Archived,
			"truncated":         res.Truncated,
			"duration":          res.Duration.String(),
		}
		if res.Error != nil {
			summary["error"] = res.Error.Error()
		}
		if err := printJSON(summary); err != nil {
			return err
		}
		if o := res.Outcome(); o == collector.OutcomeFailure || o == collector.OutcomePartial {
			failed = true
		}
	}
	if failed {
		return errFailed
	}
	return nil
}

// runAll runs one cycle per integration, all in parallel
func runAll(ctx context.Context, c *collector.Collector, raws []config.RawConfig) []collector.CollectionResult {
	results := make([]collector.CollectionResult, len(raws))
	var wg sync.WaitGroup
	for i, raw := range raws {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.RunCollectionCycle(ctx, raw)
		}()
	}
	wg.Wait()
	return results
}

func test(ctx context.Context, opts app.Options, name string, logger *zap.Logger) error {
	raws, err := app.LoadIntegrations(ctx, opts, logger)
	if err != nil {
		return err
	}
	if raws, err = app.Select(raws, name); err != nil {
		return err
	}

	locker, err := app.NewLocker(app.Options{}, logger)
	if err != nil {
		return err
	}
	c := app.NewCollector(opts, nil, locker, logger)

	failed := false
	for _, raw := range raws {
		res := c.TestConnection(ctx, raw)
		if err := printJSON(map[string]any{
			"integration": raw.Name,
			"reachable":   res.Reachable,
			"detail":      res.Detail,
			"status":      res.StatusCode,
			"method":      res.Method,
			"latency":     res.Latency.String(),
		}); err != nil {
			return err
		}
		if !res.Reachable {
			failed = true
		}
	}
	if failed {
		return errFailed
	}
	return nil
}

func validate(ctx context.Context, opts app.Options, logger *zap.Logger) error {
	raws, err := app.LoadIntegrations(ctx, opts, logger)
	if err != nil {
		return err
	}

	failed := false
	for _, raw := range raws {
		cfg, err := config.Validate(raw)
		if err != nil {
			failed = true
			if err := printJSON(map[string]any{"name": raw.Name, "valid": false, "error": err.Error()}); err != nil {
				return err
			}
			continue
		}
		if err := printJSON(map[string]any{"name": cfg.Name, "valid": true, "config": cfg}); err != nil {
			return err
		}
	}
	if failed {
		return errFailed
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
