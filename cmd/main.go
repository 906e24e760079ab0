package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"flatbatch/batch"
	"flatbatch/config"
	"flatbatch/convert"
	"flatbatch/diag"
	"flatbatch/logger"
	"flatbatch/output"
	"flatbatch/progress"
	"flatbatch/release"
	"flatbatch/systeminfo"
	"flatbatch/tracing"
	"flatbatch/version"
)

const (
	exitOK           = 0
	exitPrecondition = 1
	exitConfig       = 2
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfg, err := config.LoadConfig()
	if errors.Is(err, config.ErrVersionRequested) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return exitConfig
	}

	logger.Init(cfg.LogLevel)

	if err := tracing.Start(cfg.TraceFile); err != nil {
		logger.Warnf("Failed to start trace: %v", err)
	} else {
		defer tracing.Stop()
	}

	if cfg.TraceFlight {
		if err := tracing.StartFlightRecorder(cfg.TraceFlightMaxBytes, cfg.TraceFlightMinAge); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer func() {
				if err := tracing.WriteFlightRecorder(cfg.TraceFlightFile); err != nil {
					logger.Warnf("Failed to write flight recorder: %v", err)
				}
				tracing.StopFlightRecorder()
			}()
		}
	}

	startTime := time.Now().Format(time.RFC3339)

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel, cfg.TraceFlight, cfg.TraceFlightFile)

	return run(ctx, cfg, startTime)
}

// run executes one configured batch and returns the process exit code.
func run(ctx context.Context, cfg *config.Config, startTime string) int {
	start := time.Now()
	unit, err := progress.ParseUnit(cfg.ProgressUnit)
	if err != nil {
		logger.Error(err)
		return exitConfig
	}
	tracker := progress.NewTracker(unit, progress.NewBarReporter(os.Stderr))

	orch := batch.New(orchestratorOptions(cfg, tracker))
	defer orch.Close()
	logger.Debugf("Worker pool started with %d workers", orch.Workers())

	plan, info, err := planRun(ctx, orch, cfg)
	if err != nil {
		return exitCodeFor(err)
	}

	if cfg.CheckUpdate || cfg.ReportFile != "" {
		compilerVersion, err := release.CompilerVersion(ctx, plan.Compiler)
		if err != nil {
			logger.Warnf("Failed to read compiler version: %v", err)
		}
		info.CompilerVersion = compilerVersion
		if cfg.CheckUpdate {
			checkRelease(ctx, compilerVersion)
		}
	}

	var writer *output.Writer
	if cfg.ReportFile != "" {
		writer, err = output.New(reportOptions(cfg), info)
		if err != nil {
			logger.Errorf("Failed to initialize report: %v", err)
			return exitPrecondition
		}
		defer writer.Close()
	}

	results, err := orch.Dispatch(ctx, plan.Compiler, plan.Pairs)
	if err != nil {
		logger.Errorf("Batch failed: %v", err)
		return exitPrecondition
	}

	summary := batch.Summarize(results)
	summary.Elapsed = time.Since(start)
	logger.WithFields(map[string]interface{}{
		"total":   summary.Total,
		"changed": summary.Changed,
		"failed":  summary.Failed,
		"bytes":   summary.Bytes,
	}).Info(batch.EnglishMessages{}.Text(batch.MsgSummary,
		summary.Total, summary.Succeeded, summary.Changed, summary.Failed, summary.Elapsed.Round(time.Millisecond)))
	if ctx.Err() != nil {
		logger.Warn("Batch interrupted; pairs that had not started are reported as canceled.")
	}

	if writer != nil {
		for _, r := range results {
			writer.WriteResult(r)
		}
		writer.SetMetrics(finalMetrics(startTime, summary))
		logger.Infof("Report written to %s", writer.Path())
	}
	return exitOK
}

func orchestratorOptions(cfg *config.Config, tracker *progress.Tracker) batch.Options {
	opts := batch.Options{
		Concurrency:       cfg.ConcurrencyLevel,
		NiceLevel:         cfg.NiceLevel,
		IncludeUnmatched:  cfg.IncludeUnmatched,
		DuplicatePolicy:   cfg.DuplicateSchemas,
		MaxSpawnPerSecond: cfg.MaxSpawnPerSecond,
		IncludePatterns:   cfg.IncludePatterns,
		ExcludePatterns:   cfg.ExcludePatterns,
		ResolverCacheSize: cfg.ResolverCacheSize,
		Runner: convert.Options{
			ExtraArgs:      cfg.CompilerArgs,
			MmapMinSize:    cfg.MmapMinSize,
			HashAlgorithms: cfg.HashAlgorithms,
		},
		Tracker:  tracker,
		Resolver: batch.DefaultResolver{},
		Prompter: batch.NonInteractivePrompter{},
		Messages: batch.EnglishMessages{},
		Diag: diag.Options{
			StallThreshold: cfg.DiagStallThreshold,
			Dir:            cfg.DiagDir,
			GoroutineDump:  cfg.DiagGoroutineDump,
		},
	}
	if cfg.TraceFlight {
		opts.Diag.DumpFlightRecorder = tracing.WriteFlightRecorder
	}
	return opts
}

func reportOptions(cfg *config.Config) output.Options {
	return output.Options{
		Path:    cfg.ReportFile,
		Format:  cfg.ReportFormat,
		MaxSize: cfg.ReportMaxSize,
		Otel: output.OtelOptions{
			Endpoint:     cfg.OtelEndpoint,
			FromEnv:      cfg.OtelFromEnv,
			Headers:      cfg.OtelHeaders,
			Timeout:      cfg.OtelTimeout,
			ServiceName:  cfg.OtelServiceName,
			ExportPaths:  cfg.OtelExportPaths,
			ExportStderr: cfg.OtelExportStderr,
		},
	}
}

// planRun validates the inputs of the configured mode and returns the
// pairs to convert together with the report header describing them.
func planRun(ctx context.Context, orch *batch.Orchestrator, cfg *config.Config) (batch.Plan, output.RunInfo, error) {
	host := systeminfo.Gather(ctx)
	info := output.RunInfo{Mode: cfg.Mode, ToolVersion: version.Version, Host: &host}
	var (
		plan batch.Plan
		err  error
	)
	switch cfg.Mode {
	case config.ModeFiles:
		plan, err = orch.PlanFiles(ctx, batch.FilesRequest{
			Compiler:  cfg.CompilerPath,
			Schema:    cfg.SchemaFile,
			Binaries:  cfg.BinaryFiles,
			OutputDir: cfg.OutputPath,
		})
		info.OutputRoot = cfg.OutputPath
	default:
		plan, err = orch.PlanBatch(ctx, batch.BatchRequest{
			Compiler:   cfg.CompilerPath,
			SchemaRoot: cfg.SchemasPath,
			BinaryRoot: cfg.BinariesPath,
			OutputRoot: cfg.OutputPath,
		})
		info.SchemaRoot = cfg.SchemasPath
		info.BinaryRoot = cfg.BinariesPath
		info.OutputRoot = cfg.OutputPath
		if info.OutputRoot == "" && plan.Compiler != "" {
			info.OutputRoot = filepath.Dir(plan.Compiler)
		}
	}
	info.Compiler = plan.Compiler
	return plan, info, err
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, batch.ErrInputCanceled):
		logger.Info("Input selection canceled; nothing to do.")
		return exitOK
	case convert.IsPrecondition(err):
		logger.Errorf("Cannot start batch: %v", err)
		return exitPrecondition
	case errors.Is(err, context.Canceled):
		logger.Warn("Interrupted before conversion started.")
		return exitPrecondition
	default:
		logger.Errorf("Planning failed: %v", err)
		return exitPrecondition
	}
}

func checkRelease(ctx context.Context, current string) {
	upd, err := release.CheckForUpdate(ctx, current, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		logger.Warnf("Release check failed: %v", err)
		return
	}
	if !upd.Available {
		logger.Infof("Compiler %s is the latest release", upd.Current)
		return
	}
	if upd.AssetURL != "" {
		logger.Infof("Compiler update available: %s -> %s (%s)", upd.Current, upd.Latest, upd.AssetURL)
		return
	}
	logger.Infof("Compiler update available: %s -> %s", upd.Current, upd.Latest)
}

func finalMetrics(startTime string, s batch.Summary) output.Metrics {
	byOutcome := make(map[string]int, len(s.ByOutcome))
	for outcome, n := range s.ByOutcome {
		byOutcome[outcome.String()] = n
	}
	return output.Metrics{
		StartTime: startTime,
		EndTime:   time.Now().Format(time.RFC3339),
		Total:     s.Total,
		Succeeded: s.Succeeded,
		Changed:   s.Changed,
		Failed:    s.Failed,
		ByOutcome: byOutcome,
		Bytes:     s.Bytes,
	}
}

func handleSignals(cancelFunc context.CancelFunc, traceFlight bool, traceFlightFile string) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	handleSignalEvent(cancelFunc, traceFlight, traceFlightFile, sigChan)
}

func handleSignalEvent(cancelFunc context.CancelFunc, traceFlight bool, traceFlightFile string, sigChan <-chan os.Signal) {
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")

	if traceFlight {
		if err := tracing.WriteFlightRecorder(traceFlightFile); err != nil {
			logger.Warnf("Failed to write flight recorder: %v", err)
		}
	}

	cancelFunc()
}
