// Package batch pairs binaries with schemas and converts them on a
// bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"flatbatch/convert"
	"flatbatch/diag"
	"flatbatch/logger"
	"flatbatch/matcher"
	"flatbatch/progress"
	"flatbatch/utils"

	"golang.org/x/time/rate"
)

const (
	// DuplicateFirst keeps the lexicographically first schema of a name.
	DuplicateFirst = "first"
	// DuplicateReject aborts the batch when two schemas share a name.
	DuplicateReject = "reject"
)

type Options struct {
	Concurrency int
	NiceLevel   string
	// IncludeUnmatched turns binaries without a schema, and missing
	// explicit inputs, into MissingSchema/MissingBinary results instead
	// of skipping them.
	IncludeUnmatched  bool
	DuplicatePolicy   string
	MaxSpawnPerSecond int
	IncludePatterns   []string
	ExcludePatterns   []string
	ResolverCacheSize int

	// Runner carries compiler arguments and output handling. Its
	// CompilerPath is ignored; each request names its compiler.
	Runner convert.Options

	Tracker  *progress.Tracker
	Resolver CompilerResolver
	Prompter Prompter
	Messages Messages
	// Diag enables the stall watchdog when StallThreshold is set.
	// ProgressFn is filled in from the tracker.
	Diag diag.Options
}

type BatchRequest struct {
	Compiler   string
	SchemaRoot string
	BinaryRoot string
	// OutputRoot defaults to the compiler's directory.
	OutputRoot string
}

type FilesRequest struct {
	Compiler string
	Schema   string
	Binaries []string
	// OutputDir defaults to each binary's own directory.
	OutputDir string
}

// Plan is the validated work of a request.
type Plan struct {
	Compiler string
	Pairs    []matcher.Pair
}

type Orchestrator struct {
	opts     Options
	pool     *pool
	limiter  *rate.Limiter
	filter   *utils.PatternMatcher
	tracker  *progress.Tracker
	resolver CompilerResolver
	prompter Prompter
	messages Messages
}

// New starts the worker pool. Call Close when done.
func New(opts Options) *Orchestrator {
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = DuplicateFirst
	}
	o := &Orchestrator{
		opts:     opts,
		pool:     newPool(PoolSize(opts.Concurrency, opts.NiceLevel)),
		filter:   utils.NewPatternMatcher(opts.IncludePatterns, opts.ExcludePatterns),
		tracker:  opts.Tracker,
		resolver: opts.Resolver,
		prompter: opts.Prompter,
		messages: opts.Messages,
	}
	if opts.MaxSpawnPerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.MaxSpawnPerSecond), opts.MaxSpawnPerSecond)
	}
	if o.tracker == nil {
		o.tracker = progress.NewTracker(progress.UnitCount, nil)
	}
	if o.resolver == nil {
		o.resolver = DefaultResolver{}
	}
	if o.prompter == nil {
		o.prompter = NonInteractivePrompter{}
	}
	if o.messages == nil {
		o.messages = EnglishMessages{}
	}
	return o
}

// Close stops the workers after queued pairs finish.
func (o *Orchestrator) Close() {
	o.pool.close()
}

func (o *Orchestrator) Workers() int {
	return o.pool.size
}

func (o *Orchestrator) Tracker() *progress.Tracker {
	return o.tracker
}

// RunBatch converts every binary under req.BinaryRoot with the schema of
// the same name from req.SchemaRoot. Only precondition failures and a
// canceled prompt return an error; pair failures are results.
func (o *Orchestrator) RunBatch(ctx context.Context, req BatchRequest) ([]convert.Result, error) {
	plan, err := o.PlanBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Dispatch(ctx, plan.Compiler, plan.Pairs)
}

// RunFiles converts an explicit list of binaries with one schema.
func (o *Orchestrator) RunFiles(ctx context.Context, req FilesRequest) ([]convert.Result, error) {
	plan, err := o.PlanFiles(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Dispatch(ctx, plan.Compiler, plan.Pairs)
}

func (o *Orchestrator) PlanBatch(ctx context.Context, req BatchRequest) (Plan, error) {
	compiler, err := o.compiler(req.Compiler)
	if err != nil {
		return Plan{}, err
	}
	schemaRoot, err := o.directory(req.SchemaRoot, InputSchemaDir)
	if err != nil {
		return Plan{}, err
	}
	binaryRoot, err := o.directory(req.BinaryRoot, InputBinaryDir)
	if err != nil {
		return Plan{}, err
	}
	outputRoot := req.OutputRoot
	if outputRoot == "" {
		outputRoot = filepath.Dir(compiler)
	}
	if outputRoot, err = existingDir(outputRoot); err != nil {
		return Plan{}, err
	}
	if utils.IsPathWithin(outputRoot, []string{binaryRoot}) {
		logger.Warn(o.messages.Text(MsgOutputInsideBinaries, outputRoot, binaryRoot, matcher.OutputExt))
	}

	schemas := slices.Collect(matcher.ListSchemas(ctx, schemaRoot))
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	if len(schemas) == 0 {
		logger.Info(o.messages.Text(MsgNoSchemas, schemaRoot))
		return Plan{Compiler: compiler}, nil
	}
	matcher.SortSchemas(schemas)
	if err := o.checkDuplicates(schemas); err != nil {
		return Plan{}, err
	}
	resolver, err := matcher.NewResolver(schemas, o.opts.ResolverCacheSize)
	if err != nil {
		return Plan{}, fmt.Errorf("schema resolver: %w", err)
	}

	var pairs []matcher.Pair
	for binary := range matcher.ExpandBinaries(ctx, []string{binaryRoot}, o.opts.IncludeUnmatched) {
		if !o.filter.ShouldInclude(binary) {
			continue
		}
		schema, ok := resolver.Match(binary)
		if !ok && !o.opts.IncludeUnmatched {
			logger.Debug(o.messages.Text(MsgUnmatchedBinary, binary))
			continue
		}
		pairs = append(pairs, matcher.Pair{
			BinaryPath: binary,
			SchemaPath: schema,
			OutputDir:  matcher.OutputDir(binaryRoot, outputRoot, binary),
		})
	}
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	o.markConflicts(pairs)
	logger.Infof("Planned %d pairs from %d schemas", len(pairs), resolver.Len())
	return Plan{Compiler: compiler, Pairs: pairs}, nil
}

func (o *Orchestrator) PlanFiles(ctx context.Context, req FilesRequest) (Plan, error) {
	compiler, err := o.compiler(req.Compiler)
	if err != nil {
		return Plan{}, err
	}
	schema := req.Schema
	if schema == "" {
		var ok bool
		if schema, ok = o.prompter.PromptForMissingInput(InputSchemaFile); !ok {
			return Plan{}, ErrInputCanceled
		}
	}
	schema, err = filepath.Abs(schema)
	if err != nil {
		return Plan{}, convert.NewPreconditionError(convert.ErrMissingSchemaFile, req.Schema)
	}
	if info, err := os.Stat(schema); err != nil || !info.Mode().IsRegular() {
		return Plan{}, convert.NewPreconditionError(convert.ErrMissingSchemaFile, schema)
	}
	outputDir := req.OutputDir
	if outputDir != "" {
		if outputDir, err = filepath.Abs(outputDir); err != nil {
			return Plan{}, convert.NewPreconditionError(convert.ErrMissingDirectory, req.OutputDir)
		}
		if info, err := os.Stat(outputDir); err == nil && !info.IsDir() {
			return Plan{}, convert.NewPreconditionError(convert.ErrMissingDirectory, outputDir)
		}
	}

	var pairs []matcher.Pair
	for binary := range matcher.ExpandBinaries(ctx, req.Binaries, o.opts.IncludeUnmatched) {
		if !o.filter.ShouldInclude(binary) {
			continue
		}
		dir := outputDir
		if dir == "" {
			dir = filepath.Dir(binary)
		}
		pairs = append(pairs, matcher.Pair{BinaryPath: binary, SchemaPath: schema, OutputDir: dir})
	}
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	o.markConflicts(pairs)
	return Plan{Compiler: compiler, Pairs: pairs}, nil
}

// Dispatch runs pairs on the pool and returns one result per pair in
// pair order. The tracker advances in completion order. Pairs not started
// before ctx ends are reported as Canceled.
func (o *Orchestrator) Dispatch(ctx context.Context, compiler string, pairs []matcher.Pair) ([]convert.Result, error) {
	o.pool.mu.RLock()
	closed := o.pool.closed
	o.pool.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	runnerOpts := o.opts.Runner
	runnerOpts.CompilerPath = compiler
	runner := convert.NewRunner(runnerOpts)

	weights := make([]int64, len(pairs))
	var total int64
	for i, pair := range pairs {
		weights[i] = o.weight(pair)
		total += weights[i]
	}
	o.tracker.Initialize(total)
	defer o.tracker.Finalize()

	if o.opts.Diag.StallThreshold > 0 {
		diagOpts := o.opts.Diag
		diagOpts.ProgressFn = func() (int64, string) {
			s := o.tracker.Snapshot()
			return s.Completed, s.Label
		}
		watchdog := diag.NewWatchdog(diagOpts)
		watchdog.Start(ctx)
		defer watchdog.Stop()
	}

	done := make(chan indexedResult, len(pairs))
	go func() {
		for i, pair := range pairs {
			err := o.waitSpawn(ctx)
			if err == nil {
				err = o.pool.submit(ctx, job{ctx: ctx, runner: runner, pair: pair, index: i, done: done})
			}
			if err != nil {
				done <- indexedResult{index: i, result: convert.Result{Pair: pair, Outcome: convert.Canceled, Err: err}}
			}
		}
	}()

	results := make([]convert.Result, len(pairs))
	for range pairs {
		r := <-done
		results[r.index] = r.result
		o.report(r.result)
		o.tracker.Advance(weights[r.index], filepath.Base(r.result.Pair.BinaryPath))
	}
	return results, nil
}

func (o *Orchestrator) waitSpawn(ctx context.Context) error {
	if o.limiter == nil {
		return ctx.Err()
	}
	return o.limiter.Wait(ctx)
}

func (o *Orchestrator) weight(pair matcher.Pair) int64 {
	unit := o.tracker.Unit()
	if unit == progress.UnitCount {
		return 1
	}
	info, err := os.Stat(pair.BinaryPath)
	if err != nil {
		return 0
	}
	return unit.Weight(info.Size())
}

func (o *Orchestrator) report(r convert.Result) {
	switch {
	case r.Outcome == convert.Success && r.Changed:
		logger.Info(o.messages.Text(MsgConverted, r.Pair.BinaryPath, r.OutputPath))
	case r.Outcome == convert.Success:
		logger.Debug(o.messages.Text(MsgUnchanged, r.OutputPath))
	case r.Outcome == convert.Canceled:
		logger.Debugf("Canceled %s", r.Pair.BinaryPath)
	default:
		logger.WithFields(map[string]interface{}{
			"binary":  r.Pair.BinaryPath,
			"schema":  r.Pair.SchemaPath,
			"outcome": r.Outcome.String(),
		}).Warn(o.messages.Text(MsgFailed, filepath.Base(r.Pair.BinaryPath), r.Outcome, r.Message()))
	}
}

// markConflicts keeps the first pair of every output path and turns the
// rest into OutputConflict results.
func (o *Orchestrator) markConflicts(pairs []matcher.Pair) {
	if matcher.MarkOutputConflicts(pairs) == 0 {
		return
	}
	for _, pair := range pairs {
		if pair.ConflictsWith != "" {
			logger.Warn(o.messages.Text(MsgOutputConflict, pair.BinaryPath, pair.OutputPath(), pair.ConflictsWith))
		}
	}
}

func (o *Orchestrator) checkDuplicates(schemas []string) error {
	dups := matcher.DuplicateSchemas(schemas)
	if len(dups) == 0 {
		return nil
	}
	names := make([]string, 0, len(dups))
	for name := range dups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		paths := dups[name]
		if o.opts.DuplicatePolicy == DuplicateReject {
			return convert.NewPreconditionError(convert.ErrDuplicateSchema, strings.Join(paths, ", "))
		}
		logger.Warn(o.messages.Text(MsgDuplicateSchema, name, len(paths), paths[0]))
	}
	return nil
}

func (o *Orchestrator) compiler(path string) (string, error) {
	if path == "" {
		cwd, _ := os.Getwd()
		resolved, ok := o.resolver.ResolveCompiler(cwd)
		if !ok {
			return "", convert.NewPreconditionError(convert.ErrCompilerNotFound, convert.CompilerName)
		}
		path = resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := convert.CheckCompiler(path); err != nil {
		return "", err
	}
	return path, nil
}

// directory resolves a required input directory, prompting when it was
// not given.
func (o *Orchestrator) directory(path string, kind InputKind) (string, error) {
	if path == "" {
		var ok bool
		if path, ok = o.prompter.PromptForMissingInput(kind); !ok {
			return "", ErrInputCanceled
		}
	}
	return existingDir(path)
}

func existingDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", convert.NewPreconditionError(convert.ErrMissingDirectory, path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warnf("Failed to access %s: %v", abs, err)
		}
		return "", convert.NewPreconditionError(convert.ErrMissingDirectory, abs)
	}
	if !info.IsDir() {
		return "", convert.NewPreconditionError(convert.ErrMissingDirectory, abs)
	}
	return abs, nil
}
