// Package convert runs the external schema compiler for one binary/schema
// pair and reports whether the regenerated JSON differs from what was on
// disk before.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"flatbatch/hasher"
	"flatbatch/logger"
	"flatbatch/matcher"
	"flatbatch/tracing"
)

var errNoSchema = errors.New("no schema matches the binary extension")

// Result is the immutable record of one pair conversion.
type Result struct {
	Pair       matcher.Pair      `json:"pair"`
	Outcome    Outcome           `json:"outcome"`
	OutputPath string            `json:"output_path,omitempty"`
	Changed    bool              `json:"changed"`
	Stderr     string            `json:"stderr,omitempty"`
	Err        error             `json:"-"`
	BinarySize int64             `json:"binary_size"`
	Duration   time.Duration     `json:"duration_ns"`
	Hashes     map[string]string `json:"output_hashes,omitempty"`
}

// Message describes a failure in one line, preferring the compiler's own
// diagnostics.
func (r Result) Message() string {
	if stderr := strings.TrimSpace(r.Stderr); stderr != "" {
		return stderr
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return ""
}

type Options struct {
	CompilerPath string
	// ExtraArgs are passed after --strict-json.
	ExtraArgs      []string
	MmapMinSize    int64
	HashAlgorithms []string
}

// Runner converts pairs with a fixed compiler. It holds no per-pair state
// and is safe for concurrent use.
type Runner struct {
	compiler       string
	extraArgs      []string
	mmapMinSize    int64
	hashAlgorithms []string
}

func NewRunner(opts Options) *Runner {
	return &Runner{
		compiler:       opts.CompilerPath,
		extraArgs:      append([]string(nil), opts.ExtraArgs...),
		mmapMinSize:    opts.MmapMinSize,
		hashAlgorithms: append([]string(nil), opts.HashAlgorithms...),
	}
}

func (r *Runner) Compiler() string {
	return r.compiler
}

// Args builds the compiler argument list for pair:
//
//	--raw-binary -o <dir>/ --strict-json [extra] -t <schema> -- <binary>
func (r *Runner) Args(pair matcher.Pair) []string {
	args := make([]string, 0, 8+len(r.extraArgs))
	args = append(args, "--raw-binary", "-o", pair.OutputDir+string(filepath.Separator), "--strict-json")
	args = append(args, r.extraArgs...)
	args = append(args, "-t", pair.SchemaPath, "--", pair.BinaryPath)
	return args
}

// Convert runs the compiler once for pair. It never returns an error:
// every failure is an Outcome on the Result.
func (r *Runner) Convert(ctx context.Context, pair matcher.Pair) Result {
	ctx, endTask := tracing.StartTask(ctx, "convert_pair")
	defer endTask()
	tracing.Log(ctx, "binary", pair.BinaryPath)

	start := time.Now()
	res := Result{Pair: pair}
	finish := func(outcome Outcome, err error) Result {
		res.Outcome = outcome
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	info, err := os.Stat(pair.BinaryPath)
	if err != nil {
		return finish(MissingBinary, err)
	}
	if !info.Mode().IsRegular() {
		return finish(MissingBinary, &fs.PathError{Op: "convert", Path: pair.BinaryPath, Err: fs.ErrInvalid})
	}
	res.BinarySize = info.Size()

	if pair.SchemaPath == "" {
		return finish(MissingSchema, errNoSchema)
	}
	if info, err := os.Stat(pair.SchemaPath); err != nil {
		return finish(MissingSchema, err)
	} else if !info.Mode().IsRegular() {
		return finish(MissingSchema, &fs.PathError{Op: "convert", Path: pair.SchemaPath, Err: fs.ErrInvalid})
	}

	outputPath := pair.OutputPath()
	if pair.ConflictsWith != "" {
		return finish(OutputConflict, fmt.Errorf("%w: %s by %s", ErrOutputCollision, outputPath, pair.ConflictsWith))
	}

	if err := ctx.Err(); err != nil {
		return finish(Canceled, err)
	}

	previous, hadPrevious := readPrevious(outputPath, r.mmapMinSize)

	if err := os.MkdirAll(pair.OutputDir, 0o755); err != nil {
		return finish(OutputNotProduced, err)
	}

	endRegion := tracing.StartRegion(ctx, "run_compiler")
	args := r.Args(pair)
	cmd := exec.CommandContext(ctx, r.compiler, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	endRegion()

	res.Stderr = stderr.String()
	if runErr != nil {
		if ctx.Err() != nil {
			return finish(Canceled, ctx.Err())
		}
		return finish(CompilerError, runErr)
	}
	if stdout.Len() > 0 {
		logger.Debugf("%s %s", r.compiler, strings.Join(args, " "))
		logger.Debug(stdout.String())
	}

	if _, err := os.Stat(outputPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return finish(OutputNotProduced, err)
		}
		return finish(OutputReadError, err)
	}
	current, err := readOutput(outputPath, r.mmapMinSize)
	if err != nil {
		return finish(OutputReadError, err)
	}

	res.OutputPath = outputPath
	res.Changed = !hadPrevious || !bytes.Equal(previous, current)
	if len(r.hashAlgorithms) > 0 {
		res.Hashes = hasher.HashBytes(current, r.hashAlgorithms)
	}
	return finish(Success, nil)
}

// readPrevious loads the output left by an earlier run. A missing file is
// the normal first-run case; any other read failure is logged and treated
// the same way.
func readPrevious(path string, mmapMinSize int64) ([]byte, bool) {
	content, err := readOutput(path, mmapMinSize)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warnf("Failed to read previous output %s: %v", path, err)
		}
		return nil, false
	}
	return content, true
}
