package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"flatbatch/batch"
	"flatbatch/config"
	"flatbatch/convert"
	"flatbatch/logger"
	"flatbatch/output"
)

const fakeCompiler = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "flatc version 24.3.25"
  exit 0
fi
out=""; bin=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2;;
    --) bin="$2"; shift 2;;
    *) shift;;
  esac
done
name=$(basename "$bin")
stem="${name%.*}"
mkdir -p "$out"
printf '{"payload": "%s"}\n' "$(cat "$bin")" > "$out/$stem.json"
`

func setup(t *testing.T) (compiler, schemas, binaries, out string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script compiler requires a unix shell")
	}
	t.Setenv("FLATBATCH_DISABLE_PROGRESS", "1")
	logger.Init("error")

	dir := t.TempDir()
	compiler = filepath.Join(dir, "tools", "flatc")
	schemas = filepath.Join(dir, "schemas")
	binaries = filepath.Join(dir, "bin")
	out = filepath.Join(dir, "out")
	files := map[string]string{
		compiler:                                       fakeCompiler,
		filepath.Join(schemas, "monster.fbs"):          "table Monster {}",
		filepath.Join(binaries, "a.monster"):           "orc",
		filepath.Join(binaries, "nested", "b.monster"): "elf",
		filepath.Join(binaries, "c.weapon"):            "axe",
	}
	for path, content := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return compiler, schemas, binaries, out
}

func baseConfig() *config.Config {
	return &config.Config{
		Mode:              config.ModeBatch,
		DuplicateSchemas:  "first",
		ConcurrencyLevel:  2,
		NiceLevel:         "medium",
		ResolverCacheSize: 16,
		ProgressUnit:      "bytes",
		LogLevel:          "error",
		ReportFormat:      "json",
	}
}

func TestRunBatchWritesOutputsAndReport(t *testing.T) {
	compiler, schemas, binaries, out := setup(t)
	report := filepath.Join(t.TempDir(), "report.json")

	cfg := baseConfig()
	cfg.CompilerPath = compiler
	cfg.SchemasPath = schemas
	cfg.BinariesPath = binaries
	cfg.OutputPath = out
	cfg.ReportFile = report
	if code := run(context.Background(), cfg, time.Now().Format(time.RFC3339)); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	for _, path := range []string{
		filepath.Join(out, "a.json"),
		filepath.Join(out, "nested", "b.json"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected output %s: %v", path, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "c.json")); !os.IsNotExist(err) {
		t.Fatal("unmatched binary must not be converted")
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var doc struct {
		Run     output.RunInfo           `json:"run"`
		Results []map[string]interface{} `json:"results"`
		Metrics output.Metrics           `json:"metrics"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("report is not valid JSON: %v\n%s", err, data)
	}
	if len(doc.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(doc.Results))
	}
	if doc.Run.CompilerVersion != "24.3.25" || doc.Run.Mode != config.ModeBatch {
		t.Fatalf("unexpected run info: %+v", doc.Run)
	}
	if doc.Metrics.Total != 2 || doc.Metrics.Changed != 2 || doc.Metrics.Failed != 0 {
		t.Fatalf("unexpected metrics: %+v", doc.Metrics)
	}
}

func TestRunFilesModeWritesNextToBinaries(t *testing.T) {
	compiler, schemas, binaries, _ := setup(t)

	cfg := baseConfig()
	cfg.Mode = config.ModeFiles
	cfg.CompilerPath = compiler
	cfg.SchemaFile = filepath.Join(schemas, "monster.fbs")
	cfg.BinaryFiles = []string{filepath.Join(binaries, "a.monster"), filepath.Join(binaries, "missing.monster")}

	if code := run(context.Background(), cfg, ""); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if _, err := os.Stat(filepath.Join(binaries, "a.json")); err != nil {
		t.Fatalf("expected output next to binary: %v", err)
	}
}

func TestRunPreconditionFailure(t *testing.T) {
	_, schemas, binaries, out := setup(t)

	cfg := baseConfig()
	cfg.CompilerPath = filepath.Join(t.TempDir(), "no-flatc")
	cfg.SchemasPath = schemas
	cfg.BinariesPath = binaries
	cfg.OutputPath = out

	if code := run(context.Background(), cfg, ""); code != exitPrecondition {
		t.Fatalf("expected exit %d, got %d", exitPrecondition, code)
	}
}

func TestRunMissingDirectoryCancelsPrompt(t *testing.T) {
	compiler, schemas, _, out := setup(t)

	cfg := baseConfig()
	cfg.CompilerPath = compiler
	cfg.SchemasPath = schemas
	cfg.OutputPath = out

	if code := run(context.Background(), cfg, ""); code != exitOK {
		t.Fatalf("expected exit 0 for a canceled prompt, got %d", code)
	}
}

func TestExitCodeFor(t *testing.T) {
	logger.Init("error")
	cases := []struct {
		err  error
		want int
	}{
		{batch.ErrInputCanceled, exitOK},
		{fmt.Errorf("plan: %w", batch.ErrInputCanceled), exitOK},
		{convert.NewPreconditionError(convert.ErrCompilerNotFound, "flatc"), exitPrecondition},
		{context.Canceled, exitPrecondition},
		{errors.New("boom"), exitPrecondition},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.want {
			t.Errorf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestFinalMetrics(t *testing.T) {
	s := batch.Summary{
		Total:     3,
		Succeeded: 2,
		Changed:   1,
		Failed:    1,
		ByOutcome: map[convert.Outcome]int{convert.Success: 2, convert.CompilerError: 1},
		Bytes:     42,
	}
	m := finalMetrics("2026-01-02T03:04:05Z", s)
	if m.StartTime != "2026-01-02T03:04:05Z" || m.EndTime == "" {
		t.Fatalf("unexpected times: %+v", m)
	}
	if m.ByOutcome[convert.CompilerError.String()] != 1 || m.ByOutcome[convert.Success.String()] != 2 {
		t.Fatalf("unexpected outcome counts: %v", m.ByOutcome)
	}
	if m.Bytes != 42 || m.Total != 3 {
		t.Fatalf("unexpected totals: %+v", m)
	}
}

func TestHandleSignalEventCancelsContext(t *testing.T) {
	logger.Init("error")

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)

	done := make(chan struct{})
	go func() {
		handleSignalEvent(cancel, false, "", sigChan)
		close(done)
	}()

	sigChan <- syscall.SIGTERM

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected context to be canceled")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("signal handler did not return")
	}
}
