package diag

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeProfileWriter struct {
	content string
}

func (f fakeProfileWriter) WriteTo(w io.Writer, debug int) error {
	_, err := io.WriteString(w, f.content)
	return err
}

func TestCheckWritesStallReport(t *testing.T) {
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	w := NewWatchdog(Options{
		StallThreshold: 2 * time.Second,
		Dir:            dir,
		ProgressFn:     func() (int64, string) { return 42, "b.monster" },
		DumpFlightRecorder: func(path string) error {
			return os.WriteFile(path, []byte("flight"), 0600)
		},
		NowFn: func() time.Time { return now },
	})
	w.lastProgress = 42
	w.lastProgressAt = now

	w.check(now.Add(3 * time.Second))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var reportPath string
	var foundFlight bool
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "flatbatch-stall-") && strings.HasSuffix(name, ".json") {
			reportPath = filepath.Join(dir, name)
		}
		if strings.HasPrefix(name, "flatbatch-flight-") && strings.HasSuffix(name, ".out") {
			foundFlight = true
		}
	}
	if reportPath == "" {
		t.Fatal("expected stall report")
	}
	if !foundFlight {
		t.Fatal("expected flight recorder dump")
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var event map[string]interface{}
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if event["last_label"] != "b.monster" {
		t.Fatalf("unexpected label %v", event["last_label"])
	}
	if event["threshold_ms"] != float64(2000) || event["stalled_ms"] != float64(3000) {
		t.Fatalf("unexpected timings: %v", event)
	}
	if w.Reports() != 1 {
		t.Fatalf("expected 1 report, got %d", w.Reports())
	}
}

func TestCheckResetsOnProgress(t *testing.T) {
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
	completed := int64(1)
	w := NewWatchdog(Options{
		StallThreshold: time.Second,
		Dir:            t.TempDir(),
		ProgressFn:     func() (int64, string) { return completed, "" },
		NowFn:          func() time.Time { return now },
	})
	w.lastProgress = 0
	w.lastProgressAt = now

	w.check(now.Add(5 * time.Second))
	if w.Reports() != 0 {
		t.Fatal("progress moved, no report expected")
	}
	w.check(now.Add(5500 * time.Millisecond))
	if w.Reports() != 0 {
		t.Fatal("stall shorter than threshold should not report")
	}
	w.check(now.Add(6 * time.Second))
	w.check(now.Add(6500 * time.Millisecond))
	if w.Reports() != 1 {
		t.Fatalf("reports should be rate limited to one per threshold, got %d", w.Reports())
	}
}

func TestWriteProfileAvailableAndUnavailable(t *testing.T) {
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
	w := NewWatchdog(Options{
		Dir:   t.TempDir(),
		NowFn: func() time.Time { return now },
		ProfileLookupFn: func(name string) profileWriter {
			if name == "goroutine" {
				return fakeProfileWriter{content: "goroutine-profile"}
			}
			return nil
		},
	})

	path, err := w.writeProfile("goroutine", 0)
	if err != nil {
		t.Fatalf("write available profile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written profile: %v", err)
	}
	if string(data) != "goroutine-profile" {
		t.Fatalf("unexpected profile content: %q", string(data))
	}

	if _, err := w.writeProfile("heap-missing", 0); err == nil {
		t.Fatal("expected unavailable profile to return error")
	}
}

func TestStopWritesGoroutineProfileWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	w := NewWatchdog(Options{
		StallThreshold: time.Hour,
		Dir:            dir,
		GoroutineDump:  true,
		ProgressFn:     func() (int64, string) { return 0, "" },
		ProfileLookupFn: func(name string) profileWriter {
			return fakeProfileWriter{content: "profile"}
		},
	})
	w.Start(context.Background())
	w.Stop()
	w.Stop()

	matches, err := filepath.Glob(filepath.Join(dir, "flatbatch-goroutine-*.pprof"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected goroutine profile file")
	}
}

func TestDisabledWatchdogIsNoOp(t *testing.T) {
	w := NewWatchdog(Options{})
	w.Start(context.Background())
	w.Stop()
	var nilWatchdog *Watchdog
	nilWatchdog.Start(context.Background())
	nilWatchdog.Stop()
}
