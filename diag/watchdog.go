// Package diag watches a running batch and writes diagnostics when
// conversions stop completing.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"flatbatch/logger"
)

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	// StallThreshold is how long completed progress may stay flat before
	// a stall report is written. Zero disables the watchdog.
	StallThreshold time.Duration
	Dir            string
	GoroutineDump  bool
	// ProgressFn returns the completed weight and the label of the most
	// recently finished pair.
	ProgressFn         func() (int64, string)
	DumpFlightRecorder func(path string) error
	NowFn              func() time.Time
	ProfileLookupFn    func(name string) profileWriter
}

// Watchdog polls batch progress on a ticker.
type Watchdog struct {
	stallThreshold     time.Duration
	dir                string
	goroutineDump      bool
	progressFn         func() (int64, string)
	dumpFlightRecorder func(path string) error
	nowFn              func() time.Time
	profileLookupFn    func(name string) profileWriter

	mu             sync.Mutex
	lastProgressAt time.Time
	lastProgress   int64
	lastReportAt   time.Time
	reports        int

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWatchdog(opts Options) *Watchdog {
	nowFn := opts.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	profileLookup := opts.ProfileLookupFn
	if profileLookup == nil {
		profileLookup = func(name string) profileWriter {
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}

	return &Watchdog{
		stallThreshold:     opts.StallThreshold,
		dir:                dir,
		goroutineDump:      opts.GoroutineDump,
		progressFn:         opts.ProgressFn,
		dumpFlightRecorder: opts.DumpFlightRecorder,
		nowFn:              nowFn,
		profileLookupFn:    profileLookup,
	}
}

// Start begins polling. It returns immediately and is a no-op when the
// watchdog is disabled or already running.
func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.stallThreshold <= 0 || w.progressFn == nil || w.stopCh != nil {
		return
	}

	w.mu.Lock()
	w.lastProgress, _ = w.progressFn()
	w.lastProgressAt = w.nowFn()
	w.lastReportAt = time.Time{}
	w.mu.Unlock()

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := w.stallThreshold / 2
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if interval > 2*time.Second {
		interval = 2 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(w.doneCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.check(w.nowFn())
			}
		}
	}()
}

// Stop ends polling and, when enabled, writes a goroutine profile so
// workers still blocked on a compiler are visible.
func (w *Watchdog) Stop() {
	if w == nil {
		return
	}
	if w.stopCh != nil {
		close(w.stopCh)
		<-w.doneCh
		w.stopCh = nil
		w.doneCh = nil
	}

	if w.goroutineDump {
		if _, err := w.writeProfile("goroutine", 2); err != nil {
			logger.Warnf("Goroutine profile dump failed: %v", err)
		}
	}
}

// Reports returns how many stall reports were written.
func (w *Watchdog) Reports() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reports
}

func (w *Watchdog) check(now time.Time) {
	if w == nil || w.progressFn == nil || w.stallThreshold <= 0 {
		return
	}

	completed, label := w.progressFn()

	w.mu.Lock()
	if completed != w.lastProgress {
		w.lastProgress = completed
		w.lastProgressAt = now
		w.mu.Unlock()
		return
	}
	if w.lastProgressAt.IsZero() {
		w.lastProgressAt = now
		w.mu.Unlock()
		return
	}
	stalledFor := now.Sub(w.lastProgressAt)
	report := stalledFor >= w.stallThreshold &&
		(w.lastReportAt.IsZero() || now.Sub(w.lastReportAt) >= w.stallThreshold)
	if report {
		w.lastReportAt = now
		w.reports++
	}
	w.mu.Unlock()

	if report {
		logger.Warnf("No conversion finished for %s (last: %s)", stalledFor.Round(time.Millisecond), label)
		if err := w.writeStallReport(now, completed, label, stalledFor); err != nil {
			logger.Warnf("Stall report failed: %v", err)
		}
	}
}

func (w *Watchdog) writeStallReport(now time.Time, completed int64, label string, stalledFor time.Duration) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	ts := now.UTC().Format("20060102-150405.000")
	eventPath := filepath.Join(w.dir, fmt.Sprintf("flatbatch-stall-%s.json", ts))
	event := map[string]interface{}{
		"event":        "batch_stalled",
		"timestamp":    now.UTC().Format(time.RFC3339Nano),
		"completed":    completed,
		"last_label":   label,
		"threshold_ms": w.stallThreshold.Milliseconds(),
		"stalled_ms":   stalledFor.Milliseconds(),
	}
	b, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(eventPath, b, 0600); err != nil {
		return err
	}

	if w.dumpFlightRecorder != nil {
		tracePath := filepath.Join(w.dir, fmt.Sprintf("flatbatch-flight-%s.out", ts))
		if err := w.dumpFlightRecorder(tracePath); err != nil {
			logger.Warnf("Flight recorder dump failed: %v", err)
		}
	}
	return nil
}

func (w *Watchdog) writeProfile(name string, debug int) (string, error) {
	profile := w.profileLookupFn(name)
	if profile == nil {
		return "", fmt.Errorf("pprof profile %q unavailable", name)
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", err
	}
	ts := w.nowFn().UTC().Format("20060102-150405.000")
	path := filepath.Join(w.dir, fmt.Sprintf("flatbatch-%s-%s.pprof", name, ts))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := profile.WriteTo(f, debug); err != nil {
		return "", err
	}
	return path, nil
}
