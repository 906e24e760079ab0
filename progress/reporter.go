package progress

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Reporter displays tracker updates. Implementations must tolerate
// concurrent Advance calls.
type Reporter interface {
	Start(total int64, unit Unit)
	Advance(weight int64, label string)
	Finish()
}

type NopReporter struct{}

func (NopReporter) Start(int64, Unit)     {}
func (NopReporter) Advance(int64, string) {}
func (NopReporter) Finish()               {}

// BarReporter draws a terminal progress bar.
type BarReporter struct {
	w       io.Writer
	visible bool

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewBarReporter writes to w (stderr when nil). The bar is hidden when
// FLATBATCH_DISABLE_PROGRESS is set to a true value.
func NewBarReporter(w io.Writer) *BarReporter {
	if w == nil {
		w = os.Stderr
	}
	return &BarReporter{w: w, visible: progressVisible()}
}

func (r *BarReporter) Start(total int64, unit Unit) {
	opts := []progressbar.Option{
		progressbar.OptionSetWriter(r.w),
		progressbar.OptionSetDescription("Converting"),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetVisibility(r.visible),
		progressbar.OptionFullWidth(),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(r.w, "\n")
		}),
	}
	if unit == UnitBytes {
		opts = append(opts, progressbar.OptionShowBytes(true))
	} else {
		opts = append(opts, progressbar.OptionShowCount())
	}
	r.mu.Lock()
	r.bar = progressbar.NewOptions64(total, opts...)
	r.mu.Unlock()
}

func (r *BarReporter) Advance(weight int64, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar == nil {
		return
	}
	if label != "" {
		r.bar.Describe(label)
	}
	_ = r.bar.Add64(weight)
}

func (r *BarReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar == nil {
		return
	}
	_ = r.bar.Finish()
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("FLATBATCH_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}
