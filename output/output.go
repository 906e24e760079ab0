// Package output writes the batch report and, optionally, ships each
// record to an OTLP log endpoint.
package output

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"flatbatch/convert"
	"flatbatch/logger"
	"flatbatch/systeminfo"
)

// ReportVersion identifies the layout of report files.
const ReportVersion = "1"

// RunInfo describes the batch a report belongs to.
type RunInfo struct {
	Mode            string `json:"mode"`
	ToolVersion     string `json:"tool_version"`
	Compiler        string `json:"compiler"`
	CompilerVersion string `json:"compiler_version,omitempty"`
	SchemaRoot      string `json:"schema_root,omitempty"`
	BinaryRoot      string `json:"binary_root,omitempty"`
	OutputRoot      string `json:"output_root,omitempty"`
	// Host is left nil in tests and when host probing is not wanted.
	Host *systeminfo.Host `json:"host,omitempty"`
}

type Metrics struct {
	StartTime string         `json:"start_time"`
	EndTime   string         `json:"end_time"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Changed   int            `json:"changed"`
	Failed    int            `json:"failed"`
	ByOutcome map[string]int `json:"by_outcome,omitempty"`
	Bytes     int64          `json:"binary_bytes"`
}

type Options struct {
	Path   string
	Format string
	// MaxSize rotates the report into numbered files once it grows past
	// this many bytes. Zero disables rotation.
	MaxSize int64
	Otel    OtelOptions
}

// Writer streams result records to the report file. It is safe for
// concurrent use.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	csvw    *csv.Writer
	mu      sync.Mutex
	first   bool
	written int
	metrics *Metrics
	run     RunInfo
	otel    *otelLogger
	base    string
	ext     string
	index   int
	format  string
	maxSize int64
}

func New(opts Options, run RunInfo) (*Writer, error) {
	ext := filepath.Ext(opts.Path)
	base := strings.TrimSuffix(opts.Path, ext)
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		return nil, fmt.Errorf("unsupported report format %q", opts.Format)
	}

	w := &Writer{
		first:   true,
		run:     run,
		base:    base,
		ext:     ext,
		format:  format,
		maxSize: opts.MaxSize,
	}
	otel, err := newOtelLogger(opts.Otel)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	} else {
		w.otel = otel
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	w.emitRecordLocked("run", w.run)
	return w, nil
}

// Path returns the file currently being written.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Name()
}

func (w *Writer) openFile() error {
	name := w.base + w.ext
	if w.index > 0 {
		name = fmt.Sprintf("%s.%d%s", w.base, w.index, w.ext)
	}
	if dir := filepath.Dir(name); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 64*1024)
	w.csvw = nil
	w.first = true

	switch w.format {
	case "csv":
		w.csvw = csv.NewWriter(w.buf)
		if err := w.writeCSVHeader(); err != nil {
			return err
		}
	default:
		if err := w.writeHeader(); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}

func (w *Writer) writeHeader() error {
	runBytes, err := jsonMarshalIndent(w.run, "  ", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w.buf, "{\n  \"report_version\": %q,\n  \"run\": %s,\n  \"results\": [\n", ReportVersion, runBytes)
	return err
}

// WriteResult appends one conversion result.
func (w *Writer) WriteResult(r convert.Result) {
	data := ResultRecord(r)

	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.format {
	case "csv":
		if err := w.writeCSVRow("result", data, nil); err != nil {
			logger.Warnf("Failed to write report row: %v", err)
			return
		}
	default:
		if !w.first {
			_, _ = w.buf.WriteString(",\n")
		}
		bytes, err := jsonMarshalIndent(data, "    ", "  ")
		if err == nil {
			_, _ = w.buf.WriteString("    ")
			_, _ = w.buf.Write(bytes)
		}
		w.first = false
	}
	w.written++
	w.emitRecordLocked("result", data)
	w.flush()

	if w.maxSize > 0 {
		if info, err := w.file.Stat(); err == nil && info.Size() >= w.maxSize {
			w.rotate()
		}
	}
}

// Written returns the number of results written so far.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *Writer) SetMetrics(m Metrics) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics = &m
}

func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emitMetricsLocked()
	w.closeFile()
	if w.otel != nil {
		w.otel.Shutdown()
	}
}

func (w *Writer) rotate() {
	w.closeFile()
	w.index++
	if err := w.openFile(); err != nil {
		logger.Errorf("Failed to rotate report: %v", err)
	}
}

func (w *Writer) closeFile() {
	switch w.format {
	case "csv":
		if w.metrics != nil {
			_ = w.writeCSVRow("metrics", nil, w.metrics)
		}
		w.flush()
	default:
		_, _ = w.buf.WriteString("\n  ]")
		if w.metrics != nil {
			mBytes, err := jsonMarshalIndent(w.metrics, "  ", "  ")
			if err == nil {
				_, _ = w.buf.WriteString(",\n  \"metrics\": ")
				_, _ = w.buf.Write(mBytes)
			}
		}
		_, _ = w.buf.WriteString("\n}\n")
		w.flush()
	}
	_ = w.file.Sync()
	_ = w.file.Close()
}

func (w *Writer) flush() {
	if w.csvw != nil {
		w.csvw.Flush()
	}
	if w.buf != nil {
		_ = w.buf.Flush()
	}
}

var csvColumns = []string{
	"binary",
	"schema",
	"output_path",
	"outcome",
	"changed",
	"binary_size",
	"duration_ms",
	"stderr",
	"error",
}

func (w *Writer) writeCSVHeader() error {
	header := append([]string{"record_type", "report_version"}, csvColumns...)
	header = append(header, "hashes", "run", "metrics")
	if err := w.csvw.Write(header); err != nil {
		return err
	}
	if err := w.writeCSVRow("run", nil, nil); err != nil {
		return err
	}
	w.csvw.Flush()
	return w.csvw.Error()
}

func (w *Writer) writeCSVRow(recordType string, data map[string]interface{}, metrics *Metrics) error {
	row := []string{recordType, ReportVersion}
	for _, col := range csvColumns {
		row = append(row, getField(data, col))
	}
	row = append(row, jsonString(getValue(data, "hashes")))
	if recordType == "run" {
		row = append(row, jsonString(w.run))
	} else {
		row = append(row, "")
	}
	row = append(row, jsonString(metrics))
	if err := w.csvw.Write(row); err != nil {
		return err
	}
	w.csvw.Flush()
	return w.csvw.Error()
}

func (w *Writer) emitMetricsLocked() {
	if w.metrics == nil {
		return
	}
	w.emitRecordLocked("metrics", w.metrics)
}

func (w *Writer) emitRecordLocked(recordType string, payload interface{}) {
	if w.otel == nil {
		return
	}
	w.otel.Emit(recordType, payload)
}

// ResultRecord flattens a result into report fields.
func ResultRecord(r convert.Result) map[string]interface{} {
	data := map[string]interface{}{
		"binary":      r.Pair.BinaryPath,
		"name":        filepath.Base(r.Pair.BinaryPath),
		"schema":      r.Pair.SchemaPath,
		"output_dir":  r.Pair.OutputDir,
		"outcome":     r.Outcome.String(),
		"changed":     r.Changed,
		"binary_size": r.BinarySize,
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.OutputPath != "" {
		data["output_path"] = r.OutputPath
	}
	if r.Stderr != "" {
		data["stderr"] = r.Stderr
	}
	if r.Err != nil {
		data["error"] = r.Err.Error()
	}
	if len(r.Hashes) > 0 {
		data["hashes"] = r.Hashes
	}
	return data
}

func getField(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	val, ok := data[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func getValue(data map[string]interface{}, key string) interface{} {
	if data == nil {
		return nil
	}
	return data[key]
}

func jsonString(value interface{}) string {
	if value == nil {
		return ""
	}
	if m, ok := value.(*Metrics); ok && m == nil {
		return ""
	}
	bytes, err := jsonMarshal(value)
	if err != nil {
		return ""
	}
	return string(bytes)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
