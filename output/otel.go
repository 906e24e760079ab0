package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flatbatch/logger"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type OtelOptions struct {
	Endpoint    string
	FromEnv     bool
	Headers     map[string]string
	Timeout     time.Duration
	ServiceName string
	// ExportPaths keeps absolute paths in exported records.
	ExportPaths bool
	// ExportStderr keeps compiler diagnostics, which may quote paths or
	// payload fragments.
	ExportStderr bool
}

type otelLogger struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	policy   otelPolicy
}

type otelPolicy struct {
	includePaths  bool
	includeStderr bool
}

func newOtelLogger(opts OtelOptions) (*otelLogger, error) {
	endpoint := resolveOtelEndpoint(opts)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	expOpts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(opts.Headers) > 0 {
		expOpts = append(expOpts, otlploghttp.WithHeaders(opts.Headers))
	}
	if opts.Timeout > 0 {
		expOpts = append(expOpts, otlploghttp.WithTimeout(opts.Timeout))
	}

	exp, err := otlploghttp.New(context.Background(), expOpts...)
	if err != nil {
		return nil, err
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "flatbatch"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &otelLogger{
		provider: provider,
		logger:   provider.Logger("flatbatch"),
		timeout:  opts.Timeout,
		endpoint: endpoint,
		policy: otelPolicy{
			includePaths:  opts.ExportPaths,
			includeStderr: opts.ExportStderr,
		},
	}, nil
}

func resolveOtelEndpoint(opts OtelOptions) string {
	if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
		return endpoint
	}
	if !opts.FromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *otelLogger) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

func (o *otelLogger) Emit(recordType string, payload interface{}) {
	if o == nil || o.logger == nil {
		return
	}
	safePayload := sanitizePayload(recordType, payload, o.policy)

	var record otelLog.Record
	now := time.Now()
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName("flatbatch." + recordType)
	record.AddAttributes(
		otelLog.String("record_type", recordType),
		otelLog.String("report_version", ReportVersion),
	)
	if recordType == "result" {
		if outcome := getStringField(payloadToMap(safePayload), "outcome"); outcome != "" && outcome != "success" {
			record.SetSeverity(otelLog.SeverityWarn)
		} else {
			record.SetSeverity(otelLog.SeverityInfo)
		}
	}
	if attrs := semanticAttributes(recordType, safePayload, o.policy); len(attrs) > 0 {
		record.AddAttributes(attrs...)
	}
	record.SetBody(toLogValue(payloadToMap(safePayload)))

	o.logger.Emit(context.Background(), record)
}

func (o *otelLogger) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

var pathFields = map[string][]string{
	"result": {"binary", "schema", "output_dir", "output_path"},
	"run":    {"compiler", "schema_root", "binary_root", "output_root"},
}

func sanitizePayload(recordType string, payload interface{}, policy otelPolicy) interface{} {
	data := payloadToMap(payload)
	if len(data) == 0 {
		return payload
	}
	fields, ok := pathFields[recordType]
	if !ok {
		return payload
	}
	sanitized := cloneMap(data)
	if !policy.includePaths {
		for _, key := range fields {
			if value := getStringField(sanitized, key); value != "" && key != "output_dir" {
				sanitized[key+"_name"] = filepath.Base(value)
			}
			delete(sanitized, key)
		}
		delete(sanitized, "error")
	}
	if recordType == "result" && !policy.includeStderr {
		delete(sanitized, "stderr")
	}
	return sanitized
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case []byte:
		return otelLog.BytesValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float64:
		return otelLog.Float64Value(v)
	case float32:
		return otelLog.Float64Value(float64(v))
	case map[string]interface{}:
		return otelLog.MapValue(toLogKeyValues(v)...)
	case map[string]string:
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for _, k := range sortedKeys(v) {
			kvs = append(kvs, otelLog.String(k, v[k]))
		}
		return otelLog.MapValue(kvs...)
	case map[string]int:
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for _, k := range sortedKeys(v) {
			kvs = append(kvs, otelLog.Int(k, v[k]))
		}
		return otelLog.MapValue(kvs...)
	case []string:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.StringValue(item))
		}
		return otelLog.SliceValue(values...)
	case []interface{}:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.Value{}
	}
}

func toLogKeyValues(values map[string]interface{}) []otelLog.KeyValue {
	kvs := make([]otelLog.KeyValue, 0, len(values))
	for _, key := range sortedKeys(values) {
		kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(values[key])})
	}
	return kvs
}

func semanticAttributes(recordType string, payload interface{}, policy otelPolicy) []otelLog.KeyValue {
	data := payloadToMap(payload)
	if len(data) == 0 {
		return nil
	}

	switch recordType {
	case "result":
		return resultSemanticAttributes(data, policy)
	case "run":
		return runSemanticAttributes(data, policy)
	case "metrics":
		return metricsSemanticAttributes(data)
	default:
		return nil
	}
}

func resultSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	path := getStringField(data, "binary")
	name := getStringField(data, "name")
	if name == "" && path != "" {
		name = filepath.Base(path)
	}
	if policy.includePaths && path != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FilePathKey), path))
		kvs = append(kvs, otelLog.String(string(semconv.FileDirectoryKey), filepath.Dir(path)))
	}
	if name != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FileNameKey), name))
		if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" {
			kvs = append(kvs, otelLog.String(string(semconv.FileExtensionKey), ext))
		}
	}
	if size, ok := getInt64Field(data, "binary_size"); ok {
		kvs = append(kvs, otelLog.Int64(string(semconv.FileSizeKey), size))
	}

	kvs = appendStringAttr(kvs, "flatbatch.outcome", getStringField(data, "outcome"))
	if changed, ok := data["changed"].(bool); ok {
		kvs = append(kvs, otelLog.Bool("flatbatch.changed", changed))
	}
	if ms, ok := getInt64Field(data, "duration_ms"); ok {
		kvs = append(kvs, otelLog.Int64("flatbatch.duration_ms", ms))
	}
	if policy.includePaths {
		kvs = appendStringAttr(kvs, "flatbatch.schema", getStringField(data, "schema"))
		kvs = appendStringAttr(kvs, "flatbatch.output_path", getStringField(data, "output_path"))
	} else {
		kvs = appendStringAttr(kvs, "flatbatch.schema", getStringField(data, "schema_name"))
	}

	if hashes := getStringMapField(data, "hashes"); len(hashes) > 0 {
		for _, algo := range sortedKeys(hashes) {
			if hashes[algo] == "" {
				continue
			}
			kvs = append(kvs, otelLog.String("flatbatch.output.hash."+algo, hashes[algo]))
		}
	}
	return kvs
}

func runSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	if policy.includePaths {
		kvs = appendStringAttr(kvs, string(semconv.ProcessExecutablePathKey), getStringField(data, "compiler"))
	} else {
		kvs = appendStringAttr(kvs, string(semconv.ProcessExecutableNameKey), getStringField(data, "compiler_name"))
	}
	kvs = appendStringAttr(kvs, "flatbatch.mode", getStringField(data, "mode"))
	kvs = appendStringAttr(kvs, "flatbatch.version", getStringField(data, "tool_version"))
	kvs = appendStringAttr(kvs, "flatbatch.compiler.version", getStringField(data, "compiler_version"))
	if hostData, ok := data["host"].(map[string]interface{}); ok {
		kvs = appendStringAttr(kvs, string(semconv.OSTypeKey), getStringField(hostData, "os"))
		kvs = appendStringAttr(kvs, string(semconv.OSVersionKey), getStringField(hostData, "platform_version"))
		kvs = appendStringAttr(kvs, string(semconv.HostArchKey), getStringField(hostData, "arch"))
		if cpus, ok := getInt64Field(hostData, "cpus"); ok {
			kvs = append(kvs, otelLog.Int64("flatbatch.host.cpus", cpus))
		}
	}
	return kvs
}

func metricsSemanticAttributes(data map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	kvs = appendStringAttr(kvs, "flatbatch.metrics.start_time", getStringField(data, "start_time"))
	kvs = appendStringAttr(kvs, "flatbatch.metrics.end_time", getStringField(data, "end_time"))
	for _, key := range []string{"total", "succeeded", "changed", "failed", "binary_bytes"} {
		if value, ok := getInt64Field(data, key); ok {
			kvs = append(kvs, otelLog.Int64("flatbatch.metrics."+key, value))
		}
	}
	return kvs
}

func payloadToMap(payload interface{}) map[string]interface{} {
	switch v := payload.(type) {
	case map[string]interface{}:
		return v
	case map[string]string:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			out[key] = value
		}
		return out
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil
		}
		return decoded
	}
}

func getStringField(values map[string]interface{}, key string) string {
	value, ok := values[key]
	if !ok {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func getInt64Field(values map[string]interface{}, key string) (int64, bool) {
	value, ok := values[key]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func getStringMapField(values map[string]interface{}, key string) map[string]string {
	value, ok := values[key]
	if !ok || value == nil {
		return nil
	}
	switch v := value.(type) {
	case map[string]string:
		return v
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if val == nil {
				continue
			}
			out[k] = fmt.Sprint(val)
		}
		return out
	default:
		return nil
	}
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}
