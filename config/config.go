package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"flatbatch/hasher"
	"flatbatch/version"

	"github.com/joho/godotenv"
)

const (
	ModeBatch = "batch"
	ModeFiles = "files"

	// CompilerEnv names the environment variable that supplies the default
	// compiler path. It may also be set in a .env file.
	CompilerEnv = "FLATBATCH_COMPILER"
)

// ErrVersionRequested is returned when -version was given; the caller
// prints nothing further and exits cleanly.
var ErrVersionRequested = errors.New("version requested")

type Config struct {
	Mode                string            `json:"mode"`
	CompilerPath        string            `json:"compiler"`
	CompilerArgs        []string          `json:"compiler_args"`
	SchemasPath         string            `json:"schemas"`
	BinariesPath        string            `json:"binaries"`
	SchemaFile          string            `json:"schema_file"`
	BinaryFiles         []string          `json:"binary_files"`
	OutputPath          string            `json:"output"`
	IncludeUnmatched    bool              `json:"include_unmatched"`
	DuplicateSchemas    string            `json:"duplicate_schemas"`
	IncludePatterns     []string          `json:"include_patterns"`
	ExcludePatterns     []string          `json:"exclude_patterns"`
	ConcurrencyLevel    int               `json:"concurrency_level"`
	NiceLevel           string            `json:"nice_level"`
	MaxSpawnPerSecond   int               `json:"max_spawn_per_second"`
	ResolverCacheSize   int               `json:"resolver_cache_size"`
	ProgressUnit        string            `json:"progress_unit"`
	LogLevel            string            `json:"log_level"`
	HashAlgorithms      []string          `json:"hash_algorithms"`
	MmapMinSize         int64             `json:"mmap_min_size"`
	ReportFile          string            `json:"report_file"`
	ReportFormat        string            `json:"report_format"`
	ReportMaxSize       int64             `json:"report_max_size"`
	DiagStallThreshold  time.Duration     `json:"diag_stall_threshold"`
	DiagDir             string            `json:"diag_dir"`
	DiagGoroutineDump   bool              `json:"diag_goroutine_dump"`
	OtelEndpoint        string            `json:"otel_endpoint"`
	OtelFromEnv         bool              `json:"otel_from_env"`
	OtelHeaders         map[string]string `json:"otel_headers"`
	OtelServiceName     string            `json:"otel_service_name"`
	OtelTimeout         time.Duration     `json:"otel_timeout"`
	OtelExportPaths     bool              `json:"otel_export_paths"`
	OtelExportStderr    bool              `json:"otel_export_stderr"`
	TraceFile           string            `json:"trace_file"`
	TraceFlight         bool              `json:"trace_flight"`
	TraceFlightFile     string            `json:"trace_flight_file"`
	TraceFlightMaxBytes uint64            `json:"trace_flight_max_bytes"`
	TraceFlightMinAge   time.Duration     `json:"trace_flight_min_age"`
	CheckUpdate         bool              `json:"check_update"`
	ConfigFile          string            `json:"config_file"`
	ConcurrencySet      bool              `json:"-"`
}

// LoadConfig builds the configuration from defaults, an optional JSON
// file and the command line, in that order of precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	cfg := &Config{
		Mode:              ModeBatch,
		CompilerPath:      os.Getenv(CompilerEnv),
		CompilerArgs:      []string{},
		BinaryFiles:       []string{},
		DuplicateSchemas:  "first",
		IncludePatterns:   []string{},
		ExcludePatterns:   []string{},
		ConcurrencyLevel:  0,
		NiceLevel:         "medium",
		ResolverCacheSize: 256,
		ProgressUnit:      "bytes",
		LogLevel:          "info",
		HashAlgorithms:    []string{},
		MmapMinSize:       128 * 1024,
		ReportFormat:      "json",
		ReportMaxSize:     100 * 1024 * 1024,
		DiagDir:           ".",
		OtelHeaders:       map[string]string{},
		OtelServiceName:   "flatbatch",
		OtelTimeout:       5 * time.Second,
		TraceFlightFile:   "flatbatch-flight.out",
		CheckUpdate:       false,
	}

	mode := flag.String("mode", cfg.Mode, fmt.Sprintf("Run mode: batch (schema and binary directories) or files (one schema, listed binaries) (default: %s).", cfg.Mode))
	compiler := flag.String("compiler", cfg.CompilerPath, fmt.Sprintf("Path to the flatc compiler (default: $%s, then ./flatc, then PATH).", CompilerEnv))
	compilerArgs := flag.String("compiler-args", "", "Comma-separated extra compiler arguments, passed after --strict-json (default: none).")
	schemas := flag.String("schemas", "", "Directory searched recursively for .fbs schemas (batch mode).")
	binaries := flag.String("binaries", "", "Directory searched recursively for binaries (batch mode).")
	schemaFile := flag.String("schema", "", "Schema file used for every binary (files mode).")
	binaryFiles := flag.String("files", "", "Comma-separated binaries or directories to convert (files mode).")
	outputPath := flag.String("output", "", "Output directory (default: compiler directory in batch mode, next to each binary in files mode).")
	includeUnmatched := flag.Bool("include-unmatched", cfg.IncludeUnmatched, fmt.Sprintf("Report binaries without a schema and missing inputs as failed results (default: %t).", cfg.IncludeUnmatched))
	duplicateSchemas := flag.String("duplicate-schemas", cfg.DuplicateSchemas, fmt.Sprintf("Schemas sharing a name: first (warn, keep first by path) or reject (default: %s).", cfg.DuplicateSchemas))
	includes := flag.String("include", "", "Comma-separated list of binary include patterns (default: none).")
	excludes := flag.String("exclude", "", "Comma-separated list of binary exclude patterns (default: none).")
	concurrency := flag.Int("concurrency", cfg.ConcurrencyLevel, "Worker count (default: derived from host CPUs and nice level).")
	nice := flag.String("nice", cfg.NiceLevel, fmt.Sprintf("Nice level: high, medium, or low (default: %s).", cfg.NiceLevel))
	maxSpawn := flag.Int("max-spawn-per-second", cfg.MaxSpawnPerSecond, "Maximum compiler starts per second (default: 0, unlimited).")
	resolverCache := flag.Int("resolver-cache-size", cfg.ResolverCacheSize, fmt.Sprintf("Schema lookups cached per batch (default: %d).", cfg.ResolverCacheSize))
	progressUnit := flag.String("progress-unit", cfg.ProgressUnit, fmt.Sprintf("Progress unit: bytes or count (default: %s).", cfg.ProgressUnit))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	hashes := flag.String("hashes", "", fmt.Sprintf("Comma-separated output hash algorithms for the report: %s (default: none).", strings.Join(hasher.Supported, ", ")))
	mmapMinSize := flag.Int64("mmap-min-size", cfg.MmapMinSize, fmt.Sprintf("Outputs at least this many bytes are compared through mmap (default: %d).", cfg.MmapMinSize))
	reportFile := flag.String("report", "", "Write a result report to this file (default: none).")
	reportFormat := flag.String("report-format", cfg.ReportFormat, fmt.Sprintf("Report format: json or csv (default: %s).", cfg.ReportFormat))
	reportMaxSize := flag.Int64("report-max-size", cfg.ReportMaxSize, fmt.Sprintf("Report size in bytes before rotation (default: %d).", cfg.ReportMaxSize))
	diagStallThreshold := flag.Duration("diag-stall-threshold", cfg.DiagStallThreshold, "Write a stall report when no conversion completes for this long (default: 0, disabled).")
	diagDir := flag.String("diag-dir", cfg.DiagDir, fmt.Sprintf("Directory for diagnostic files (default: %s).", cfg.DiagDir))
	diagGoroutineDump := flag.Bool("diag-goroutine-dump", cfg.DiagGoroutineDump, fmt.Sprintf("Write a goroutine profile when the batch ends (default: %t).", cfg.DiagGoroutineDump))
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint for result records (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Read the OTLP endpoint from OTEL_EXPORTER_OTLP_* variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated key=value headers for the OTLP exporter (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, fmt.Sprintf("service.name resource attribute (default: %s).", cfg.OtelServiceName))
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTLP export timeout (default: 5s).")
	otelExportPaths := flag.Bool("otel-export-paths", cfg.OtelExportPaths, "Export absolute paths instead of base names (default: false).")
	otelExportStderr := flag.Bool("otel-export-stderr", cfg.OtelExportStderr, "Export compiler stderr and error text (default: false).")
	traceFile := flag.String("trace-file", cfg.TraceFile, "Execution trace output for trace builds (default: flatbatch-trace.out).")
	traceFlight := flag.Bool("trace-flight", cfg.TraceFlight, "Keep a flight recorder trace and write it on exit or stall (default: false).")
	traceFlightFile := flag.String("trace-flight-file", cfg.TraceFlightFile, fmt.Sprintf("Flight recorder output file (default: %s).", cfg.TraceFlightFile))
	traceFlightMaxBytes := flag.Uint64("trace-flight-max-bytes", cfg.TraceFlightMaxBytes, "Flight recorder buffer size in bytes (default: 0, runtime default).")
	traceFlightMinAge := flag.Duration("trace-flight-min-age", cfg.TraceFlightMinAge, "Minimum trace age kept by the flight recorder (default: 0, runtime default).")
	checkUpdate := flag.Bool("check-update", cfg.CheckUpdate, "Compare the compiler version with the latest flatbuffers release (default: false).")
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	showVersion := flag.Bool("version", false, "Print the version and exit.")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("flatbatch %s\n", version.Version)
		return nil, ErrVersionRequested
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(*configFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "compiler":
			cfg.CompilerPath = *compiler
		case "compiler-args":
			cfg.CompilerArgs = parseCommaSeparated(*compilerArgs)
		case "schemas":
			cfg.SchemasPath = *schemas
		case "binaries":
			cfg.BinariesPath = *binaries
		case "schema":
			cfg.SchemaFile = *schemaFile
		case "files":
			cfg.BinaryFiles = parseCommaSeparated(*binaryFiles)
		case "output":
			cfg.OutputPath = *outputPath
		case "include-unmatched":
			cfg.IncludeUnmatched = *includeUnmatched
		case "duplicate-schemas":
			cfg.DuplicateSchemas = *duplicateSchemas
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "concurrency":
			cfg.ConcurrencyLevel = *concurrency
			cfg.ConcurrencySet = true
		case "nice":
			cfg.NiceLevel = *nice
		case "max-spawn-per-second":
			cfg.MaxSpawnPerSecond = *maxSpawn
		case "resolver-cache-size":
			cfg.ResolverCacheSize = *resolverCache
		case "progress-unit":
			cfg.ProgressUnit = *progressUnit
		case "log-level":
			cfg.LogLevel = *logLevel
		case "hashes":
			cfg.HashAlgorithms = parseCommaSeparated(*hashes)
		case "mmap-min-size":
			cfg.MmapMinSize = *mmapMinSize
		case "report":
			cfg.ReportFile = *reportFile
		case "report-format":
			cfg.ReportFormat = *reportFormat
		case "report-max-size":
			cfg.ReportMaxSize = *reportMaxSize
		case "diag-stall-threshold":
			cfg.DiagStallThreshold = *diagStallThreshold
		case "diag-dir":
			cfg.DiagDir = strings.TrimSpace(*diagDir)
		case "diag-goroutine-dump":
			cfg.DiagGoroutineDump = *diagGoroutineDump
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *otelExportPaths
		case "otel-export-stderr":
			cfg.OtelExportStderr = *otelExportStderr
		case "trace-file":
			cfg.TraceFile = *traceFile
		case "trace-flight":
			cfg.TraceFlight = *traceFlight
		case "trace-flight-file":
			cfg.TraceFlightFile = *traceFlightFile
		case "trace-flight-max-bytes":
			cfg.TraceFlightMaxBytes = *traceFlightMaxBytes
		case "trace-flight-min-age":
			cfg.TraceFlightMinAge = *traceFlightMinAge
		case "check-update":
			cfg.CheckUpdate = *checkUpdate
		}
	})

	// Positional arguments extend the binary list in files mode.
	if cfg.Mode == ModeFiles && flag.NArg() > 0 {
		cfg.BinaryFiles = append(cfg.BinaryFiles, flag.Args()...)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.CompilerPath = strings.TrimSpace(cfg.CompilerPath)
	cfg.DuplicateSchemas = strings.ToLower(strings.TrimSpace(cfg.DuplicateSchemas))
	cfg.NiceLevel = strings.ToLower(strings.TrimSpace(cfg.NiceLevel))
	cfg.ProgressUnit = strings.ToLower(strings.TrimSpace(cfg.ProgressUnit))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.ReportFormat = strings.ToLower(strings.TrimSpace(cfg.ReportFormat))
	cfg.HashAlgorithms = normalizeAlgorithms(cfg.HashAlgorithms)
	cfg.BinaryFiles = dropEmpty(cfg.BinaryFiles)
	cfg.CompilerArgs = dropEmpty(cfg.CompilerArgs)
	if cfg.Mode == "" {
		cfg.Mode = ModeBatch
	}
	if cfg.DuplicateSchemas == "" {
		cfg.DuplicateSchemas = "first"
	}
	if cfg.ProgressUnit == "" {
		cfg.ProgressUnit = "bytes"
	}
	if cfg.ReportFormat == "" {
		cfg.ReportFormat = "json"
	}
	if cfg.DiagDir == "" {
		cfg.DiagDir = "."
	}
	if cfg.TraceFlight && cfg.TraceFlightFile == "" {
		cfg.TraceFlightFile = "flatbatch-flight.out"
	}
}

func displayHelp() {
	fmt.Println("flatbatch - Batch FlatBuffers binary to JSON converter")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  flatbatch [options]")
	fmt.Println("  flatbatch --mode files --schema <schema.fbs> [options] <binary>...")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  flatbatch --compiler ./flatc --schemas ./schemas --binaries ./data --output ./json")
	fmt.Println("  flatbatch --mode files --schema monster.fbs --files \"a.monster,b.monster\"")
	fmt.Println("  flatbatch --schemas ./schemas --binaries ./data --report run.csv --report-format csv")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	if _, ok := raw["concurrency_level"]; ok {
		cfg.ConcurrencySet = true
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	return nil
}

func (cfg *Config) validate() error {
	switch cfg.Mode {
	case ModeBatch:
		if len(cfg.BinaryFiles) > 0 || cfg.SchemaFile != "" {
			return fmt.Errorf("--schema and --files require --mode files")
		}
	case ModeFiles:
		if cfg.SchemasPath != "" || cfg.BinariesPath != "" {
			return fmt.Errorf("--schemas and --binaries require --mode batch")
		}
		if len(cfg.BinaryFiles) == 0 {
			return fmt.Errorf("files mode needs at least one binary (--files or positional arguments)")
		}
	default:
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.DuplicateSchemas != "first" && cfg.DuplicateSchemas != "reject" {
		return fmt.Errorf("invalid duplicate-schemas value: %s", cfg.DuplicateSchemas)
	}
	if cfg.ConcurrencyLevel < 0 || (cfg.ConcurrencySet && cfg.ConcurrencyLevel == 0) {
		return fmt.Errorf("concurrency level must be positive")
	}
	if cfg.NiceLevel != "high" && cfg.NiceLevel != "medium" && cfg.NiceLevel != "low" {
		return fmt.Errorf("invalid nice level: %s", cfg.NiceLevel)
	}
	if cfg.MaxSpawnPerSecond < 0 {
		return fmt.Errorf("max-spawn-per-second must be zero or positive")
	}
	if cfg.ResolverCacheSize <= 0 {
		return fmt.Errorf("resolver-cache-size must be positive")
	}
	if cfg.ProgressUnit != "bytes" && cfg.ProgressUnit != "count" {
		return fmt.Errorf("invalid progress unit: %s", cfg.ProgressUnit)
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	for _, algo := range cfg.HashAlgorithms {
		if !containsString(hasher.Supported, algo) {
			return fmt.Errorf("unsupported hash algorithm: %s", algo)
		}
	}
	if cfg.MmapMinSize < 0 {
		return fmt.Errorf("mmap-min-size must be zero or positive")
	}
	if cfg.ReportFormat != "json" && cfg.ReportFormat != "csv" {
		return fmt.Errorf("invalid report format: %s (json or csv)", cfg.ReportFormat)
	}
	if cfg.ReportMaxSize < 0 {
		return fmt.Errorf("report-max-size must be zero or positive")
	}
	if cfg.DiagStallThreshold < 0 {
		return fmt.Errorf("diag-stall-threshold must be zero or positive")
	}
	if cfg.TraceFlightMinAge < 0 {
		return fmt.Errorf("trace-flight-min-age must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	for _, item := range strings.Split(input, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(parts[1])
	}
	return headers
}

func normalizeAlgorithms(items []string) []string {
	normalized := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || containsString(normalized, item) {
			continue
		}
		normalized = append(normalized, item)
	}
	return normalized
}

func dropEmpty(items []string) []string {
	kept := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			kept = append(kept, item)
		}
	}
	return kept
}

func containsString(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}
