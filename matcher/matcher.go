// Package matcher pairs binary payload files with the schema that applies
// to them. A schema "foo.fbs" applies to every binary whose extension is
// "foo", compared case-insensitively.
package matcher

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"flatbatch/logger"
	"flatbatch/utils"

	"golang.org/x/text/cases"
)

const (
	SchemaExt = ".fbs"
	OutputExt = ".json"
)

// Pair is one unit of conversion work. SchemaPath is empty when no schema
// matched and unmatched binaries were requested. ConflictsWith names the
// binary that already owns this pair's output path.
type Pair struct {
	BinaryPath    string `json:"binary_path"`
	SchemaPath    string `json:"schema_path,omitempty"`
	OutputDir     string `json:"output_dir"`
	ConflictsWith string `json:"conflicts_with,omitempty"`
}

func (p Pair) Matched() bool {
	return p.SchemaPath != ""
}

// OutputPath is where the compiler writes the JSON for this pair.
func (p Pair) OutputPath() string {
	stem, _ := splitExt(filepath.Base(p.BinaryPath))
	return filepath.Join(p.OutputDir, stem+OutputExt)
}

// splitExt splits name at its last dot. Leading dots belong to the stem,
// so ".monster" has no extension.
func splitExt(name string) (stem, ext string) {
	ext = filepath.Ext(strings.TrimLeft(name, "."))
	return name[:len(name)-len(ext)], ext
}

// FoldName case-folds a schema name or binary extension for comparison.
func FoldName(name string) string {
	return cases.Fold().String(name)
}

// IsSchema reports whether path names a schema file.
func IsSchema(path string) bool {
	_, ext := splitExt(filepath.Base(path))
	return FoldName(ext) == SchemaExt
}

// IsOutput reports whether path names a JSON output, which is never
// treated as a binary.
func IsOutput(path string) bool {
	_, ext := splitExt(filepath.Base(path))
	return FoldName(ext) == OutputExt
}

// SchemaName is the base name of a schema without its extension.
func SchemaName(schemaPath string) string {
	stem, _ := splitExt(filepath.Base(schemaPath))
	return stem
}

// BinaryExt is the extension of a binary without the leading dot.
func BinaryExt(binaryPath string) string {
	_, ext := splitExt(filepath.Base(binaryPath))
	return strings.TrimPrefix(ext, ".")
}

// ListSchemas lazily walks root and yields the absolute path of every
// schema file in traversal order.
func ListSchemas(ctx context.Context, root string) iter.Seq[string] {
	return func(yield func(string) bool) {
		abs, err := filepath.Abs(root)
		if err != nil {
			logger.Warnf("Failed to resolve schema root %s: %v", root, err)
			return
		}
		walkFiles(ctx, abs, func(path string) bool {
			if !IsSchema(path) {
				return true
			}
			return yield(path)
		})
	}
}

// MatchSchema returns the first schema in iteration order whose name equals
// the binary's extension.
func MatchSchema(binaryPath string, schemas iter.Seq[string]) (string, bool) {
	ext := BinaryExt(binaryPath)
	if ext == "" {
		return "", false
	}
	key := FoldName(ext)
	for schema := range schemas {
		if FoldName(SchemaName(schema)) == key {
			return schema, true
		}
	}
	return "", false
}

// ExpandBinaries turns input paths into individual binary paths. Files yield
// themselves, directories yield every file below them and missing inputs
// are passed through only when includeUnmatched is set. JSON files are never
// yielded.
func ExpandBinaries(ctx context.Context, inputs []string, includeUnmatched bool) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, input := range inputs {
			if ctx.Err() != nil {
				return
			}
			abs, err := filepath.Abs(input)
			if err != nil {
				logger.Warnf("Failed to resolve %s: %v", input, err)
				continue
			}
			info, err := os.Stat(abs)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					if includeUnmatched && !IsOutput(abs) && !yield(abs) {
						return
					}
					continue
				}
				logger.Warnf("Failed to access %s: %v", abs, err)
				continue
			}
			if !info.IsDir() {
				if !IsOutput(abs) && !yield(abs) {
					return
				}
				continue
			}
			stopped := false
			walkFiles(ctx, abs, func(path string) bool {
				if IsOutput(path) {
					return true
				}
				if !yield(path) {
					stopped = true
					return false
				}
				return true
			})
			if stopped {
				return
			}
		}
	}
}

// SortSchemas orders schema paths lexicographically so that ties between
// equal schema names resolve the same way on every run.
func SortSchemas(schemas []string) {
	slices.Sort(schemas)
}

// DuplicateSchemas groups schema paths sharing a case-folded name. Only
// names with more than one schema are returned.
func DuplicateSchemas(schemas []string) map[string][]string {
	byName := make(map[string][]string, len(schemas))
	for _, schema := range schemas {
		key := FoldName(SchemaName(schema))
		byName[key] = append(byName[key], schema)
	}
	for key, paths := range byName {
		if len(paths) < 2 {
			delete(byName, key)
		}
	}
	return byName
}

// OutputDir mirrors the binary's subdirectory below binaryRoot into
// outputRoot.
func OutputDir(binaryRoot, outputRoot, binaryPath string) string {
	return filepath.Join(outputRoot, utils.RelativeDir(binaryRoot, binaryPath))
}

// MarkOutputConflicts sets ConflictsWith on every matched pair whose output
// path was already claimed by an earlier pair, and returns how many were
// marked. Unmatched pairs never write output and claim nothing. Paths are
// compared exactly.
func MarkOutputConflicts(pairs []Pair) int {
	owners := make(map[string]string, len(pairs))
	marked := 0
	for i := range pairs {
		if !pairs[i].Matched() {
			continue
		}
		out := pairs[i].OutputPath()
		if owner, ok := owners[out]; ok {
			pairs[i].ConflictsWith = owner
			marked++
			continue
		}
		owners[out] = pairs[i].BinaryPath
	}
	return marked
}
