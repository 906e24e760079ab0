package batch

import "fmt"

// MessageKey names a user-facing message.
type MessageKey int

const (
	MsgNoSchemas MessageKey = iota
	MsgDuplicateSchema
	MsgUnmatchedBinary
	MsgConverted
	MsgUnchanged
	MsgFailed
	MsgSummary
	MsgOutputConflict
	MsgOutputInsideBinaries
)

// Messages renders user-facing text.
type Messages interface {
	Text(key MessageKey, args ...any) string
}

var englishFormats = map[MessageKey]string{
	MsgNoSchemas:            "No schemas found in %s",
	MsgDuplicateSchema:      "Schema name %q is defined by %d files; using %s",
	MsgUnmatchedBinary:      "No schema matches %s",
	MsgConverted:            "Converted %s -> %s",
	MsgUnchanged:            "Unchanged %s",
	MsgFailed:               "Failed %s (%s): %s",
	MsgSummary:              "Processed %d pairs: %d succeeded, %d changed, %d failed in %s",
	MsgOutputConflict:       "%s would overwrite %s written for %s; skipping it",
	MsgOutputInsideBinaries: "Output root %s is inside binary root %s; only its %s files are skipped as binaries",
}

// EnglishMessages is the built-in message table.
type EnglishMessages struct{}

func (EnglishMessages) Text(key MessageKey, args ...any) string {
	format, ok := englishFormats[key]
	if !ok {
		return fmt.Sprint(args...)
	}
	return fmt.Sprintf(format, args...)
}
