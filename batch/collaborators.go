package batch

import (
	"errors"

	"flatbatch/convert"
)

// ErrInputCanceled is returned when an input was missing and the user
// declined to supply it. It is not a failure.
var ErrInputCanceled = errors.New("input selection canceled")

// InputKind names the input a Prompter is asked for.
type InputKind string

const (
	InputCompiler   InputKind = "compiler"
	InputSchemaDir  InputKind = "schema directory"
	InputBinaryDir  InputKind = "binary directory"
	InputOutputDir  InputKind = "output directory"
	InputSchemaFile InputKind = "schema file"
)

// CompilerResolver locates the compiler when none was configured.
type CompilerResolver interface {
	ResolveCompiler(dir string) (string, bool)
}

// Prompter asks for a missing input. ok is false when the user cancels.
type Prompter interface {
	PromptForMissingInput(kind InputKind) (path string, ok bool)
}

// DefaultResolver searches dir and then PATH.
type DefaultResolver struct{}

func (DefaultResolver) ResolveCompiler(dir string) (string, bool) {
	return convert.ResolveCompiler(dir)
}

// NonInteractivePrompter cancels every prompt.
type NonInteractivePrompter struct{}

func (NonInteractivePrompter) PromptForMissingInput(InputKind) (string, bool) {
	return "", false
}
