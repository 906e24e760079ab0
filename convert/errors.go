package convert

import (
	"errors"
	"fmt"
)

var (
	ErrCompilerNotFound      = errors.New("compiler not found")
	ErrCompilerNotExecutable = errors.New("compiler is not executable")
	ErrMissingDirectory      = errors.New("directory not found")
	ErrMissingSchemaFile     = errors.New("schema file not found")
	ErrDuplicateSchema       = errors.New("duplicate schema name")
	ErrOutputCollision       = errors.New("output path already claimed")
)

// PreconditionError aborts a whole batch before any pair runs.
type PreconditionError struct {
	Err  error
	Path string
}

func (e *PreconditionError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Path)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func NewPreconditionError(err error, path string) error {
	return &PreconditionError{Err: err, Path: path}
}

// IsPrecondition reports whether err aborted a batch before it started.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
