package convert

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// CompilerName is the executable looked up by ResolveCompiler.
const CompilerName = "flatc"

// CheckCompiler verifies that path is an existing, executable regular file.
func CheckCompiler(path string) error {
	if path == "" {
		return NewPreconditionError(ErrCompilerNotFound, path)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return NewPreconditionError(ErrCompilerNotFound, path)
	}
	if !isExecutable(path, info) {
		return NewPreconditionError(ErrCompilerNotExecutable, path)
	}
	return nil
}

// ResolveCompiler looks for the compiler in dir first and then on PATH.
func ResolveCompiler(dir string) (string, bool) {
	name := CompilerName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if dir != "" {
		candidate := filepath.Join(dir, name)
		if CheckCompiler(candidate) == nil {
			if abs, err := filepath.Abs(candidate); err == nil {
				return abs, true
			}
			return candidate, true
		}
	}
	found, err := exec.LookPath(CompilerName)
	if err != nil {
		return "", false
	}
	if abs, err := filepath.Abs(found); err == nil {
		return abs, true
	}
	return found, true
}
