package convert

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCompiler(t *testing.T) {
	dir := t.TempDir()

	err := CheckCompiler(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, ErrCompilerNotFound)
	assert.True(t, IsPrecondition(err))

	require.ErrorIs(t, CheckCompiler(dir), ErrCompilerNotFound)
	require.ErrorIs(t, CheckCompiler(""), ErrCompilerNotFound)

	if runtime.GOOS == "windows" {
		t.Skip("executable bits are not used on windows")
	}
	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))
	require.ErrorIs(t, CheckCompiler(plain), ErrCompilerNotExecutable)

	exe := writeScript(t, "#!/bin/sh\n")
	assert.NoError(t, CheckCompiler(exe))
}

func TestResolveCompilerPrefersDirectory(t *testing.T) {
	exe := writeScript(t, "#!/bin/sh\n")
	t.Setenv("PATH", "")

	found, ok := ResolveCompiler(filepath.Dir(exe))
	require.True(t, ok)
	assert.Equal(t, exe, found)

	_, ok = ResolveCompiler(t.TempDir())
	assert.False(t, ok)
}

func TestPreconditionErrorMessage(t *testing.T) {
	err := NewPreconditionError(ErrMissingDirectory, "/data/schemas")
	assert.Equal(t, "directory not found: /data/schemas", err.Error())
	assert.Equal(t, "duplicate schema name", (&PreconditionError{Err: ErrDuplicateSchema}).Error())
}

func TestOutcomeText(t *testing.T) {
	for _, o := range Outcomes {
		text, err := o.MarshalText()
		require.NoError(t, err)
		var back Outcome
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, o, back)
	}
	assert.Equal(t, "missing_schema", MissingSchema.String())
	assert.False(t, Success.Failed())
	assert.True(t, Canceled.Failed())
	var o Outcome
	assert.Error(t, o.UnmarshalText([]byte("exploded")))
}
