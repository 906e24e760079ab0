package batch

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCompiler writes <stem>.json into the -o directory from the binary
// bytes. Binaries named bad.* fail with a diagnostic on stderr.
const fakeCompiler = `#!/bin/sh
out=""; bin=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2;;
    --) bin="$2"; shift 2;;
    *) shift;;
  esac
done
name=$(basename "$bin")
stem="${name%.*}"
if [ "$stem" = "bad" ]; then
  echo "error: bad buffer $name" >&2
  exit 1
fi
mkdir -p "$out"
printf '{"payload": "%s"}\n' "$(cat "$bin")" > "$out/$stem.json"
`

func compilerScript(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script compiler requires a unix shell")
	}
	path := filepath.Join(t.TempDir(), "flatc")
	require.NoError(t, os.WriteFile(path, []byte(fakeCompiler), 0o755))
	return path
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type tree struct {
	schemas  string
	binaries string
	out      string
}

func newTree(t *testing.T) tree {
	t.Helper()
	dir := t.TempDir()
	tr := tree{
		schemas:  filepath.Join(dir, "schemas"),
		binaries: filepath.Join(dir, "bin"),
		out:      filepath.Join(dir, "out"),
	}
	for _, d := range []string{tr.schemas, tr.binaries, tr.out} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	return tr
}

func (tr tree) request(compiler string) BatchRequest {
	return BatchRequest{Compiler: compiler, SchemaRoot: tr.schemas, BinaryRoot: tr.binaries, OutputRoot: tr.out}
}

type stubPrompter struct {
	answers map[InputKind]string
	asked   []InputKind
}

func (p *stubPrompter) PromptForMissingInput(kind InputKind) (string, bool) {
	p.asked = append(p.asked, kind)
	path, ok := p.answers[kind]
	return path, ok
}

type stubResolver struct {
	path string
}

func (r stubResolver) ResolveCompiler(string) (string, bool) {
	return r.path, r.path != ""
}
