package batch

import (
	"testing"

	"flatbatch/convert"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]convert.Result{
		{Outcome: convert.Success, Changed: true, BinarySize: 10},
		{Outcome: convert.Success, BinarySize: 5},
		{Outcome: convert.CompilerError, BinarySize: 1},
		{Outcome: convert.MissingSchema},
	})
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Changed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, int64(16), s.Bytes)
	assert.Equal(t, 1, s.ByOutcome[convert.CompilerError])
	assert.Equal(t, 1, s.ByOutcome[convert.MissingSchema])
}

func TestPoolSize(t *testing.T) {
	const gib = 1024 * 1024 * 1024
	probe := func(cpus int, total uint64) hostProbe {
		return func() (int, uint64) { return cpus, total }
	}
	assert.Equal(t, 3, poolSize(3, "low", probe(16, 64*gib)))
	assert.Equal(t, 16, poolSize(0, "high", probe(16, 64*gib)))
	assert.Equal(t, 8, poolSize(0, "medium", probe(16, 64*gib)))
	assert.Equal(t, 1, poolSize(0, "low", probe(16, 64*gib)))
	assert.Equal(t, 1, poolSize(0, "medium", probe(1, 0)))
	assert.Equal(t, 4, poolSize(0, "high", probe(16, 8*gib)))
	assert.Equal(t, 2, poolSize(0, "high", probe(16, 2*gib)))
	assert.Equal(t, 1, poolSize(0, "high", probe(0, 0)))
	assert.GreaterOrEqual(t, PoolSize(0, "high"), 1)
}

func TestEnglishMessages(t *testing.T) {
	m := EnglishMessages{}
	assert.Equal(t, "No schemas found in /s", m.Text(MsgNoSchemas, "/s"))
	assert.Equal(t, "Failed a.monster (compiler_error): boom", m.Text(MsgFailed, "a.monster", convert.CompilerError, "boom"))
	assert.Equal(t, "x", m.Text(MessageKey(99), "x"))
}
