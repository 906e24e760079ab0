package matcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestListSchemasFindsNestedCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Monster.fbs")
	touch(t, dir, filepath.Join("weapons", "Weapon.FBS"))
	touch(t, dir, "readme.txt")
	touch(t, dir, "monster.json")

	got := slices.Collect(ListSchemas(context.Background(), dir))
	slices.Sort(got)

	want := []string{
		filepath.Join(dir, "Monster.fbs"),
		filepath.Join(dir, "weapons", "Weapon.FBS"),
	}
	assert.Equal(t, want, got)
}

func TestListSchemasStopsEarly(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.fbs", "b.fbs", "c.fbs"} {
		touch(t, dir, name)
	}
	count := 0
	for range ListSchemas(context.Background(), dir) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestMatchSchemaByExtension(t *testing.T) {
	schemas := []string{"/s/Weapon.fbs", "/s/Monster.fbs"}

	schema, ok := MatchSchema("/b/a.monster", slices.Values(schemas))
	require.True(t, ok)
	assert.Equal(t, "/s/Monster.fbs", schema)

	schema, ok = MatchSchema("/b/sword.WEAPON", slices.Values(schemas))
	require.True(t, ok)
	assert.Equal(t, "/s/Weapon.fbs", schema)

	_, ok = MatchSchema("/b/c.level", slices.Values(schemas))
	assert.False(t, ok)

	_, ok = MatchSchema("/b/noext", slices.Values(schemas))
	assert.False(t, ok)
}

func TestMatchSchemaFirstWins(t *testing.T) {
	schemas := []string{"/s/b/monster.fbs", "/s/a/Monster.fbs"}
	schema, ok := MatchSchema("/b/a.monster", slices.Values(schemas))
	require.True(t, ok)
	assert.Equal(t, "/s/b/monster.fbs", schema)

	SortSchemas(schemas)
	schema, _ = MatchSchema("/b/a.monster", slices.Values(schemas))
	assert.Equal(t, "/s/a/Monster.fbs", schema)
}

func TestDuplicateSchemas(t *testing.T) {
	dups := DuplicateSchemas([]string{"/s/a/Monster.fbs", "/s/b/monster.fbs", "/s/Weapon.fbs"})
	require.Len(t, dups, 1)
	assert.ElementsMatch(t, []string{"/s/a/Monster.fbs", "/s/b/monster.fbs"}, dups["monster"])
}

func TestExpandBinaries(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, dir, "a.monster")
	b := touch(t, dir, filepath.Join("units", "b.monster"))
	touch(t, dir, filepath.Join("units", "b.json"))
	single := touch(t, t.TempDir(), "c.weapon")
	missing := filepath.Join(dir, "gone.weapon")

	ctx := context.Background()
	got := slices.Collect(ExpandBinaries(ctx, []string{dir, single, missing}, false))
	assert.ElementsMatch(t, []string{a, b, single}, got)

	got = slices.Collect(ExpandBinaries(ctx, []string{dir, single, missing}, true))
	assert.ElementsMatch(t, []string{a, b, single, missing}, got)
}

func TestExpandBinariesSkipsJSONInputs(t *testing.T) {
	dir := t.TempDir()
	out := touch(t, dir, "a.JSON")
	got := slices.Collect(ExpandBinaries(context.Background(), []string{out, filepath.Join(dir, "x.json")}, true))
	assert.Empty(t, got)
}

func TestPairOutputPath(t *testing.T) {
	p := Pair{BinaryPath: "/b/units/a.monster", SchemaPath: "/s/Monster.fbs", OutputDir: "/out/units"}
	assert.Equal(t, filepath.Join("/out/units", "a.json"), p.OutputPath())
	assert.True(t, p.Matched())
	assert.False(t, Pair{BinaryPath: "/b/c.weapon"}.Matched())
}

func TestLeadingDotIsPartOfName(t *testing.T) {
	schemas := []string{"/s/Monster.fbs"}
	_, ok := MatchSchema("/b/.monster", slices.Values(schemas))
	assert.False(t, ok, "a dotfile has no extension")
	assert.Equal(t, "", BinaryExt("/b/.monster"))
	assert.Equal(t, "monster", BinaryExt("/b/.hidden.monster"))

	p := Pair{BinaryPath: "/b/.monster", OutputDir: "/out"}
	assert.Equal(t, filepath.Join("/out", ".monster.json"), p.OutputPath())
	assert.False(t, IsSchema("/s/.fbs"))
	assert.True(t, IsSchema("/s/Monster.FBS"))
}

func TestFoldingAgreesAcrossMatchAndDuplicates(t *testing.T) {
	schemas := []string{"/s/a/STRASSE.fbs", "/s/b/straße.fbs"}
	dups := DuplicateSchemas(schemas)
	require.Len(t, dups, 1)
	assert.Len(t, dups[FoldName("Strasse")], 2)

	schema, ok := MatchSchema("/b/x.Straße", slices.Values(schemas[1:]))
	require.True(t, ok)
	assert.Equal(t, "/s/b/straße.fbs", schema)

	r, err := NewResolver(schemas[:1], 0)
	require.NoError(t, err)
	schema, ok = r.Match("/b/y.straße")
	require.True(t, ok)
	assert.Equal(t, "/s/a/STRASSE.fbs", schema)
}

func TestMarkOutputConflicts(t *testing.T) {
	pairs := []Pair{
		{BinaryPath: "/b/a.monster", SchemaPath: "/s/Monster.fbs", OutputDir: "/out"},
		{BinaryPath: "/b/a.weapon", SchemaPath: "/s/Weapon.fbs", OutputDir: "/out"},
		{BinaryPath: "/b/a.level", OutputDir: "/out"},
		{BinaryPath: "/b/x/a.monster", SchemaPath: "/s/Monster.fbs", OutputDir: "/out"},
		{BinaryPath: "/b/b.monster", SchemaPath: "/s/Monster.fbs", OutputDir: "/out"},
		{BinaryPath: "/b/A.monster", SchemaPath: "/s/Monster.fbs", OutputDir: "/out"},
	}

	assert.Equal(t, 2, MarkOutputConflicts(pairs))
	assert.Empty(t, pairs[0].ConflictsWith)
	assert.Equal(t, "/b/a.monster", pairs[1].ConflictsWith)
	assert.Empty(t, pairs[2].ConflictsWith, "unmatched pairs write nothing")
	assert.Equal(t, "/b/a.monster", pairs[3].ConflictsWith)
	assert.Empty(t, pairs[4].ConflictsWith)
	assert.Empty(t, pairs[5].ConflictsWith, "paths are compared exactly")
}

func TestOutputDirMirrorsTree(t *testing.T) {
	root := filepath.Join("/data", "bin")
	out := filepath.Join("/data", "out")
	assert.Equal(t, out, OutputDir(root, out, filepath.Join(root, "a.monster")))
	assert.Equal(t, filepath.Join(out, "units", "elite"),
		OutputDir(root, out, filepath.Join(root, "units", "elite", "b.monster")))
}

func TestResolverMemoizes(t *testing.T) {
	r, err := NewResolver([]string{"/s/Monster.fbs"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	for range 3 {
		schema, ok := r.Match("/b/x.Monster")
		require.True(t, ok)
		assert.Equal(t, "/s/Monster.fbs", schema)
	}
	_, ok := r.Match("/b/x.weapon")
	assert.False(t, ok)
	assert.Equal(t, 2, r.cache.Len())
}
