package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlugin struct {
	desc     Descriptor
	runs     int
	loads    int
	unloads  int
	loadErr  error
	runErr   error
	lastLctx *LoadContext
}

func (f *fakePlugin) Descriptor() Descriptor { return f.desc }

func (f *fakePlugin) Run(ctx context.Context, pctx *Context) error {
	f.runs++
	return f.runErr
}

func (f *fakePlugin) OnLoad(ctx context.Context, lctx *LoadContext) error {
	f.loads++
	f.lastLctx = lctx
	return f.loadErr
}

func (f *fakePlugin) OnUnload() { f.unloads++ }

// withBuiltins swaps the global builtin set for one test.
func withBuiltins(t *testing.T, plugins ...Plugin) {
	t.Helper()
	old := builtins
	builtins = plugins
	t.Cleanup(func() { builtins = old })
}

func writeManifest(t *testing.T, dir, name string, enabled bool) {
	t.Helper()
	body := "name: " + name + "\nenabled: false\n"
	if enabled {
		body = "name: " + name + "\nenabled: true\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644))
}

func TestLoadCreatesSampleManifest(t *testing.T) {
	sample := &fakePlugin{desc: Descriptor{Name: "sample", Commands: []string{"sample"}}}
	withBuiltins(t, sample)

	dir := filepath.Join(t.TempDir(), "plugins")
	r := NewRegistry(dir)
	require.NoError(t, r.Load())

	_, err := os.Stat(filepath.Join(dir, "sample.yaml"))
	require.NoError(t, err, "missing directory gets a sample manifest")
	assert.Equal(t, 1, r.Len())
}

func TestManifestGatesLoading(t *testing.T) {
	a := &fakePlugin{desc: Descriptor{Name: "a", Commands: []string{"a"}}}
	b := &fakePlugin{desc: Descriptor{Name: "b", Commands: []string{"b"}}}
	withBuiltins(t, a, b)

	dir := t.TempDir()
	writeManifest(t, dir, "a", true)
	writeManifest(t, dir, "b", false)

	r := NewRegistry(dir)
	require.NoError(t, r.Load())

	_, ok := r.Lookup("a")
	assert.True(t, ok)
	_, ok = r.Lookup("b")
	assert.False(t, ok, "disabled manifest keeps the plugin out")
}

func TestDuplicateCommandFirstWins(t *testing.T) {
	first := &fakePlugin{desc: Descriptor{Name: "first", Commands: []string{"shared"}}}
	second := &fakePlugin{desc: Descriptor{Name: "second", Commands: []string{"shared", "other"}}}
	withBuiltins(t, first, second)

	dir := t.TempDir()
	writeManifest(t, dir, "first", true)
	writeManifest(t, dir, "second", true)

	r := NewRegistry(dir)
	require.NoError(t, r.Load())

	e, ok := r.Lookup("shared")
	require.True(t, ok)
	assert.Equal(t, "first", e.Desc.Name)

	// The whole later plugin is rejected, not just the colliding token.
	_, ok = r.Lookup("other")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestAliasLookupAndCollision(t *testing.T) {
	a := &fakePlugin{desc: Descriptor{Name: "a", Commands: []string{"acmd"}, Aliases: []string{"al"}}}
	b := &fakePlugin{desc: Descriptor{Name: "b", Commands: []string{"al"}}}
	withBuiltins(t, a, b)

	dir := t.TempDir()
	writeManifest(t, dir, "a", true)
	writeManifest(t, dir, "b", true)

	r := NewRegistry(dir)
	require.NoError(t, r.Load())

	e, ok := r.Lookup("al")
	require.True(t, ok)
	assert.Equal(t, "a", e.Desc.Name, "a's alias registered first; b rejected")
}

func TestForbiddenIdentifierRejected(t *testing.T) {
	bad := &fakePlugin{desc: Descriptor{Name: "bad", Commands: []string{"Has Space!"}}}
	withBuiltins(t, bad)

	dir := t.TempDir()
	writeManifest(t, dir, "bad", true)

	r := NewRegistry(dir)
	require.NoError(t, r.Load())
	assert.Equal(t, 0, r.Len())
}

func TestReloadAllIdempotent(t *testing.T) {
	a := &fakePlugin{desc: Descriptor{Name: "a", Commands: []string{"a"}}}
	withBuiltins(t, a)

	dir := t.TempDir()
	writeManifest(t, dir, "a", true)

	r := NewRegistry(dir)
	require.NoError(t, r.Load())
	require.NoError(t, r.ReloadAll(context.Background(), nil))
	require.NoError(t, r.ReloadAll(context.Background(), nil))

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 2, a.unloads)
}

func TestReloadReinvokesOnLoad(t *testing.T) {
	a := &fakePlugin{desc: Descriptor{Name: "a", Commands: []string{"a"}}}
	withBuiltins(t, a)

	dir := t.TempDir()
	writeManifest(t, dir, "a", true)

	r := NewRegistry(dir)
	require.NoError(t, r.Load())

	lctx := &LoadContext{}
	r.InvokeOnLoad(context.Background(), lctx)
	assert.Equal(t, 1, a.loads)

	require.NoError(t, r.ReloadAll(context.Background(), lctx))
	assert.Equal(t, 2, a.loads, "hooks run again after reload once loaded")
	assert.Equal(t, 1, a.unloads)
}

func TestStatsErrorWindow(t *testing.T) {
	a := &fakePlugin{desc: Descriptor{Name: "a", Commands: []string{"a"}}}
	withBuiltins(t, a)

	dir := t.TempDir()
	writeManifest(t, dir, "a", true)

	r := NewRegistry(dir)
	require.NoError(t, r.Load())
	e, _ := r.Lookup("a")

	for i := 0; i < 9; i++ {
		r.RecordRun(e, time.Millisecond, nil)
	}
	for i := 0; i < 11; i++ {
		r.RecordRun(e, time.Millisecond, assert.AnError)
	}
	assert.Equal(t, []string{"a"}, r.Unhealthy())

	// A healthy streak pushes the errors out of the window.
	for i := 0; i < 15; i++ {
		r.RecordRun(e, time.Millisecond, nil)
	}
	assert.Empty(t, r.Unhealthy())

	view := e.StatsView()
	assert.Equal(t, int64(35), view.Executions)
	assert.Equal(t, int64(11), view.Errors)
	assert.Equal(t, assert.AnError.Error(), view.LastError)
}
