package session

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bootstrapBlob(t *testing.T, fields map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return "HERMES~" + base64.StdEncoding.EncodeToString(raw)
}

func TestImportBootstrapRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "auth"))

	ok := s.ImportBootstrap(bootstrapBlob(t, map[string]any{
		"noiseKey":          map[string]string{"private": "a", "public": "b"},
		"signedIdentityKey": map[string]string{"private": "c", "public": "d"},
		"signedPreKey":      map[string]string{"keyId": "1"},
		"registrationId":    7,
	}))
	require.True(t, ok)
	require.True(t, s.HasCreds())

	state, save, err := s.AuthState()
	require.NoError(t, err)
	require.NotNil(t, save)
	assert.Contains(t, state, "noiseKey")
	assert.Contains(t, state, "registrationId")
}

func TestImportBootstrapRejectsMalformed(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "auth"))

	assert.False(t, s.ImportBootstrap(""))
	assert.False(t, s.ImportBootstrap("no-separator"))
	assert.False(t, s.ImportBootstrap("LABEL~!!!not-base64!!!"))
	assert.False(t, s.ImportBootstrap("LABEL~"+base64.StdEncoding.EncodeToString([]byte("not json"))))

	// Missing a required key.
	assert.False(t, s.ImportBootstrap(bootstrapBlob(t, map[string]any{
		"noiseKey":          map[string]string{},
		"signedIdentityKey": map[string]string{},
	})))
	assert.False(t, s.HasCreds())
}

func TestSaveIsAtomic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "auth")
	s := NewStore(dir)
	require.NoError(t, s.Ensure())

	state, save, err := s.AuthState()
	require.NoError(t, err)
	state["noiseKey"] = json.RawMessage(`"x"`)
	require.NoError(t, save(state))

	// No leftover temp file after a successful save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "creds.json", entries[0].Name())
}

func TestUpdateMergesRefreshedKeys(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "auth")
	s := NewStore(dir)
	require.NoError(t, s.Ensure())

	require.NoError(t, s.Update(map[string]json.RawMessage{
		"noiseKey":       json.RawMessage(`"a"`),
		"registrationId": json.RawMessage(`7`),
	}))
	require.NoError(t, s.Update(map[string]json.RawMessage{
		"noiseKey": json.RawMessage(`"b"`),
	}))

	state, _, err := s.AuthState()
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"b"`), state["noiseKey"], "refreshed key replaced")
	assert.Equal(t, json.RawMessage(`7`), state["registrationId"], "untouched key kept")

	// An empty refresh never creates a credential file.
	empty := NewStore(filepath.Join(t.TempDir(), "auth2"))
	require.NoError(t, empty.Ensure())
	require.NoError(t, empty.Update(nil))
	assert.False(t, empty.HasCreds())
}

func TestAuthStateSurvivesCorruptFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "auth")
	s := NewStore(dir)
	require.NoError(t, s.Ensure())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "creds.json"), []byte("{broken"), 0o600))

	state, _, err := s.AuthState()
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestCleanup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "auth")
	s := NewStore(dir)
	require.True(t, s.ImportBootstrap(bootstrapBlob(t, map[string]any{
		"noiseKey":          1,
		"signedIdentityKey": 2,
		"signedPreKey":      3,
	})))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-state-sync-key-1.json"), []byte("{}"), 0o600))

	require.NoError(t, s.Cleanup())
	assert.False(t, s.HasCreds())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Cleanup of a missing directory is a no-op.
	assert.NoError(t, NewStore(filepath.Join(dir, "nope")).Cleanup())
}

func TestTokenEmptyWithoutCreds(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "auth"))
	assert.Empty(t, s.Token())

	require.True(t, s.ImportBootstrap(bootstrapBlob(t, map[string]any{
		"noiseKey":          1,
		"signedIdentityKey": 2,
		"signedPreKey":      3,
	})))
	assert.NotEmpty(t, s.Token())
}
