// Package session persists transport credential material across
// restarts as a directory of JSON files, and imports serialized
// bootstrap blobs so a prior session can be restored without
// interactive authentication.
package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const credsFile = "creds.json"

// Required key fields of a bootstrap blob. Anything missing one of
// these cannot authenticate and is rejected.
var requiredKeys = []string{"noiseKey", "signedIdentityKey", "signedPreKey"}

// Store is a file-backed credential store. The transport library owns
// the credential schema; the store only guarantees atomic persistence.
type Store struct {
	dir    string
	logger *log.Logger
}

// NewStore builds a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		logger: log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
	}
}

// Dir returns the credential directory path.
func (s *Store) Dir() string { return s.dir }

// Ensure creates the credential directory if absent.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return nil
}

// HasCreds reports whether stored credentials exist.
func (s *Store) HasCreds() bool {
	_, err := os.Stat(filepath.Join(s.dir, credsFile))
	return err == nil
}

// AuthState loads the current credential state and returns it along
// with a save callback the transport invokes on every refresh. Save is
// atomic: a crash between refreshes leaves the prior state usable.
func (s *Store) AuthState() (map[string]json.RawMessage, func(map[string]json.RawMessage) error, error) {
	state := make(map[string]json.RawMessage)
	raw, err := os.ReadFile(filepath.Join(s.dir, credsFile))
	if err == nil {
		if err := json.Unmarshal(raw, &state); err != nil {
			s.logger.Printf("⚠️ Stored creds unreadable, starting fresh: %v", err)
			state = make(map[string]json.RawMessage)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("read creds: %w", err)
	}
	return state, s.save, nil
}

// save writes the state to a temp file and renames it into place.
func (s *Store) save(state map[string]json.RawMessage) error {
	buf, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode creds: %w", err)
	}
	tmp := filepath.Join(s.dir, credsFile+".tmp")
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("write creds: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, credsFile)); err != nil {
		return fmt.Errorf("commit creds: %w", err)
	}
	return nil
}

// Update merges refreshed credential material into the stored state
// and persists it atomically. Only the keys present in state change;
// an empty refresh is a no-op.
func (s *Store) Update(state map[string]json.RawMessage) error {
	if len(state) == 0 {
		return nil
	}
	current, _, err := s.AuthState()
	if err != nil {
		return err
	}
	for k, v := range state {
		current[k] = v
	}
	return s.save(current)
}

// Token returns an opaque session token derived from the stored
// credentials for the gateway handshake, or "" when none exist.
func (s *Store) Token() string {
	raw, err := os.ReadFile(filepath.Join(s.dir, credsFile))
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// Cleanup removes all stored state. Invoked after an unrecoverable
// disconnect cause (bad session, logged out).
func (s *Store) Cleanup() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	s.logger.Printf("🧹 Session state cleared")
	return nil
}

// ImportBootstrap decodes a "label~base64(json)" blob and installs it
// as the current credential state. Invalid blobs fail softly: the
// caller proceeds to interactive authentication.
func (s *Store) ImportBootstrap(blob string) bool {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return false
	}

	parts := strings.SplitN(blob, "~", 2)
	if len(parts) != 2 || parts[1] == "" {
		s.logger.Printf("⚠️ Bootstrap blob missing label separator, ignoring")
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		s.logger.Printf("⚠️ Bootstrap blob is not valid base64: %v", err)
		return false
	}

	var state map[string]json.RawMessage
	if err := json.Unmarshal(decoded, &state); err != nil {
		s.logger.Printf("⚠️ Bootstrap blob is not valid JSON: %v", err)
		return false
	}
	for _, key := range requiredKeys {
		if _, ok := state[key]; !ok {
			s.logger.Printf("⚠️ Bootstrap blob missing %q, ignoring", key)
			return false
		}
	}

	if err := s.Ensure(); err != nil {
		s.logger.Printf("⚠️ Bootstrap import failed: %v", err)
		return false
	}
	if err := s.save(state); err != nil {
		s.logger.Printf("⚠️ Bootstrap import failed: %v", err)
		return false
	}
	s.logger.Printf("✅ Session imported from bootstrap blob (label=%s)", parts[0])
	return true
}
