// Package identity persists the local participant's key material, one
// identity per room, under a data directory. Files survive restarts on the
// same machine; nothing syncs across devices.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sealroom/sealroom/internal/models"
)

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating identity directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(roomID string) string {
	return filepath.Join(s.dir, "identity_"+roomID+".json")
}

// Save overwrites any previously stored identity for the room.
func (s *Store) Save(roomID string, ident models.Identity) error {
	data, err := json.Marshal(ident)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(roomID), data, 0600)
}

// Load returns the stored identity if it is structurally complete. A
// damaged or incomplete file is erased and reported absent.
func (s *Store) Load(roomID string) (models.Identity, bool) {
	data, err := os.ReadFile(s.path(roomID))
	if err != nil {
		return models.Identity{}, false
	}
	var ident models.Identity
	if err := json.Unmarshal(data, &ident); err != nil || ident.Name == "" || ident.PrivateKey == "" {
		s.Clear(roomID)
		return models.Identity{}, false
	}
	return ident, true
}

// Restore is the fail-closed load used on room re-entry: the identity must
// be structurally complete and its name must still be a participant of the
// room, otherwise the stored entry is erased and nothing is returned.
func (s *Store) Restore(roomID string, stillParticipant func(name string) bool) (models.Identity, bool) {
	ident, ok := s.Load(roomID)
	if !ok {
		return models.Identity{}, false
	}
	if !stillParticipant(ident.Name) {
		s.Clear(roomID)
		return models.Identity{}, false
	}
	return ident, true
}

// Clear removes the stored identity unconditionally.
func (s *Store) Clear(roomID string) {
	os.Remove(s.path(roomID))
}
