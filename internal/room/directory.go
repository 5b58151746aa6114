// Package room manages room documents in the remote store: creation by
// 6-digit code, lookup, and participant registration.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/sealroom/sealroom/internal/docstore"
	"github.com/sealroom/sealroom/internal/models"
)

// Collection is the document collection holding all rooms.
const Collection = "rooms"

var (
	ErrNotFound  = errors.New("room not found")
	ErrNameTaken = errors.New("name already exists in this room")
)

type Directory struct {
	store docstore.Store
	now   func() time.Time
}

func NewDirectory(store docstore.Store) *Directory {
	return &Directory{store: store, now: time.Now}
}

// Create writes a fresh room under a random 6-digit code and returns the
// code. Codes are not checked for collision; with the expected load the
// store's last-writer-wins overwrite is the accepted behavior.
func (d *Directory) Create(ctx context.Context) (string, error) {
	code := generateCode()
	doc := map[string]any{
		"created":      d.now().UnixMilli(),
		"messageCount": int64(0),
		"lastActivity": int64(0),
		"messages":     []any{},
		"participants": map[string]any{},
	}
	if err := d.store.Set(ctx, Collection, code, doc); err != nil {
		return "", fmt.Errorf("creating room: %w", err)
	}
	return code, nil
}

func generateCode() string {
	return strconv.Itoa(100000 + rand.Intn(900000))
}

// Join fetches the room for a code.
func (d *Directory) Join(ctx context.Context, code string) (*models.Room, error) {
	doc, err := d.store.Get(ctx, Collection, code)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return FromDoc(code, doc)
}

// Register claims a participant name, binding it to a public key. The
// participant set is re-read immediately before the write; two clients
// claiming the same name at the same instant can still both pass the
// check, in which case the later write's key wins.
func (d *Directory) Register(ctx context.Context, roomID, name, publicKey string) error {
	participants, err := d.Participants(ctx, roomID)
	if err != nil {
		return err
	}
	if _, taken := participants[name]; taken {
		return ErrNameTaken
	}
	fields := map[string]any{"participants." + name: publicKey}
	if err := d.store.Update(ctx, Collection, roomID, fields); err != nil {
		return fmt.Errorf("registering participant: %w", err)
	}
	return nil
}

// Participants returns a point-in-time read of the participant map.
func (d *Directory) Participants(ctx context.Context, roomID string) (map[string]string, error) {
	r, err := d.Join(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return r.Participants, nil
}

// FromDoc decodes a room document.
func FromDoc(id string, doc map[string]any) (*models.Room, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var r models.Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decoding room document: %w", err)
	}
	r.ID = id
	if r.Participants == nil {
		r.Participants = map[string]string{}
	}
	return &r, nil
}
