// Package session orchestrates one client's room lifecycle: entering a
// room, identity setup and restoration, sending, and teardown. The
// Controller owns all mutable session state; every other component receives
// what it needs as explicit arguments.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sealroom/sealroom/internal/docstore"
	"github.com/sealroom/sealroom/internal/fanout"
	"github.com/sealroom/sealroom/internal/identity"
	"github.com/sealroom/sealroom/internal/models"
	"github.com/sealroom/sealroom/internal/projector"
	"github.com/sealroom/sealroom/internal/room"
	"github.com/sealroom/sealroom/internal/seal"
)

type State int

const (
	// StateNoRoom is the initial state: no room entered, no subscription.
	StateNoRoom State = iota
	// StateRoomSelected means a room is open but the local identity is not
	// set up; the timeline shows only placeholder state.
	StateRoomSelected
	// StateIdentityActive means the room is open and messages can be sent
	// and decrypted.
	StateIdentityActive
)

func (s State) String() string {
	switch s {
	case StateNoRoom:
		return "no_room"
	case StateRoomSelected:
		return "room_selected"
	case StateIdentityActive:
		return "identity_active"
	default:
		return "unknown"
	}
}

var (
	ErrNoRoom      = errors.New("no room entered")
	ErrNoIdentity  = errors.New("complete identity setup first")
	ErrInvalidCode = errors.New("room code must be 6 digits")
)

type Controller struct {
	store   docstore.Store
	dir     *room.Directory
	ids     *identity.Store
	cipher  seal.Cipher
	encoder *fanout.Encoder
	onView  func(projector.View)

	mu     sync.Mutex
	state  State
	roomID string
	name   string
	key    seal.PrivateKey
	proj   *projector.Projector
}

func NewController(store docstore.Store, dir *room.Directory, ids *identity.Store, cipher seal.Cipher, encoder *fanout.Encoder) *Controller {
	return &Controller{
		store:   store,
		dir:     dir,
		ids:     ids,
		cipher:  cipher,
		encoder: encoder,
		state:   StateNoRoom,
	}
}

// OnView registers the consumer for projector views. Set it before entering
// a room.
func (c *Controller) OnView(fn func(projector.View)) { c.onView = fn }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Controller) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// CreateRoom creates a fresh room and enters it.
func (c *Controller) CreateRoom(ctx context.Context) (string, error) {
	code, err := c.dir.Create(ctx)
	if err != nil {
		return "", err
	}
	if err := c.enter(ctx, code); err != nil {
		return "", err
	}
	return code, nil
}

// JoinRoom enters an existing room by code. On any failure the session
// stays where it was.
func (c *Controller) JoinRoom(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if !validCode(code) {
		return ErrInvalidCode
	}
	if _, err := c.dir.Join(ctx, code); err != nil {
		return err
	}
	return c.enter(ctx, code)
}

func validCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// enter tears down any previous room subscription, starts the live
// projector for the new room, and attempts silent identity restoration.
func (c *Controller) enter(ctx context.Context, roomID string) error {
	c.mu.Lock()
	prev := c.proj
	c.proj = nil
	c.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	proj := projector.New(c.store, c.cipher, c.currentIdentity)
	views, err := proj.Watch(roomID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.state = StateRoomSelected
	c.roomID = roomID
	c.name = ""
	c.key = nil
	c.proj = proj
	c.mu.Unlock()

	go c.forward(views)

	c.restore(ctx, roomID)
	return nil
}

func (c *Controller) forward(views <-chan projector.View) {
	for view := range views {
		if c.onView != nil {
			c.onView(view)
		}
	}
}

// currentIdentity is the projector's window into session state.
func (c *Controller) currentIdentity() (string, seal.PrivateKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdentityActive {
		return "", nil, false
	}
	return c.name, c.key, true
}

// restore attempts the silent fail-closed identity restoration: the stored
// identity must be complete, still registered in the room, and its key must
// still unlock. Any failure clears the stored entry and leaves the session
// in RoomSelected; nothing is surfaced to the caller.
func (c *Controller) restore(ctx context.Context, roomID string) {
	participants, err := c.dir.Participants(ctx, roomID)
	if err != nil {
		c.ids.Clear(roomID)
		return
	}
	ident, ok := c.ids.Restore(roomID, func(name string) bool {
		_, exists := participants[name]
		return exists
	})
	if !ok {
		return
	}

	parsed, err := c.cipher.ParsePrivateKey(ident.PrivateKey)
	var key seal.PrivateKey
	if err == nil {
		key, err = c.cipher.Unlock(parsed, ident.Passphrase)
	}
	if err != nil {
		c.ids.Clear(roomID)
		return
	}

	c.mu.Lock()
	if c.roomID != roomID {
		c.mu.Unlock()
		return
	}
	c.state = StateIdentityActive
	c.name = ident.Name
	c.key = key
	proj := c.proj
	c.mu.Unlock()
	proj.Refresh()
}

// SetupIdentity validates the supplied key material, claims the name in the
// room, persists the identity, and activates it. Failure at any step leaves
// the session state unchanged.
func (c *Controller) SetupIdentity(ctx context.Context, name, publicKey, privateKey, passphrase string) error {
	c.mu.Lock()
	state, roomID := c.state, c.roomID
	c.mu.Unlock()
	if state == StateNoRoom {
		return ErrNoRoom
	}

	name = strings.TrimSpace(name)
	publicKey = strings.TrimSpace(publicKey)
	privateKey = strings.TrimSpace(privateKey)
	if err := validateName(name); err != nil {
		return err
	}
	if publicKey == "" || privateKey == "" {
		return errors.New("name, public key, and private key are required")
	}
	if !seal.LooksLikePublicKey(publicKey) || !seal.LooksLikePrivateKey(privateKey) {
		return errors.New("invalid key format - check your keys")
	}

	parsed, err := c.cipher.ParsePrivateKey(privateKey)
	if err != nil {
		return err
	}
	key, err := c.cipher.Unlock(parsed, passphrase)
	if err != nil {
		return err
	}

	if err := c.dir.Register(ctx, roomID, name, publicKey); err != nil {
		return err
	}
	if err := c.ids.Save(roomID, models.Identity{Name: name, PrivateKey: privateKey, Passphrase: passphrase}); err != nil {
		return err
	}

	c.mu.Lock()
	if c.roomID != roomID {
		c.mu.Unlock()
		return errors.New("room changed during setup")
	}
	c.state = StateIdentityActive
	c.name = name
	c.key = key
	proj := c.proj
	c.mu.Unlock()
	proj.Refresh()
	return nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("name, public key, and private key are required")
	}
	// Names become document field paths; a dot would nest the participant
	// map.
	if strings.Contains(name, ".") {
		return errors.New("name must not contain '.'")
	}
	return nil
}

// AddParticipant registers someone else's public key in the current room.
func (c *Controller) AddParticipant(ctx context.Context, name, publicKey string) error {
	c.mu.Lock()
	state, roomID := c.state, c.roomID
	c.mu.Unlock()
	if state == StateNoRoom {
		return ErrNoRoom
	}

	name = strings.TrimSpace(name)
	publicKey = strings.TrimSpace(publicKey)
	if err := validateName(name); err != nil {
		return err
	}
	if publicKey == "" {
		return errors.New("name and public key are required")
	}
	if !seal.LooksLikePublicKey(publicKey) {
		return errors.New("invalid public key format")
	}
	return c.dir.Register(ctx, roomID, name, publicKey)
}

// EditIdentity returns to the setup form without touching persisted
// storage; leaving the room is what clears it.
func (c *Controller) EditIdentity() {
	c.mu.Lock()
	if c.state == StateIdentityActive {
		c.state = StateRoomSelected
		c.name = ""
		c.key = nil
	}
	proj := c.proj
	c.mu.Unlock()
	if proj != nil {
		proj.Refresh()
	}
}

// Send fans the text out to the room's participants.
func (c *Controller) Send(ctx context.Context, text string) (int, error) {
	c.mu.Lock()
	state, roomID, name := c.state, c.roomID, c.name
	c.mu.Unlock()
	if state != StateIdentityActive {
		return 0, ErrNoIdentity
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errors.New("message is empty")
	}
	return c.encoder.Send(ctx, roomID, text, name)
}

// LeaveRoom tears the subscription down first so no stale view reaches the
// UI, then clears the persisted identity for the room and resets to NoRoom.
// Leaving always succeeds.
func (c *Controller) LeaveRoom() {
	c.mu.Lock()
	proj := c.proj
	roomID := c.roomID
	c.mu.Unlock()
	if proj != nil {
		proj.Stop()
	}

	c.mu.Lock()
	if c.roomID == roomID {
		c.proj = nil
		c.roomID = ""
		c.name = ""
		c.key = nil
		c.state = StateNoRoom
	}
	c.mu.Unlock()

	if roomID != "" {
		c.ids.Clear(roomID)
	}
}
