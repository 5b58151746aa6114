package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sealroom/sealroom/internal/docstore"
	"github.com/sealroom/sealroom/internal/docstore/memstore"
	"github.com/sealroom/sealroom/internal/fanout"
	"github.com/sealroom/sealroom/internal/identity"
	"github.com/sealroom/sealroom/internal/projector"
	"github.com/sealroom/sealroom/internal/room"
	"github.com/sealroom/sealroom/internal/seal"
)

type fixture struct {
	store *memstore.Store
	dir   *room.Directory
	ids   *identity.Store
	ctrl  *Controller

	mu    sync.Mutex
	views []projector.View
}

// newFixture builds a controller over a shared store. Passing the same
// store and identity dir across fixtures simulates re-entry and second
// clients.
func newFixture(t *testing.T, store *memstore.Store, dataDir string) *fixture {
	t.Helper()
	ids, err := identity.NewStore(dataDir)
	if err != nil {
		t.Fatalf("identity.NewStore failed: %v", err)
	}
	cipher := seal.Age{}
	dir := room.NewDirectory(store)
	encoder := fanout.NewEncoder(store, dir, cipher)
	f := &fixture{store: store, dir: dir, ids: ids}
	f.ctrl = NewController(store, dir, ids, cipher, encoder)
	f.ctrl.OnView(func(view projector.View) {
		f.mu.Lock()
		f.views = append(f.views, view)
		f.mu.Unlock()
	})
	t.Cleanup(f.ctrl.LeaveRoom)
	return f
}

func (f *fixture) waitView(t *testing.T, match func(projector.View) bool) projector.View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, view := range f.views {
			if match(view) {
				f.mu.Unlock()
				return view
			}
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for matching view")
	return projector.View{}
}

func keypair(t *testing.T) seal.Keypair {
	t.Helper()
	pair, err := seal.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	return pair
}

func TestCreateRoomEntersRoomSelected(t *testing.T) {
	f := newFixture(t, memstore.New(), t.TempDir())

	code, err := f.ctrl.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("Expected 6-digit code, got %q", code)
	}
	if f.ctrl.State() != StateRoomSelected {
		t.Errorf("Expected RoomSelected, got %v", f.ctrl.State())
	}
	if f.ctrl.RoomID() != code {
		t.Errorf("Expected room %s, got %s", code, f.ctrl.RoomID())
	}
}

func TestJoinNonexistentRoomLeavesNoRoom(t *testing.T) {
	f := newFixture(t, memstore.New(), t.TempDir())

	err := f.ctrl.JoinRoom(context.Background(), "999999")
	if !errors.Is(err, room.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if f.ctrl.State() != StateNoRoom {
		t.Errorf("Expected NoRoom after failed join, got %v", f.ctrl.State())
	}
}

func TestJoinInvalidCode(t *testing.T) {
	f := newFixture(t, memstore.New(), t.TempDir())
	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		if err := f.ctrl.JoinRoom(context.Background(), code); !errors.Is(err, ErrInvalidCode) {
			t.Errorf("JoinRoom(%q): expected ErrInvalidCode, got %v", code, err)
		}
	}
}

func TestSetupIdentity(t *testing.T) {
	f := newFixture(t, memstore.New(), t.TempDir())
	ctx := context.Background()
	pair := keypair(t)

	code, _ := f.ctrl.CreateRoom(ctx)
	if err := f.ctrl.SetupIdentity(ctx, "Alice", pair.PublicKey, pair.PrivateKey, ""); err != nil {
		t.Fatalf("SetupIdentity failed: %v", err)
	}

	if f.ctrl.State() != StateIdentityActive {
		t.Errorf("Expected IdentityActive, got %v", f.ctrl.State())
	}
	if f.ctrl.Name() != "Alice" {
		t.Errorf("Expected name Alice, got %q", f.ctrl.Name())
	}

	participants, _ := f.dir.Participants(ctx, code)
	if participants["Alice"] != pair.PublicKey {
		t.Error("Expected public key registered in room")
	}
	if _, ok := f.ids.Load(code); !ok {
		t.Error("Expected identity persisted")
	}
}

func TestSetupIdentityValidation(t *testing.T) {
	f := newFixture(t, memstore.New(), t.TempDir())
	ctx := context.Background()
	pair := keypair(t)
	f.ctrl.CreateRoom(ctx)

	cases := []struct {
		name                        string
		partName, pub, priv, phrase string
	}{
		{"missing name", "", pair.PublicKey, pair.PrivateKey, ""},
		{"dotted name", "a.b", pair.PublicKey, pair.PrivateKey, ""},
		{"bad public key", "Alice", "ssh-rsa AAAA", pair.PrivateKey, ""},
		{"bad private key", "Alice", pair.PublicKey, "BEGIN PGP", ""},
	}
	for _, tc := range cases {
		if err := f.ctrl.SetupIdentity(ctx, tc.partName, tc.pub, tc.priv, tc.phrase); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if f.ctrl.State() != StateRoomSelected {
			t.Errorf("%s: state changed on failure to %v", tc.name, f.ctrl.State())
		}
	}
}

func TestSetupIdentityWrongPassphrase(t *testing.T) {
	f := newFixture(t, memstore.New(), t.TempDir())
	ctx := context.Background()
	pair := keypair(t)
	protected, err := seal.Protect(pair.PrivateKey, "correct")
	if err != nil {
		t.Fatalf("Protect failed: %v", err)
	}

	code, _ := f.ctrl.CreateRoom(ctx)
	err = f.ctrl.SetupIdentity(ctx, "Alice", pair.PublicKey, protected, "wrong")
	if !errors.Is(err, seal.ErrWrongPassphrase) {
		t.Errorf("Expected ErrWrongPassphrase, got %v", err)
	}
	if f.ctrl.State() != StateRoomSelected {
		t.Errorf("Expected state unchanged, got %v", f.ctrl.State())
	}
	// Nothing was registered or persisted.
	participants, _ := f.dir.Participants(ctx, code)
	if len(participants) != 0 {
		t.Error("Expected no registration after failed setup")
	}

	if err := f.ctrl.SetupIdentity(ctx, "Alice", pair.PublicKey, protected, "correct"); err != nil {
		t.Fatalf("SetupIdentity with correct passphrase failed: %v", err)
	}
	if f.ctrl.State() != StateIdentityActive {
		t.Errorf("Expected IdentityActive, got %v", f.ctrl.State())
	}
}

func TestSetupIdentityNameTaken(t *testing.T) {
	store := memstore.New()
	first := newFixture(t, store, t.TempDir())
	second := newFixture(t, store, t.TempDir())
	ctx := context.Background()

	code, _ := first.ctrl.CreateRoom(ctx)
	pairA := keypair(t)
	if err := first.ctrl.SetupIdentity(ctx, "Alice", pairA.PublicKey, pairA.PrivateKey, ""); err != nil {
		t.Fatalf("First setup failed: %v", err)
	}

	if err := second.ctrl.JoinRoom(ctx, code); err != nil {
		t.Fatalf("Second join failed: %v", err)
	}
	pairB := keypair(t)
	err := second.ctrl.SetupIdentity(ctx, "Alice", pairB.PublicKey, pairB.PrivateKey, "")
	if !errors.Is(err, room.ErrNameTaken) {
		t.Errorf("Expected ErrNameTaken, got %v", err)
	}
	if second.ctrl.State() != StateRoomSelected {
		t.Errorf("Expected second client without identity, got %v", second.ctrl.State())
	}

	// The first registration's key is untouched.
	participants, _ := first.dir.Participants(ctx, code)
	if participants["Alice"] != pairA.PublicKey {
		t.Error("Expected the first key to remain bound to the name")
	}
}

func TestSendScenario(t *testing.T) {
	// create room -> setup Alice -> add Bob -> send "hi" -> 2 envelopes,
	// each readable only by its recipient.
	f := newFixture(t, memstore.New(), t.TempDir())
	ctx := context.Background()
	cipher := seal.Age{}

	alice := keypair(t)
	bob := keypair(t)

	code, _ := f.ctrl.CreateRoom(ctx)
	if err := f.ctrl.SetupIdentity(ctx, "Alice", alice.PublicKey, alice.PrivateKey, ""); err != nil {
		t.Fatalf("SetupIdentity failed: %v", err)
	}
	if err := f.ctrl.AddParticipant(ctx, "Bob", bob.PublicKey); err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}

	sent, err := f.ctrl.Send(ctx, "hi")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sent != 2 {
		t.Errorf("Expected 2 envelopes, got %d", sent)
	}

	r, _ := f.dir.Join(ctx, code)
	if r.MessageCount != 2 {
		t.Errorf("Expected messageCount 2, got %d", r.MessageCount)
	}

	bobKey, _ := cipher.ParsePrivateKey(bob.PrivateKey)
	aliceKey, _ := cipher.ParsePrivateKey(alice.PrivateKey)
	for _, envelope := range r.Messages {
		matching, wrong := aliceKey, bobKey
		if envelope.Recipient == "Bob" {
			matching, wrong = bobKey, aliceKey
		}
		if text, ok := cipher.Open(matching, envelope.Encrypted); !ok || text != "hi" {
			t.Errorf("Envelope for %s unreadable by its recipient", envelope.Recipient)
		}
		if _, ok := cipher.Open(wrong, envelope.Encrypted); ok {
			t.Errorf("Envelope for %s readable by the wrong key", envelope.Recipient)
		}
	}

	// The local timeline shows the message once, decrypted.
	view := f.waitView(t, func(v projector.View) bool {
		return v.Ready && len(v.Messages) == 1
	})
	if view.Messages[0].Text != "hi" || !view.Messages[0].Own {
		t.Errorf("Expected own decrypted message in view, got %+v", view.Messages[0])
	}
	if view.MessageCount != 1 {
		t.Errorf("Expected 1 distinct message for Alice, got %d", view.MessageCount)
	}
	if view.TotalCount != 2 {
		t.Errorf("Expected 2 fan-out copies in total, got %d", view.TotalCount)
	}
}

func TestSendWithoutIdentity(t *testing.T) {
	f := newFixture(t, memstore.New(), t.TempDir())
	ctx := context.Background()
	f.ctrl.CreateRoom(ctx)

	if _, err := f.ctrl.Send(ctx, "hi"); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Expected ErrNoIdentity, got %v", err)
	}
}

func TestRestorationIdempotence(t *testing.T) {
	store := memstore.New()
	dataDir := t.TempDir()
	ctx := context.Background()
	pair := keypair(t)

	first := newFixture(t, store, dataDir)
	code, _ := first.ctrl.CreateRoom(ctx)
	if err := first.ctrl.SetupIdentity(ctx, "Alice", pair.PublicKey, pair.PrivateKey, ""); err != nil {
		t.Fatalf("SetupIdentity failed: %v", err)
	}

	// Same device re-enters the room: identity restores silently.
	second := newFixture(t, store, dataDir)
	if err := second.ctrl.JoinRoom(ctx, code); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if second.ctrl.State() != StateIdentityActive {
		t.Errorf("Expected restored identity, got %v", second.ctrl.State())
	}
	if second.ctrl.Name() != "Alice" {
		t.Errorf("Expected restored name Alice, got %q", second.ctrl.Name())
	}
}

func TestRestorationFailsClosedWhenNameRemoved(t *testing.T) {
	store := memstore.New()
	dataDir := t.TempDir()
	ctx := context.Background()
	pair := keypair(t)

	first := newFixture(t, store, dataDir)
	code, _ := first.ctrl.CreateRoom(ctx)
	first.ctrl.SetupIdentity(ctx, "Alice", pair.PublicKey, pair.PrivateKey, "")

	// The name disappears from the room behind our back.
	doc, _ := store.Get(ctx, room.Collection, code)
	doc["participants"] = map[string]any{}
	store.Set(ctx, room.Collection, code, doc)

	second := newFixture(t, store, dataDir)
	if err := second.ctrl.JoinRoom(ctx, code); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if second.ctrl.State() != StateRoomSelected {
		t.Errorf("Expected no identity after stale restore, got %v", second.ctrl.State())
	}
	if _, ok := second.ids.Load(code); ok {
		t.Error("Expected stale identity erased from storage")
	}
}

func TestEditIdentityKeepsStorage(t *testing.T) {
	f := newFixture(t, memstore.New(), t.TempDir())
	ctx := context.Background()
	pair := keypair(t)

	code, _ := f.ctrl.CreateRoom(ctx)
	f.ctrl.SetupIdentity(ctx, "Alice", pair.PublicKey, pair.PrivateKey, "")

	f.ctrl.EditIdentity()
	if f.ctrl.State() != StateRoomSelected {
		t.Errorf("Expected RoomSelected after edit, got %v", f.ctrl.State())
	}
	if _, ok := f.ids.Load(code); !ok {
		t.Error("Expected persisted identity to survive EditIdentity")
	}
}

func TestLeaveRoomClearsEverything(t *testing.T) {
	f := newFixture(t, memstore.New(), t.TempDir())
	ctx := context.Background()
	pair := keypair(t)

	code, _ := f.ctrl.CreateRoom(ctx)
	f.ctrl.SetupIdentity(ctx, "Alice", pair.PublicKey, pair.PrivateKey, "")

	f.ctrl.LeaveRoom()
	if f.ctrl.State() != StateNoRoom {
		t.Errorf("Expected NoRoom after leave, got %v", f.ctrl.State())
	}
	if f.ctrl.RoomID() != "" || f.ctrl.Name() != "" {
		t.Error("Expected session fields reset")
	}
	if _, ok := f.ids.Load(code); ok {
		t.Error("Expected persisted identity cleared on leave")
	}

	// No stale views after teardown.
	f.mu.Lock()
	seen := len(f.views)
	f.mu.Unlock()
	f.store.Update(ctx, room.Collection, code, map[string]any{"lastActivity": docstore.Inc(1)})
	time.Sleep(50 * time.Millisecond)
	f.mu.Lock()
	if len(f.views) != seen {
		t.Error("Expected no view deliveries after LeaveRoom")
	}
	f.mu.Unlock()

	// Leaving again is harmless.
	f.ctrl.LeaveRoom()
}
