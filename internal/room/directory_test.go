package room

import (
	"context"
	"errors"
	"testing"

	"github.com/sealroom/sealroom/internal/docstore/memstore"
)

func TestCreate(t *testing.T) {
	dir := NewDirectory(memstore.New())
	code, err := dir.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if len(code) != 6 {
		t.Errorf("Expected 6-digit code, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Errorf("Expected numeric code, got %q", code)
		}
	}

	created, err := dir.Join(context.Background(), code)
	if err != nil {
		t.Fatalf("Join after Create failed: %v", err)
	}
	if created.MessageCount != 0 {
		t.Errorf("Expected zero messageCount, got %d", created.MessageCount)
	}
	if len(created.Participants) != 0 {
		t.Errorf("Expected empty participants, got %v", created.Participants)
	}
	if len(created.Messages) != 0 {
		t.Errorf("Expected empty messages, got %v", created.Messages)
	}
	if created.Created == 0 {
		t.Error("Expected created timestamp to be set")
	}
}

func TestJoinNotFound(t *testing.T) {
	dir := NewDirectory(memstore.New())
	if _, err := dir.Join(context.Background(), "999999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	dir := NewDirectory(memstore.New())
	ctx := context.Background()
	code, _ := dir.Create(ctx)

	if err := dir.Register(ctx, code, "Alice", "age1alicekey"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	participants, err := dir.Participants(ctx, code)
	if err != nil {
		t.Fatalf("Participants failed: %v", err)
	}
	if participants["Alice"] != "age1alicekey" {
		t.Errorf("Expected Alice's key, got %v", participants)
	}
}

func TestRegisterNameTaken(t *testing.T) {
	dir := NewDirectory(memstore.New())
	ctx := context.Background()
	code, _ := dir.Create(ctx)

	dir.Register(ctx, code, "Alice", "age1first")
	err := dir.Register(ctx, code, "Alice", "age1second")
	if !errors.Is(err, ErrNameTaken) {
		t.Errorf("Expected ErrNameTaken, got %v", err)
	}

	// The original key stays bound to the name.
	participants, _ := dir.Participants(ctx, code)
	if participants["Alice"] != "age1first" {
		t.Errorf("Expected first key to survive, got %q", participants["Alice"])
	}
}

func TestRegisterDistinctNames(t *testing.T) {
	dir := NewDirectory(memstore.New())
	ctx := context.Background()
	code, _ := dir.Create(ctx)

	dir.Register(ctx, code, "Alice", "age1a")
	dir.Register(ctx, code, "Bob", "age1b")

	participants, _ := dir.Participants(ctx, code)
	if len(participants) != 2 {
		t.Errorf("Expected 2 participants, got %v", participants)
	}
}

func TestRegisterRoomNotFound(t *testing.T) {
	dir := NewDirectory(memstore.New())
	err := dir.Register(context.Background(), "999999", "Alice", "age1a")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
