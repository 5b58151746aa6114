// Package fanout turns one plaintext message into one encrypted envelope
// per participant and appends them to the room in a single atomic update,
// so a partial envelope set is never visible mid-write.
package fanout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/sealroom/sealroom/internal/docstore"
	"github.com/sealroom/sealroom/internal/models"
	"github.com/sealroom/sealroom/internal/room"
	"github.com/sealroom/sealroom/internal/seal"
)

var (
	ErrEmptyRoom    = errors.New("no participants in this room yet")
	ErrNoRecipients = errors.New("failed to encrypt message for any participant")
)

type Encoder struct {
	store  docstore.Store
	dir    *room.Directory
	cipher seal.Cipher
	now    func() time.Time
}

func NewEncoder(store docstore.Store, dir *room.Directory, cipher seal.Cipher) *Encoder {
	return &Encoder{store: store, dir: dir, cipher: cipher, now: time.Now}
}

// Send fans text out to the room's current participants. The participant
// set is a point-in-time read: someone who registers after it completes
// simply does not receive this message. Recipients whose keys fail to
// encrypt are skipped and logged; the send fails only when nobody could be
// encrypted for. Returns the number of envelopes appended.
func (e *Encoder) Send(ctx context.Context, roomID, text, sender string) (int, error) {
	participants, err := e.dir.Participants(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if len(participants) == 0 {
		return 0, ErrEmptyRoom
	}

	timestamp := e.now().UnixMilli()
	var envelopes []any
	for name, publicKey := range participants {
		encrypted, err := e.cipher.EncryptFor(text, publicKey)
		if err != nil {
			log.Printf("fanout: encrypting for %q failed: %v", name, err)
			continue
		}
		doc, err := docstore.ToDoc(models.Envelope{
			ID:        newID(timestamp),
			Timestamp: timestamp,
			Encrypted: encrypted,
			Sender:    sender,
			Recipient: name,
		})
		if err != nil {
			return 0, err
		}
		envelopes = append(envelopes, doc)
	}
	if len(envelopes) == 0 {
		return 0, ErrNoRecipients
	}

	fields := map[string]any{
		"messages":     docstore.Union(envelopes...),
		"messageCount": docstore.Inc(int64(len(envelopes))),
		"lastActivity": timestamp,
	}
	if err := e.store.Update(ctx, room.Collection, roomID, fields); err != nil {
		return 0, fmt.Errorf("appending envelopes: %w", err)
	}
	return len(envelopes), nil
}

func newID(timestamp int64) string {
	token := make([]byte, 6)
	rand.Read(token)
	return strconv.FormatInt(timestamp, 10) + "_" + hex.EncodeToString(token)
}
