// Package projector maintains the locally visible state of a room: on
// every remote snapshot it rebuilds the decrypted, deduplicated, ordered
// timeline for the local identity from scratch. Nothing is patched
// incrementally, so the view can never drift from the document.
package projector

import (
	"errors"
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/sealroom/sealroom/internal/docstore"
	"github.com/sealroom/sealroom/internal/models"
	"github.com/sealroom/sealroom/internal/room"
	"github.com/sealroom/sealroom/internal/seal"
)

// DecryptFailedText is shown in place of a message that could not be
// opened; undecryptable envelopes are rendered, not dropped.
const DecryptFailedText = "Failed to decrypt"

// View is the complete presentation state for one room snapshot.
type View struct {
	RoomID    string `json:"roomId"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`

	Participants []string         `json:"participants"`
	Messages     []models.Message `json:"messages"`

	// MessageCount is the number of distinct messages addressed to the
	// local identity; before setup completes it falls back to TotalCount.
	MessageCount int `json:"messageCount"`
	// TotalCount counts every fan-out copy in the room.
	TotalCount int `json:"totalCount"`
}

// Project rebuilds the visible timeline for one identity: filter envelopes
// addressed to name, deduplicate by (timestamp, sender) with the last
// occurrence winning, sort ascending by timestamp, then decrypt each
// survivor. With no identity (name empty or key nil) it yields the
// placeholder state with only the raw counts filled in.
func Project(r *models.Room, name string, key seal.PrivateKey, cipher seal.Cipher) View {
	view := View{
		RoomID:       r.ID,
		Connected:    true,
		Participants: participantNames(r),
		TotalCount:   len(r.Messages),
	}
	if name == "" || key == nil {
		view.MessageCount = len(r.Messages)
		return view
	}
	view.Ready = true

	unique := make(map[string]models.Envelope)
	var order []string
	for _, envelope := range r.Messages {
		if envelope.Recipient != name {
			continue
		}
		k := strconv.FormatInt(envelope.Timestamp, 10) + "_" + envelope.Sender
		if _, seen := unique[k]; !seen {
			order = append(order, k)
		}
		unique[k] = envelope
	}

	envelopes := make([]models.Envelope, 0, len(unique))
	for _, k := range order {
		envelopes = append(envelopes, unique[k])
	}
	sort.SliceStable(envelopes, func(i, j int) bool {
		return envelopes[i].Timestamp < envelopes[j].Timestamp
	})

	for _, envelope := range envelopes {
		text, ok := cipher.Open(key, envelope.Encrypted)
		if !ok {
			text = DecryptFailedText
		}
		view.Messages = append(view.Messages, models.Message{
			Sender:    envelope.Sender,
			Text:      text,
			Timestamp: envelope.Timestamp,
			Own:       envelope.Sender == name,
			Decrypted: ok,
		})
	}
	view.MessageCount = len(envelopes)
	return view
}

func participantNames(r *models.Room) []string {
	names := make([]string, 0, len(r.Participants))
	for name := range r.Participants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Identity reports the local identity to project for, or ok == false while
// setup is incomplete.
type Identity func() (name string, key seal.PrivateKey, ok bool)

// Projector subscribes to one room document and emits a fresh View for
// every snapshot. The output channel is conflated: if the consumer lags,
// intermediate views are dropped and only the newest is kept.
type Projector struct {
	store    docstore.Store
	cipher   seal.Cipher
	identity Identity

	mu     sync.Mutex
	roomID string
	last   *models.Room
	closed bool
	out    chan View
	cancel func()
}

func New(store docstore.Store, cipher seal.Cipher, identity Identity) *Projector {
	return &Projector{store: store, cipher: cipher, identity: identity}
}

// Watch subscribes to the room document and starts emitting views. The
// mutex is not held across Subscribe because stores may deliver the initial
// snapshot synchronously.
func (p *Projector) Watch(roomID string) (<-chan View, error) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return nil, errors.New("projector already watching a room")
	}
	p.roomID = roomID
	out := make(chan View, 1)
	p.out = out
	p.closed = false
	p.last = nil
	p.mu.Unlock()

	cancel, err := p.store.Subscribe(room.Collection, roomID,
		func(doc map[string]any) { p.onSnapshot(roomID, doc) },
		func(err error) { p.onError(roomID, err) })
	if err != nil {
		p.mu.Lock()
		p.out = nil
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		// Stopped while subscribing.
		p.mu.Unlock()
		cancel()
		return out, nil
	}
	p.cancel = cancel
	p.mu.Unlock()
	return out, nil
}

func (p *Projector) onSnapshot(roomID string, doc map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.roomID != roomID {
		return
	}
	r, err := room.FromDoc(roomID, doc)
	if err != nil {
		log.Printf("projector: bad room document: %v", err)
		return
	}
	p.last = r
	p.emitLocked()
}

// onError degrades the view to a disconnected status indicator instead of
// surfacing the failure.
func (p *Projector) onError(roomID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.roomID != roomID {
		return
	}
	log.Printf("projector: subscription error: %v", err)
	p.push(View{RoomID: roomID, Connected: false})
}

// Refresh re-emits a view from the retained snapshot, for identity changes
// that happen between remote updates.
func (p *Projector) Refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.last == nil {
		return
	}
	p.emitLocked()
}

func (p *Projector) emitLocked() {
	name, key, ok := p.identity()
	if !ok {
		name, key = "", nil
	}
	p.push(Project(p.last, name, key, p.cipher))
}

func (p *Projector) push(view View) {
	for {
		select {
		case p.out <- view:
			return
		default:
			// Drop the unconsumed view; the newest one replaces it.
			select {
			case <-p.out:
			default:
			}
		}
	}
}

// Stop tears the subscription down and closes the output channel. No view
// is emitted after Stop returns. Idempotent.
func (p *Projector) Stop() {
	p.mu.Lock()
	if p.closed || p.out == nil {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	p.cancel = nil
	out := p.out
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(out)
}
