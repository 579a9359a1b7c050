package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/credoservice/advisor/internal/fsm"
)

// GuestDisplayName marks a synthesized anonymous profile.
const GuestDisplayName = "Гость"

// guestBlob mirrors the browser's single-key session document: the full
// message list, conversation state and diagnostic answers in one JSON value,
// overwritten atomically on every mutation.
type guestBlob struct {
	Profile        Profile            `json:"profile"`
	Session        *Session           `json:"session"`
	Messages       []Message          `json:"messages"`
	ChatState      fsm.State          `json:"chat_state"`
	DiagnosticData fsm.DiagnosticData `json:"diagnostic_data"`
}

// GuestStore is the ephemeral ConversationStore for anonymous users. Nothing
// here survives a restart, and nothing here ever reaches the durable store:
// logging in starts a fresh session rather than migrating guest history.
type GuestStore struct {
	mu    sync.Mutex
	blobs map[string]string // guest user id -> serialized guestBlob
}

func NewGuestStore() *GuestStore {
	return &GuestStore{blobs: make(map[string]string)}
}

func (g *GuestStore) load(userID string) (*guestBlob, error) {
	raw, ok := g.blobs[userID]
	if !ok {
		return nil, nil
	}
	var blob guestBlob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return nil, fmt.Errorf("failed to decode guest session: %w", err)
	}
	return &blob, nil
}

func (g *GuestStore) save(userID string, blob *guestBlob) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to encode guest session: %w", err)
	}
	g.blobs[userID] = string(raw)
	return nil
}

func (g *GuestStore) loadOrInit(userID string) (*guestBlob, error) {
	blob, err := g.load(userID)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		blob = &guestBlob{
			Profile: Profile{
				UserID:      userID,
				DisplayName: GuestDisplayName,
				CreatedAt:   time.Now(),
			},
			ChatState:      fsm.InitialState,
			DiagnosticData: fsm.DiagnosticData{},
		}
	}
	return blob, nil
}

func (g *GuestStore) ActiveSession(userID string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	blob, err := g.load(userID)
	if err != nil || blob == nil {
		return nil, err
	}
	return blob.Session, nil
}

func (g *GuestStore) CreateSession(userID, title string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	blob, err := g.loadOrInit(userID)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now(),
	}
	// One active session per guest: a new session discards prior history.
	blob.Session = sess
	blob.Messages = nil
	blob.ChatState = fsm.InitialState
	blob.DiagnosticData = fsm.DiagnosticData{}
	if err := g.save(userID, blob); err != nil {
		return nil, err
	}
	return sess, nil
}

func (g *GuestStore) AppendMessage(msg *Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	userID, blob, err := g.findBySession(msg.SessionID)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	blob.Messages = append(blob.Messages, *msg)
	return g.save(userID, blob)
}

func (g *GuestStore) Messages(sessionID string) ([]Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, blob, err := g.findBySession(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]Message, len(blob.Messages))
	copy(out, blob.Messages)
	return out, nil
}

func (g *GuestStore) Snapshot(sessionID string) (*Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, blob, err := g.findBySession(sessionID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		SessionID:      sessionID,
		ChatState:      blob.ChatState,
		DiagnosticData: blob.DiagnosticData.Clone(),
	}, nil
}

func (g *GuestStore) SaveSnapshot(snap *Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	userID, blob, err := g.findBySession(snap.SessionID)
	if err != nil {
		return err
	}
	blob.ChatState = snap.ChatState
	blob.DiagnosticData = snap.DiagnosticData.Clone()
	return g.save(userID, blob)
}

func (g *GuestStore) GetProfile(userID string) (*Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	blob, err := g.loadOrInit(userID)
	if err != nil {
		return nil, err
	}
	profile := blob.Profile
	return &profile, nil
}

func (g *GuestStore) SaveProfile(profile *Profile) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	blob, err := g.loadOrInit(profile.UserID)
	if err != nil {
		return err
	}
	blob.Profile = *profile
	return g.save(profile.UserID, blob)
}

// Clear discards a guest's data, as an explicit login does.
func (g *GuestStore) Clear(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blobs, userID)
}

func (g *GuestStore) findBySession(sessionID string) (string, *guestBlob, error) {
	for userID, raw := range g.blobs {
		var blob guestBlob
		if err := json.Unmarshal([]byte(raw), &blob); err != nil {
			return "", nil, fmt.Errorf("failed to decode guest session: %w", err)
		}
		if blob.Session != nil && blob.Session.ID == sessionID {
			return userID, &blob, nil
		}
	}
	return "", nil, fmt.Errorf("guest session not found: %s", sessionID)
}
