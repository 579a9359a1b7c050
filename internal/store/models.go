package store

import (
	"time"

	"github.com/credoservice/advisor/internal/fsm"
)

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

// Profile holds jurisdiction, consent and the accumulated diagnostic answers.
// Guests get a structurally identical profile that never touches the database.
type Profile struct {
	UserID        string    `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	Jurisdiction  string    `json:"jurisdiction"`
	HasConsent    bool      `json:"has_consent"`
	FinancialData string    `json:"financial_data,omitempty"` // serialized DiagnosticData
	CreatedAt     time.Time `json:"created_at"`
}

type Session struct {
	ID        string    `json:"id"` // UUID
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID        string    `json:"id"` // UUID
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the conversation state restored atomically at session load.
// It lives in its own table keyed by session id; messages carry no state.
type Snapshot struct {
	SessionID      string             `json:"session_id"`
	ChatState      fsm.State          `json:"chat_state"`
	DiagnosticData fsm.DiagnosticData `json:"diagnostic_data"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Credits is the metering record: one row per user, balance never below zero.
type Credits struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

// Document is an uploaded file with the data extracted by analysis.
type Document struct {
	ID            string    `json:"id"` // UUID
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	ExtractedData string    `json:"extracted_data"`
	CreatedAt     time.Time `json:"created_at"`
}

// ConversationStore is the persistence capability injected into the chat
// service. The durable SQLite backend serves authenticated users; the
// ephemeral guest backend serves anonymous sessions. The two never
// cross-write.
type ConversationStore interface {
	// ActiveSession resolves the most-recently-created session for the user,
	// or nil when none exists.
	ActiveSession(userID string) (*Session, error)
	CreateSession(userID, title string) (*Session, error)
	AppendMessage(msg *Message) error
	// Messages replays the transcript oldest-first.
	Messages(sessionID string) ([]Message, error)
	Snapshot(sessionID string) (*Snapshot, error)
	SaveSnapshot(snap *Snapshot) error
	GetProfile(userID string) (*Profile, error)
	SaveProfile(profile *Profile) error
}
