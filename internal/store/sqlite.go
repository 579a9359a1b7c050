package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/credoservice/advisor/internal/fsm"
)

type SQLiteStore struct {
	db              *sql.DB
	startingCredits int
}

func NewSQLiteStore(dataSourceName string, startingCredits int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, startingCredits: startingCredits}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS user_profiles (
        user_id TEXT PRIMARY KEY,
        display_name TEXT NOT NULL DEFAULT 'User',
        jurisdiction TEXT NOT NULL DEFAULT '',
        has_consent BOOLEAN NOT NULL DEFAULT FALSE,
        financial_data TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chat_sessions (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chat_messages (
        id TEXT PRIMARY KEY, -- UUID
        session_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (session_id) REFERENCES chat_sessions (id)
    );

    CREATE TABLE IF NOT EXISTS session_snapshots (
        session_id TEXT PRIMARY KEY,
        chat_state TEXT NOT NULL,
        diagnostic_data TEXT NOT NULL DEFAULT '{}',
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (session_id) REFERENCES chat_sessions (id)
    );

    CREATE TABLE IF NOT EXISTS user_credits (
        user_id TEXT PRIMARY KEY,
        balance INTEGER NOT NULL CHECK (balance >= 0)
    );

    CREATE TABLE IF NOT EXISTS user_documents (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        name TEXT NOT NULL,
        url TEXT NOT NULL,
        extracted_data TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByExternalID(externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (external_user_id, password_hash) VALUES (?, ?)", externalUserID, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(id)
}

func (s *SQLiteStore) getUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE id = ?", id).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Profile methods
func (s *SQLiteStore) GetProfile(userID string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRow("SELECT user_id, display_name, jurisdiction, has_consent, financial_data, created_at FROM user_profiles WHERE user_id = ?", userID).
		Scan(&p.UserID, &p.DisplayName, &p.Jurisdiction, &p.HasConsent, &p.FinancialData, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Profile not found
		}
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) SaveProfile(p *Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
        INSERT INTO user_profiles (user_id, display_name, jurisdiction, has_consent, financial_data, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            display_name = excluded.display_name,
            jurisdiction = excluded.jurisdiction,
            has_consent = excluded.has_consent,
            financial_data = excluded.financial_data`,
		p.UserID, p.DisplayName, p.Jurisdiction, p.HasConsent, p.FinancialData, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// Session methods
func (s *SQLiteStore) ActiveSession(userID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow("SELECT id, user_id, title, created_at FROM chat_sessions WHERE user_id = ? ORDER BY created_at DESC LIMIT 1", userID).
		Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No session yet
		}
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) CreateSession(userID, title string) (*Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec("INSERT INTO chat_sessions (id, user_id, title, created_at) VALUES (?, ?, ?, ?)",
		sess.ID, sess.UserID, sess.Title, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) SessionsByUserID(userID string) ([]Session, error) {
	rows, err := s.db.Query("SELECT id, user_id, title, created_at FROM chat_sessions WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *SQLiteStore) UpdateSessionTitle(sessionID, title string) error {
	res, err := s.db.Exec("UPDATE chat_sessions SET title = ? WHERE id = ?", title, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session title: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("session not found, title not updated")
	}
	return nil
}

// Message methods
func (s *SQLiteStore) AppendMessage(msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.Exec("INSERT INTO chat_messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Messages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query("SELECT id, session_id, role, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Snapshot methods
func (s *SQLiteStore) Snapshot(sessionID string) (*Snapshot, error) {
	var snap Snapshot
	var diagJSON string
	err := s.db.QueryRow("SELECT session_id, chat_state, diagnostic_data, updated_at FROM session_snapshots WHERE session_id = ?", sessionID).
		Scan(&snap.SessionID, &snap.ChatState, &diagJSON, &snap.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot yet
		}
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	snap.DiagnosticData = fsm.DiagnosticData{}
	if diagJSON != "" {
		if err := json.Unmarshal([]byte(diagJSON), &snap.DiagnosticData); err != nil {
			return nil, fmt.Errorf("failed to decode diagnostic data for session %s: %w", sessionID, err)
		}
	}
	return &snap, nil
}

func (s *SQLiteStore) SaveSnapshot(snap *Snapshot) error {
	diagJSON, err := json.Marshal(snap.DiagnosticData)
	if err != nil {
		return fmt.Errorf("failed to encode diagnostic data: %w", err)
	}
	snap.UpdatedAt = time.Now()
	_, err = s.db.Exec(`
        INSERT INTO session_snapshots (session_id, chat_state, diagnostic_data, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(session_id) DO UPDATE SET
            chat_state = excluded.chat_state,
            diagnostic_data = excluded.diagnostic_data,
            updated_at = excluded.updated_at`,
		snap.SessionID, snap.ChatState, string(diagJSON), snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// Credit methods. Initialization is lazy-idempotent: the first read creates
// the record with the starting grant via INSERT OR IGNORE so concurrent
// readers cannot double-initialize.
func (s *SQLiteStore) EnsureCredits(userID string) (int, error) {
	_, err := s.db.Exec("INSERT OR IGNORE INTO user_credits (user_id, balance) VALUES (?, ?)", userID, s.startingCredits)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize credits: %w", err)
	}
	var balance int
	err = s.db.QueryRow("SELECT balance FROM user_credits WHERE user_id = ?", userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to query credits: %w", err)
	}
	return balance, nil
}

// ConsumeCredit debits exactly one unit. The conditional UPDATE makes the
// read-then-write atomic: a zero balance is never decremented and a single
// transition can never double-charge.
func (s *SQLiteStore) ConsumeCredit(userID string) (bool, error) {
	if _, err := s.EnsureCredits(userID); err != nil {
		return false, err
	}
	res, err := s.db.Exec("UPDATE user_credits SET balance = balance - 1 WHERE user_id = ? AND balance > 0", userID)
	if err != nil {
		return false, fmt.Errorf("failed to consume credit: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// GrantCredits is the additive top-up used by the purchase flow.
func (s *SQLiteStore) GrantCredits(userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if _, err := s.EnsureCredits(userID); err != nil {
		return 0, err
	}
	_, err := s.db.Exec("UPDATE user_credits SET balance = balance + ? WHERE user_id = ?", amount, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to grant credits: %w", err)
	}
	var balance int
	err = s.db.QueryRow("SELECT balance FROM user_credits WHERE user_id = ?", userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to query credits after grant: %w", err)
	}
	return balance, nil
}

// Document methods
func (s *SQLiteStore) CreateDocument(doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.db.Exec("INSERT INTO user_documents (id, user_id, name, url, extracted_data, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		doc.ID, doc.UserID, doc.Name, doc.URL, doc.ExtractedData, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DocumentsByUserID(userID string) ([]Document, error) {
	rows, err := s.db.Query("SELECT id, user_id, name, url, extracted_data, created_at FROM user_documents WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Name, &doc.URL, &doc.ExtractedData, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
