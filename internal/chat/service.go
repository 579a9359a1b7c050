// Package chat coordinates one guided advisory conversation: content guard,
// usage metering, dual-mode execution and session persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/credoservice/advisor/internal/fsm"
	"github.com/credoservice/advisor/internal/guard"
	"github.com/credoservice/advisor/internal/store"
)

var (
	// ErrPIIBlocked: the message matched a PII pattern; nothing is persisted.
	ErrPIIBlocked = errors.New("message contains personal data and was not sent")
	// ErrInsufficientCredits: metering failed closed before any backend call.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrLoginRequired: the operation is not available to guest sessions.
	ErrLoginRequired = errors.New("login required")
	// ErrSessionNotFound: the session id does not belong to this identity.
	ErrSessionNotFound = errors.New("session not found")
)

// Identity selects the persistence backend for a request: durable for
// authenticated users, ephemeral for guests. One FSM implementation serves
// both; only the injected store differs.
type Identity struct {
	UserID string
	Guest  bool
}

// Service wires the conversation pipeline together.
type Service struct {
	durable  *store.SQLiteStore
	guests   *store.GuestStore
	executor *Executor
	gen      Generator
	guard    *guard.Guard
}

func NewService(durable *store.SQLiteStore, guests *store.GuestStore, executor *Executor, gen Generator, g *guard.Guard) *Service {
	return &Service{
		durable:  durable,
		guests:   guests,
		executor: executor,
		gen:      gen,
		guard:    g,
	}
}

func (s *Service) backend(id Identity) store.ConversationStore {
	if id.Guest {
		return s.guests
	}
	return s.durable
}

// ExecutorMode exposes the current execution strategy for health reporting.
func (s *Service) ExecutorMode() Mode {
	return s.executor.Mode()
}

// Profile loads the identity's profile, lazily creating it on first use. A
// storage failure degrades to a synthesized guest-like profile so the caller
// never hard-fails on a read.
func (s *Service) Profile(id Identity) *store.Profile {
	backend := s.backend(id)
	profile, err := backend.GetProfile(id.UserID)
	if err != nil {
		log.Printf("Profile fetch failed for %s, synthesizing fallback: %v", id.UserID, err)
		return &store.Profile{
			UserID:      id.UserID,
			DisplayName: store.GuestDisplayName,
			CreatedAt:   time.Now(),
		}
	}
	if profile == nil {
		profile = &store.Profile{
			UserID:      id.UserID,
			DisplayName: displayName(id),
			CreatedAt:   time.Now(),
		}
		if err := backend.SaveProfile(profile); err != nil {
			log.Printf("Profile create failed for %s: %v", id.UserID, err)
		}
	}
	return profile
}

// UpdateProfile applies direct edits (jurisdiction, consent) from the profile
// view.
func (s *Service) UpdateProfile(id Identity, jurisdiction *string, hasConsent *bool) (*store.Profile, error) {
	backend := s.backend(id)
	profile := s.Profile(id)
	if jurisdiction != nil {
		profile.Jurisdiction = *jurisdiction
	}
	if hasConsent != nil {
		profile.HasConsent = *hasConsent
	}
	if err := backend.SaveProfile(profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return profile, nil
}

// SessionView is the state a client needs to render a restored conversation.
type SessionView struct {
	Session  *store.Session  `json:"session"`
	Messages []store.Message `json:"messages"`
	Snapshot *store.Snapshot `json:"snapshot"`
}

// InitSession resolves the identity's active session, creating one with the
// greeting when none exists, and restores the snapshot atomically.
func (s *Service) InitSession(ctx context.Context, id Identity) (*SessionView, error) {
	backend := s.backend(id)

	sess, err := backend.ActiveSession(id.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active session: %w", err)
	}

	if sess == nil {
		sess, err = backend.CreateSession(id.UserID, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		greeting := &store.Message{
			SessionID: sess.ID,
			Role:      store.RoleAssistant,
			Content:   fsm.GreetingText,
		}
		if err := backend.AppendMessage(greeting); err != nil {
			return nil, fmt.Errorf("failed to store greeting: %w", err)
		}
		snap := &store.Snapshot{
			SessionID:      sess.ID,
			ChatState:      fsm.InitialState,
			DiagnosticData: fsm.DiagnosticData{},
		}
		if err := backend.SaveSnapshot(snap); err != nil {
			return nil, fmt.Errorf("failed to store initial snapshot: %w", err)
		}
		return &SessionView{Session: sess, Messages: []store.Message{*greeting}, Snapshot: snap}, nil
	}

	messages, err := backend.Messages(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	snap, err := s.snapshotOrDefault(backend, sess.ID)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: sess, Messages: messages, Snapshot: snap}, nil
}

// Sessions lists the identity's sessions most-recent-first.
func (s *Service) Sessions(id Identity) ([]store.Session, error) {
	if id.Guest {
		sess, err := s.guests.ActiveSession(id.UserID)
		if err != nil || sess == nil {
			return nil, err
		}
		return []store.Session{*sess}, nil
	}
	return s.durable.SessionsByUserID(id.UserID)
}

// SendResult is the outcome of one accepted message.
type SendResult struct {
	UserMessage      *store.Message `json:"user_message,omitempty"`
	AssistantMessage *store.Message `json:"assistant_message"`
	State            fsm.State      `json:"state"`
	Options          []string       `json:"options,omitempty"`
	Refusal          bool           `json:"refusal,omitempty"`
	Mode             string         `json:"mode"`
}

// SendMessage runs the full pipeline for one user message: content guard,
// metering on the paid path, dual-mode execution, profile side effects,
// snapshot persistence and transcript append.
func (s *Service) SendMessage(ctx context.Context, id Identity, sessionID, content, language string) (*SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("message content cannot be empty")
	}

	backend := s.backend(id)
	sess, err := s.ownedSession(backend, id, sessionID)
	if err != nil {
		return nil, err
	}

	snap, err := s.snapshotOrDefault(backend, sess.ID)
	if err != nil {
		return nil, err
	}

	// Content policy runs before anything touches a backend.
	if v := s.guard.Check(content); v != nil {
		if v.Kind == guard.ViolationPII {
			log.Printf("Blocked message with PII (%s) in session %s", v.Pattern, sess.ID)
			return nil, ErrPIIBlocked
		}
		return s.refuse(backend, sess.ID, snap, content)
	}

	// Metering: only authenticated free-chat interactions are paid.
	if !id.Guest && fsm.IsFreeChat(snap.ChatState) {
		ok, err := s.durable.ConsumeCredit(id.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to consume credit: %w", err)
		}
		if !ok {
			return nil, ErrInsufficientCredits
		}
	}

	profile := s.Profile(id)
	history, err := backend.Messages(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	userMsg := &store.Message{SessionID: sess.ID, Role: store.RoleUser, Content: content}
	if err := backend.AppendMessage(userMsg); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	outcome, err := s.executor.Process(ctx, id.UserID, language, toFSMProfile(profile), snap, history, content)
	if err != nil {
		// Free-chat generation failed on both paths; the transition does not
		// complete and no assistant message is persisted.
		return nil, err
	}

	if err := s.applyProfileUpdates(backend, profile, outcome.ProfileUpdates); err != nil {
		return nil, err
	}

	snap.ChatState = outcome.NextState
	snap.DiagnosticData = outcome.DiagnosticData
	if err := backend.SaveSnapshot(snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	assistantMsg := &store.Message{SessionID: sess.ID, Role: store.RoleAssistant, Content: outcome.Text}
	if err := backend.AppendMessage(assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}

	if !id.Guest && sess.Title == "" {
		go s.generateAndSaveTitle(sess.ID, content)
	}

	return &SendResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		State:            outcome.NextState,
		Options:          outcome.Options,
		Mode:             s.executor.Mode().String(),
	}, nil
}

// StreamMessage is the streaming variant of SendMessage for free-chat states
// in local mode: token chunks go to onToken while the placeholder renders,
// and only the finalized message is persisted. Outside free chat (or in
// remote mode, which has no streaming contract) it falls back to the regular
// pipeline and emits the final text as a single chunk.
func (s *Service) StreamMessage(ctx context.Context, id Identity, sessionID, content, language string, onToken func(string)) (*SendResult, error) {
	backend := s.backend(id)
	sess, err := s.ownedSession(backend, id, sessionID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshotOrDefault(backend, sess.ID)
	if err != nil {
		return nil, err
	}

	if !fsm.IsFreeChat(snap.ChatState) || s.executor.Mode() != ModeLocal {
		result, err := s.SendMessage(ctx, id, sessionID, content, language)
		if err != nil {
			return nil, err
		}
		if onToken != nil {
			onToken(result.AssistantMessage.Content)
		}
		return result, nil
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("message content cannot be empty")
	}
	if v := s.guard.Check(content); v != nil {
		if v.Kind == guard.ViolationPII {
			return nil, ErrPIIBlocked
		}
		return s.refuse(backend, sess.ID, snap, content)
	}
	if !id.Guest {
		ok, err := s.durable.ConsumeCredit(id.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to consume credit: %w", err)
		}
		if !ok {
			return nil, ErrInsufficientCredits
		}
	}

	profile := s.Profile(id)
	history, err := backend.Messages(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	userMsg := &store.Message{SessionID: sess.ID, Role: store.RoleUser, Content: content}
	if err := backend.AppendMessage(userMsg); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	text, err := s.gen.StreamReply(ctx, toFSMProfile(profile), history, content, onToken)
	if err != nil {
		// Abandoned placeholder: nothing persisted, reload re-synchronizes
		// from the last persisted state.
		return nil, fmt.Errorf("failed to stream chat reply: %w", err)
	}

	snap.ChatState = fsm.StateChat
	if err := backend.SaveSnapshot(snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	assistantMsg := &store.Message{SessionID: sess.ID, Role: store.RoleAssistant, Content: text}
	if err := backend.AppendMessage(assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}

	return &SendResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		State:            snap.ChatState,
		Mode:             s.executor.Mode().String(),
	}, nil
}

// RunScenario executes one deep-dive wizard completion: a metered generative
// analysis of the collected answers.
func (s *Service) RunScenario(ctx context.Context, id Identity, scenarioType fsm.ScenarioType, answers map[string]string) (*fsm.ScenarioResult, error) {
	if id.Guest {
		return nil, ErrLoginRequired
	}
	scenario, ok := fsm.ScenarioByType(scenarioType)
	if !ok {
		return nil, fmt.Errorf("unknown scenario: %s", scenarioType)
	}

	consumed, err := s.durable.ConsumeCredit(id.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume credit: %w", err)
	}
	if !consumed {
		return nil, ErrInsufficientCredits
	}

	profile := s.Profile(id)
	summary, err := s.gen.AnalyzeScenario(ctx, scenario, answers, profile.Jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze scenario: %w", err)
	}

	return &fsm.ScenarioResult{
		Scenario:        scenarioType,
		Answers:         answers,
		Summary:         summary.Summary,
		Risks:           summary.Risks,
		Recommendations: summary.Recommendations,
	}, nil
}

// AnalyzeDocument extracts financial data from an uploaded document, records
// it and acknowledges in the transcript.
func (s *Service) AnalyzeDocument(ctx context.Context, id Identity, sessionID, name, url string) (*store.Document, *store.Message, error) {
	backend := s.backend(id)
	sess, err := s.ownedSession(backend, id, sessionID)
	if err != nil {
		return nil, nil, err
	}

	extracted, err := s.gen.AnalyzeDocument(ctx, name, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to analyze document: %w", err)
	}

	doc := &store.Document{UserID: id.UserID, Name: name, URL: url, ExtractedData: extracted}
	if !id.Guest {
		if err := s.durable.CreateDocument(doc); err != nil {
			return nil, nil, fmt.Errorf("failed to store document: %w", err)
		}
	}

	ack := &store.Message{
		SessionID: sess.ID,
		Role:      store.RoleAssistant,
		Content: fmt.Sprintf("Я проанализировал ваш документ: **%s**. "+
			"На основе извлечённых данных могу дать более точные рекомендации. "+
			"Хотите разобрать результаты или продолжить с вопросами?", name),
	}
	if err := backend.AppendMessage(ack); err != nil {
		return nil, nil, fmt.Errorf("failed to store document acknowledgement: %w", err)
	}
	return doc, ack, nil
}

// Documents lists the identity's analyzed documents.
func (s *Service) Documents(id Identity) ([]store.Document, error) {
	if id.Guest {
		return nil, ErrLoginRequired
	}
	return s.durable.DocumentsByUserID(id.UserID)
}

// CreditBalance reads (and lazily initializes) the metering record. Guests
// are exempt from metering and always see a zero balance.
func (s *Service) CreditBalance(id Identity) (int, error) {
	if id.Guest {
		return 0, nil
	}
	return s.durable.EnsureCredits(id.UserID)
}

// GrantCredits is the additive top-up called by the purchase flow.
func (s *Service) GrantCredits(id Identity, amount int) (int, error) {
	if id.Guest {
		return 0, ErrLoginRequired
	}
	return s.durable.GrantCredits(id.UserID, amount)
}

// ClearGuest discards guest data on explicit login. Guest history is never
// migrated into the durable store.
func (s *Service) ClearGuest(guestUserID string) {
	s.guests.Clear(guestUserID)
}

// refuse appends the fixed refusal without advancing the conversation state.
// The user message and the refusal are both persisted: the refusal must
// document what it refused.
func (s *Service) refuse(backend store.ConversationStore, sessionID string, snap *store.Snapshot, content string) (*SendResult, error) {
	userMsg := &store.Message{SessionID: sessionID, Role: store.RoleUser, Content: content}
	if err := backend.AppendMessage(userMsg); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}
	refusal := &store.Message{SessionID: sessionID, Role: store.RoleAssistant, Content: fsm.RefusalText}
	if err := backend.AppendMessage(refusal); err != nil {
		return nil, fmt.Errorf("failed to store refusal message: %w", err)
	}
	return &SendResult{
		UserMessage:      userMsg,
		AssistantMessage: refusal,
		State:            snap.ChatState,
		Refusal:          true,
		Mode:             s.executor.Mode().String(),
	}, nil
}

func (s *Service) ownedSession(backend store.ConversationStore, id Identity, sessionID string) (*store.Session, error) {
	sess, err := backend.ActiveSession(id.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if sess == nil || sess.ID != sessionID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Service) snapshotOrDefault(backend store.ConversationStore, sessionID string) (*store.Snapshot, error) {
	snap, err := backend.Snapshot(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap == nil {
		snap = &store.Snapshot{
			SessionID:      sessionID,
			ChatState:      fsm.InitialState,
			DiagnosticData: fsm.DiagnosticData{},
		}
	}
	if snap.DiagnosticData == nil {
		snap.DiagnosticData = fsm.DiagnosticData{}
	}
	return snap, nil
}

func (s *Service) applyProfileUpdates(backend store.ConversationStore, profile *store.Profile, updates *fsm.ProfileUpdates) error {
	if updates == nil {
		return nil
	}
	if updates.HasConsent != nil {
		profile.HasConsent = *updates.HasConsent
	}
	if updates.Jurisdiction != nil {
		profile.Jurisdiction = *updates.Jurisdiction
	}
	if updates.FinancialData != nil {
		profile.FinancialData = *updates.FinancialData
	}
	if err := backend.SaveProfile(profile); err != nil {
		return fmt.Errorf("failed to apply profile updates: %w", err)
	}
	return nil
}

func (s *Service) generateAndSaveTitle(sessionID, basisContent string) {
	title, err := s.gen.GenerateTitleForChat(basisContent)
	if err != nil {
		log.Printf("Failed to generate title for session %s: %v", sessionID, err)
		return
	}
	title = strings.Trim(title, "\"'\n\r\t .")
	if err := s.durable.UpdateSessionTitle(sessionID, title); err != nil {
		log.Printf("Failed to save generated title %q for session %s: %v", title, sessionID, err)
	}
}

func toFSMProfile(p *store.Profile) fsm.Profile {
	return fsm.Profile{
		UserID:        p.UserID,
		DisplayName:   p.DisplayName,
		Jurisdiction:  p.Jurisdiction,
		HasConsent:    p.HasConsent,
		FinancialData: p.FinancialData,
	}
}

func displayName(id Identity) string {
	if id.Guest {
		return store.GuestDisplayName
	}
	return "User"
}
