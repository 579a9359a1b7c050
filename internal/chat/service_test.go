package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credoservice/advisor/internal/fsm"
	"github.com/credoservice/advisor/internal/guard"
	"github.com/credoservice/advisor/internal/llm"
	"github.com/credoservice/advisor/internal/remote"
	"github.com/credoservice/advisor/internal/store"
)

// newTestService wires a service on an in-memory database with the executor
// forced local by an unconfigured orchestrator client.
func newTestService(t *testing.T, startingCredits int, gen *fakeGen) *Service {
	t.Helper()
	durable, err := store.NewSQLiteStore(":memory:", startingCredits)
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })

	executor := NewExecutor(remote.NewClient("", ""), NewInterpreter(gen))
	return NewService(durable, store.NewGuestStore(), executor, gen, guard.New(nil))
}

func TestInitSessionCreatesGreeting(t *testing.T) {
	s := newTestService(t, 100, &fakeGen{})
	id := Identity{UserID: "alice"}

	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, store.RoleAssistant, view.Messages[0].Role)
	assert.Equal(t, fsm.GreetingText, view.Messages[0].Content)
	assert.Equal(t, fsm.InitialState, view.Snapshot.ChatState)

	// A second init restores the same session instead of creating one.
	again, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, view.Session.ID, again.Session.ID)
	assert.Len(t, again.Messages, 1)
}

func TestSendMessageAdvancesGuidedFlow(t *testing.T) {
	s := newTestService(t, 100, &fakeGen{})
	id := Identity{UserID: "alice"}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	res, err := s.SendMessage(context.Background(), id, view.Session.ID, "привет", "ru")
	require.NoError(t, err)
	assert.Equal(t, fsm.StateConsent, res.State)
	assert.Equal(t, fsm.ConsentRequestText, res.AssistantMessage.Content)
	assert.Equal(t, "local", res.Mode)

	res, err = s.SendMessage(context.Background(), id, view.Session.ID, "Да, согласен", "ru")
	require.NoError(t, err)
	assert.Equal(t, fsm.StateJurisdiction, res.State)

	// Consent reached the profile.
	profile := s.Profile(id)
	assert.True(t, profile.HasConsent)

	res, err = s.SendMessage(context.Background(), id, view.Session.ID, "Россия", "ru")
	require.NoError(t, err)
	assert.Equal(t, fsm.StateDiagnostic1, res.State)
	assert.NotEmpty(t, res.Options)
	assert.Equal(t, "Россия", s.Profile(id).Jurisdiction)
}

func TestSendMessagePIIBlocksWithoutPersisting(t *testing.T) {
	s := newTestService(t, 100, &fakeGen{})
	id := Identity{UserID: "alice"}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	_, err = s.SendMessage(context.Background(), id, view.Session.ID, "мой телефон +7 915 123-45-67", "ru")
	require.ErrorIs(t, err, ErrPIIBlocked)

	after, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, after.Messages, 1, "blocked content must leave the transcript untouched")
	assert.Equal(t, fsm.InitialState, after.Snapshot.ChatState)
}

func TestSendMessageProhibitedRefusesInPlace(t *testing.T) {
	s := newTestService(t, 100, &fakeGen{})
	id := Identity{UserID: "alice"}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	res, err := s.SendMessage(context.Background(), id, view.Session.ID, "как обмануть банк?", "ru")
	require.NoError(t, err)
	assert.True(t, res.Refusal)
	assert.Equal(t, fsm.RefusalText, res.AssistantMessage.Content)
	assert.Equal(t, fsm.InitialState, res.State, "refusal must not advance the conversation")

	after, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, after.Messages, 3, "the refused request and the refusal are both on record")
	assert.Equal(t, "как обмануть банк?", after.Messages[1].Content)
}

func TestFreeChatIsMetered(t *testing.T) {
	gen := &fakeGen{reply: "Вот мой совет."}
	s := newTestService(t, 1, gen)
	id := Identity{UserID: "alice"}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	// Jump the session straight to free chat.
	require.NoError(t, s.durable.SaveSnapshot(&store.Snapshot{
		SessionID:      view.Session.ID,
		ChatState:      fsm.StateChat,
		DiagnosticData: fsm.DiagnosticData{},
	}))

	res, err := s.SendMessage(context.Background(), id, view.Session.ID, "что посоветуешь?", "ru")
	require.NoError(t, err)
	assert.Equal(t, "Вот мой совет.", res.AssistantMessage.Content)

	balance, err := s.CreditBalance(id)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)

	_, err = s.SendMessage(context.Background(), id, view.Session.ID, "а ещё?", "ru")
	require.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, 1, gen.replyCalls, "an unpaid message must not reach generation")
}

func TestGuidedFlowIsNotMetered(t *testing.T) {
	s := newTestService(t, 0, &fakeGen{})
	id := Identity{UserID: "broke"}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	// Zero balance, but the guided flow costs nothing.
	_, err = s.SendMessage(context.Background(), id, view.Session.ID, "привет", "ru")
	require.NoError(t, err)
}

func TestGuestsAreExemptFromMetering(t *testing.T) {
	gen := &fakeGen{reply: "ответ"}
	s := newTestService(t, 0, gen)
	id := Identity{UserID: "guest_user", Guest: true}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, s.guests.SaveSnapshot(&store.Snapshot{
		SessionID:      view.Session.ID,
		ChatState:      fsm.StateChat,
		DiagnosticData: fsm.DiagnosticData{},
	}))

	res, err := s.SendMessage(context.Background(), id, view.Session.ID, "вопрос", "ru")
	require.NoError(t, err)
	assert.Equal(t, "ответ", res.AssistantMessage.Content)

	balance, err := s.CreditBalance(id)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestSendMessageRejectsForeignSession(t *testing.T) {
	s := newTestService(t, 100, &fakeGen{})
	id := Identity{UserID: "alice"}
	_, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	_, err = s.SendMessage(context.Background(), id, "not-my-session", "привет", "ru")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRunScenarioRequiresLogin(t *testing.T) {
	s := newTestService(t, 100, &fakeGen{})
	_, err := s.RunScenario(context.Background(), Identity{UserID: "guest_user", Guest: true}, fsm.ScenarioCredit, nil)
	assert.ErrorIs(t, err, ErrLoginRequired)
}

func TestRunScenarioMetersAndAnalyzes(t *testing.T) {
	gen := &fakeGen{summary: llm.SummaryResult{
		Summary:         "Ситуация управляемая.",
		Risks:           []string{"высокая нагрузка"},
		Recommendations: []string{"рефинансировать"},
	}}
	s := newTestService(t, 1, gen)
	id := Identity{UserID: "alice"}

	result, err := s.RunScenario(context.Background(), id, fsm.ScenarioCredit, map[string]string{"amount": "500000"})
	require.NoError(t, err)
	assert.Equal(t, "Ситуация управляемая.", result.Summary)
	assert.Equal(t, []string{"высокая нагрузка"}, result.Risks)

	balance, err := s.CreditBalance(id)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)

	_, err = s.RunScenario(context.Background(), id, fsm.ScenarioCredit, map[string]string{"amount": "500000"})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestFreeChatFailureLeavesTransitionIncomplete(t *testing.T) {
	gen := &fakeGen{replyErr: errors.New("model overloaded")}
	s := newTestService(t, 100, gen)
	id := Identity{UserID: "alice"}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, s.durable.SaveSnapshot(&store.Snapshot{
		SessionID:      view.Session.ID,
		ChatState:      fsm.StateChat,
		DiagnosticData: fsm.DiagnosticData{},
	}))

	_, err = s.SendMessage(context.Background(), id, view.Session.ID, "вопрос", "ru")
	require.Error(t, err)

	// The user message is on record but no assistant message was persisted.
	after, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)
	last := after.Messages[len(after.Messages)-1]
	assert.Equal(t, store.RoleUser, last.Role)
	assert.Equal(t, fsm.StateChat, after.Snapshot.ChatState)
}

func TestStreamMessageFallsBackOutsideFreeChat(t *testing.T) {
	s := newTestService(t, 100, &fakeGen{})
	id := Identity{UserID: "alice"}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	var tokens []string
	res, err := s.StreamMessage(context.Background(), id, view.Session.ID, "привет", "ru", func(tok string) {
		tokens = append(tokens, tok)
	})
	require.NoError(t, err)
	assert.Equal(t, fsm.StateConsent, res.State)
	require.Len(t, tokens, 1, "guided flow emits the final text as one chunk")
	assert.Equal(t, fsm.ConsentRequestText, tokens[0])
}

func TestStreamMessageStreamsFreeChat(t *testing.T) {
	gen := &fakeGen{reply: "Длинный совет."}
	s := newTestService(t, 100, gen)
	id := Identity{UserID: "alice"}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, s.durable.SaveSnapshot(&store.Snapshot{
		SessionID:      view.Session.ID,
		ChatState:      fsm.StateChat,
		DiagnosticData: fsm.DiagnosticData{},
	}))

	var tokens []string
	res, err := s.StreamMessage(context.Background(), id, view.Session.ID, "вопрос", "ru", func(tok string) {
		tokens = append(tokens, tok)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tokens)
	assert.Equal(t, "Длинный совет.", res.AssistantMessage.Content)

	after, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)
	last := after.Messages[len(after.Messages)-1]
	assert.Equal(t, "Длинный совет.", last.Content)
}

func TestAnalyzeDocumentPersistsForUsers(t *testing.T) {
	s := newTestService(t, 100, &fakeGen{})
	id := Identity{UserID: "alice"}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	doc, ack, err := s.AnalyzeDocument(context.Background(), id, view.Session.ID, "spravka.pdf", "https://files.example/spravka.pdf")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Contains(t, ack.Content, "spravka.pdf")

	docs, err := s.Documents(id)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestClearGuestDropsState(t *testing.T) {
	s := newTestService(t, 100, &fakeGen{})
	id := Identity{UserID: "guest_user", Guest: true}
	view, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)

	s.ClearGuest("guest_user")

	fresh, err := s.InitSession(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, view.Session.ID, fresh.Session.ID)
	assert.Len(t, fresh.Messages, 1)
}
