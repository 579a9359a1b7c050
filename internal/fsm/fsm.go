// Package fsm implements the guided advisory conversation: a fixed sequence of
// states from greeting through consent, jurisdiction and seven diagnostic
// questions into free-form chat. Transition is a pure function so the same
// rules can be exercised by the local interpreter and verified against the
// remote orchestrator.
package fsm

import (
	"encoding/json"
	"strings"
)

// DiagnosticData maps step keys ("step_1".."step_7") to the literal answer
// text chosen or typed by the user. Append-only during a session.
type DiagnosticData map[string]string

func (d DiagnosticData) Clone() DiagnosticData {
	if d == nil {
		return DiagnosticData{}
	}
	out := make(DiagnosticData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Complete reports whether all seven diagnostic answers are present.
func (d DiagnosticData) Complete() bool {
	for i := 1; i <= NumDiagnosticSteps; i++ {
		if _, ok := d[StepKey(i)]; !ok {
			return false
		}
	}
	return true
}

// Encode serializes the answers for storage in profile.financialData.
func (d DiagnosticData) Encode() string {
	if len(d) == 0 {
		return "{}"
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Profile is the slice of the user profile the transition function consults.
type Profile struct {
	UserID        string
	DisplayName   string
	Jurisdiction  string
	HasConsent    bool
	FinancialData string
}

// ProfileUpdates carries the side effects a transition wants applied to the
// profile. Nil fields are untouched.
type ProfileUpdates struct {
	HasConsent    *bool
	Jurisdiction  *string
	FinancialData *string
}

// Effect tells the interpreter what generative work, if any, the transition
// needs. Generation is kept outside Transition so it stays pure.
type Effect int

const (
	// EffectNone: the rendered text in Result is final.
	EffectNone Effect = iota
	// EffectSummary: synthesize the diagnostic summary; on failure substitute
	// GenericSummaryText. The transition itself never fails.
	EffectSummary
	// EffectFreeChat: issue a generative chat reply seeded with the profile
	// preamble and the full transcript. This is the metered path.
	EffectFreeChat
)

// Result of a single transition.
type Result struct {
	NextState      State
	Text           string
	Options        []string
	DataPatch      DiagnosticData
	ProfileUpdates *ProfileUpdates
	Effect         Effect
}

// Transition maps (state, diagnostic answers, user input, profile) to the next
// state, the rendered assistant prompt and the side effects to apply. It is a
// pure function: identical arguments always yield an identical Result.
//
// Content policy checks run before this function and a violation leaves the
// state untouched, so Transition itself never sees rejected input.
func Transition(current State, diag DiagnosticData, input string, profile Profile) Result {
	switch current {
	case StateIntro:
		// Any input moves to the consent request.
		return Result{
			NextState: StateConsent,
			Text:      ConsentRequestText,
			Options:   []string{"Да, согласен", "Нет"},
		}

	case StateConsent:
		if isAffirmative(input) {
			consent := true
			return Result{
				NextState:      StateJurisdiction,
				Text:           JurisdictionRequestText,
				ProfileUpdates: &ProfileUpdates{HasConsent: &consent},
			}
		}
		return Result{
			NextState: StateIntro,
			Text:      ConsentRepromptText,
		}

	case StateJurisdiction:
		// Raw capture, no validation or trimming: the orchestrator contract
		// accepts free text and normalizes downstream.
		jurisdiction := input
		q, _ := QuestionForStep(1)
		return Result{
			NextState:      StateDiagnostic1,
			Text:           q.Text,
			Options:        q.Options,
			ProfileUpdates: &ProfileUpdates{Jurisdiction: &jurisdiction},
		}
	}

	if step, ok := DiagnosticStep(current); ok {
		// Last-write-wins: a restored answer for this step is overwritten.
		patch := DiagnosticData{StepKey(step): input}

		if step < NumDiagnosticSteps {
			next, _ := DiagnosticState(step + 1)
			q, _ := QuestionForStep(step + 1)
			return Result{
				NextState: next,
				Text:      q.Text,
				Options:   q.Options,
				DataPatch: patch,
			}
		}

		// Step 7: only the step count matters, any non-empty input completes
		// the diagnostic. The full answer set is persisted to the profile.
		complete := diag.Clone()
		complete[StepKey(step)] = input
		financial := complete.Encode()
		return Result{
			NextState:      StateSummary,
			DataPatch:      patch,
			ProfileUpdates: &ProfileUpdates{FinancialData: &financial},
			Effect:         EffectSummary,
		}
	}

	// SUMMARY, SCENARIOS, SCENARIO_RUN, CHAT: free-form chat. The absorbing
	// CHAT state is entered after the first free-form exchange.
	return Result{
		NextState: StateChat,
		Effect:    EffectFreeChat,
	}
}

func isAffirmative(input string) bool {
	lowered := strings.ToLower(input)
	for _, word := range consentAffirmatives {
		if strings.Contains(lowered, word) {
			return true
		}
	}
	return false
}
