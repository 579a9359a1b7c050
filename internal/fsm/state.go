package fsm

import "fmt"

// State is one step of the guided advisory conversation. The enumeration and
// its ordering are shared verbatim with the n8n orchestrator contract.
type State string

const (
	StateIntro        State = "INTRO"
	StateConsent      State = "CONSENT"
	StateJurisdiction State = "JURISDICTION"
	StateDiagnostic1  State = "DIAGNOSTIC_1"
	StateDiagnostic2  State = "DIAGNOSTIC_2"
	StateDiagnostic3  State = "DIAGNOSTIC_3"
	StateDiagnostic4  State = "DIAGNOSTIC_4"
	StateDiagnostic5  State = "DIAGNOSTIC_5"
	StateDiagnostic6  State = "DIAGNOSTIC_6"
	StateDiagnostic7  State = "DIAGNOSTIC_7"
	StateSummary      State = "SUMMARY"
	StateScenarios    State = "SCENARIOS"
	StateScenarioRun  State = "SCENARIO_RUN"
	StateChat         State = "CHAT"
)

// InitialState is where every new session starts.
const InitialState = StateIntro

// NumDiagnosticSteps is the fixed length of the diagnostic questionnaire.
const NumDiagnosticSteps = 7

var diagnosticStates = [NumDiagnosticSteps]State{
	StateDiagnostic1, StateDiagnostic2, StateDiagnostic3, StateDiagnostic4,
	StateDiagnostic5, StateDiagnostic6, StateDiagnostic7,
}

// DiagnosticStep returns the 1-based step number for a diagnostic state,
// or 0 and false for every other state.
func DiagnosticStep(s State) (int, bool) {
	for i, ds := range diagnosticStates {
		if ds == s {
			return i + 1, true
		}
	}
	return 0, false
}

// DiagnosticState returns the state for a 1-based diagnostic step number.
func DiagnosticState(step int) (State, error) {
	if step < 1 || step > NumDiagnosticSteps {
		return "", fmt.Errorf("diagnostic step out of range: %d", step)
	}
	return diagnosticStates[step-1], nil
}

// StepKey is the answer key used in DiagnosticData for a 1-based step number.
func StepKey(step int) string {
	return fmt.Sprintf("step_%d", step)
}

// IsFreeChat reports whether a state routes user input to free-form chat
// instead of the guided flow. CHAT is absorbing: once the diagnostic is done
// every message is a generative exchange.
func IsFreeChat(s State) bool {
	switch s {
	case StateSummary, StateScenarios, StateScenarioRun, StateChat:
		return true
	}
	return false
}

// Valid reports whether s is one of the known conversation states. Responses
// from the remote orchestrator are validated with this before being trusted.
func Valid(s State) bool {
	switch s {
	case StateIntro, StateConsent, StateJurisdiction, StateSummary,
		StateScenarios, StateScenarioRun, StateChat:
		return true
	}
	_, ok := DiagnosticStep(s)
	return ok
}
