package fsm

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestIntroAdvancesOnAnyInput(t *testing.T) {
	for _, input := range []string{"привет", "start", "?", "   "} {
		res := Transition(StateIntro, DiagnosticData{}, input, Profile{})
		if res.NextState != StateConsent {
			t.Errorf("input %q: expected CONSENT, got %s", input, res.NextState)
		}
		if res.Text != ConsentRequestText {
			t.Errorf("input %q: expected consent request text", input)
		}
	}
}

func TestConsentAffirmative(t *testing.T) {
	cases := []struct {
		input string
		yes   bool
	}{
		{"Да, согласен", true},
		{"да", true},
		{"ОК, давайте", true},
		{"yes please", true},
		{"Нет", false},
		{"не хочу", false},
		{"", false},
	}
	for _, tc := range cases {
		res := Transition(StateConsent, DiagnosticData{}, tc.input, Profile{})
		if tc.yes {
			if res.NextState != StateJurisdiction {
				t.Errorf("input %q: expected JURISDICTION, got %s", tc.input, res.NextState)
			}
			if res.ProfileUpdates == nil || res.ProfileUpdates.HasConsent == nil || !*res.ProfileUpdates.HasConsent {
				t.Errorf("input %q: expected consent recorded in profile updates", tc.input)
			}
		} else {
			if res.NextState != StateIntro {
				t.Errorf("input %q: expected INTRO reprompt, got %s", tc.input, res.NextState)
			}
			if res.ProfileUpdates != nil {
				t.Errorf("input %q: declined consent must not touch the profile", tc.input)
			}
		}
	}
}

func TestJurisdictionCapturedVerbatim(t *testing.T) {
	res := Transition(StateJurisdiction, DiagnosticData{}, "Россия, Москва", Profile{})
	if res.NextState != StateDiagnostic1 {
		t.Fatalf("expected DIAGNOSTIC_1, got %s", res.NextState)
	}
	if res.ProfileUpdates == nil || res.ProfileUpdates.Jurisdiction == nil {
		t.Fatal("expected jurisdiction profile update")
	}
	if got := *res.ProfileUpdates.Jurisdiction; got != "Россия, Москва" {
		t.Errorf("jurisdiction mangled: %q", got)
	}
	q, _ := QuestionForStep(1)
	if res.Text != q.Text {
		t.Errorf("expected first diagnostic question, got %q", res.Text)
	}
}

func TestDiagnosticWalkToSummary(t *testing.T) {
	answers := []string{
		"Получить кредит", "Да, есть", "Нет", "50-100к", "10-30к", "Средняя", "В течение недели",
	}

	state := StateDiagnostic1
	diag := DiagnosticData{}
	var final Result
	for i, answer := range answers {
		final = Transition(state, diag, answer, Profile{HasConsent: true})
		for k, v := range final.DataPatch {
			diag[k] = v
		}
		if i < len(answers)-1 {
			want, _ := DiagnosticState(i + 2)
			if final.NextState != want {
				t.Fatalf("after step %d expected %s, got %s", i+1, want, final.NextState)
			}
		}
		state = final.NextState
	}

	if final.NextState != StateSummary {
		t.Fatalf("expected SUMMARY after step 7, got %s", final.NextState)
	}
	if final.Effect != EffectSummary {
		t.Fatalf("expected summary effect, got %d", final.Effect)
	}
	if len(diag) != NumDiagnosticSteps {
		t.Fatalf("expected exactly %d answers, got %d: %v", NumDiagnosticSteps, len(diag), diag)
	}
	for i, answer := range answers {
		if diag[StepKey(i+1)] != answer {
			t.Errorf("%s: expected %q, got %q", StepKey(i+1), answer, diag[StepKey(i+1)])
		}
	}

	if final.ProfileUpdates == nil || final.ProfileUpdates.FinancialData == nil {
		t.Fatal("expected financial data persisted on completion")
	}
	var persisted map[string]string
	if err := json.Unmarshal([]byte(*final.ProfileUpdates.FinancialData), &persisted); err != nil {
		t.Fatalf("financial data is not valid JSON: %v", err)
	}
	if persisted[StepKey(7)] != "В течение недели" {
		t.Errorf("persisted answers incomplete: %v", persisted)
	}
}

func TestDiagnosticLastWriteWins(t *testing.T) {
	diag := DiagnosticData{StepKey(3): "старый ответ"}
	res := Transition(StateDiagnostic3, diag, "новый ответ", Profile{})
	if res.DataPatch[StepKey(3)] != "новый ответ" {
		t.Errorf("expected the restored answer to be overwritten, patch: %v", res.DataPatch)
	}
}

func TestTransitionIsPure(t *testing.T) {
	diag := DiagnosticData{StepKey(1): "цель"}
	snapshot := diag.Clone()
	profile := Profile{UserID: "u1", HasConsent: true, Jurisdiction: "RU"}

	first := Transition(StateDiagnostic2, diag, "Да, есть", profile)
	second := Transition(StateDiagnostic2, diag, "Да, есть", profile)

	if !reflect.DeepEqual(first, second) {
		t.Error("identical arguments produced different results")
	}
	if !reflect.DeepEqual(diag, snapshot) {
		t.Errorf("transition mutated its input: %v", diag)
	}
}

func TestFreeChatStatesAreAbsorbing(t *testing.T) {
	for _, s := range []State{StateSummary, StateScenarios, StateScenarioRun, StateChat} {
		res := Transition(s, DiagnosticData{}, "расскажи про рефинансирование", Profile{})
		if res.NextState != StateChat {
			t.Errorf("from %s: expected CHAT, got %s", s, res.NextState)
		}
		if res.Effect != EffectFreeChat {
			t.Errorf("from %s: expected free-chat effect", s)
		}
	}
}

func TestValid(t *testing.T) {
	for _, s := range []State{StateIntro, StateDiagnostic4, StateChat, StateScenarioRun} {
		if !Valid(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	for _, s := range []State{"", "DIAGNOSTIC_8", "banana", "intro"} {
		if Valid(State(s)) {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestCompleteRequiresAllSevenSteps(t *testing.T) {
	diag := DiagnosticData{}
	for i := 1; i <= NumDiagnosticSteps; i++ {
		if diag.Complete() {
			t.Fatalf("complete with only %d answers", i-1)
		}
		diag[StepKey(i)] = "x"
	}
	if !diag.Complete() {
		t.Error("expected complete after seven answers")
	}
}
