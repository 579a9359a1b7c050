package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/credoservice/advisor/internal/fsm"
	"github.com/credoservice/advisor/internal/llm"
	"github.com/credoservice/advisor/internal/store"
)

// Generator is the mockable boundary around every generative call the
// conversation makes. The Gemini-backed llm.LLMService implements it.
type Generator interface {
	Summarize(ctx context.Context, diag fsm.DiagnosticData, jurisdiction string) (llm.SummaryResult, error)
	Reply(ctx context.Context, profile fsm.Profile, history []store.Message, input string) (string, error)
	StreamReply(ctx context.Context, profile fsm.Profile, history []store.Message, input string, onToken func(string)) (string, error)
	AnalyzeScenario(ctx context.Context, scenario fsm.Scenario, answers map[string]string, jurisdiction string) (llm.SummaryResult, error)
	AnalyzeDocument(ctx context.Context, name, url string) (string, error)
	GenerateTitleForChat(chatSummary string) (string, error)
}

// Outcome is what one processed message produces, regardless of whether the
// remote orchestrator or the local interpreter did the work.
type Outcome struct {
	Text           string
	Options        []string
	NextState      fsm.State
	DiagnosticData fsm.DiagnosticData
	ProfileUpdates *fsm.ProfileUpdates
}

// Interpreter executes the conversation contract in-process. It is the
// mandatory correctness fallback: same states and transition triggers as the
// remote path, with only the wording allowed to differ.
type Interpreter struct {
	gen Generator
}

func NewInterpreter(gen Generator) *Interpreter {
	return &Interpreter{gen: gen}
}

// Process runs one FSM transition and performs any generative effect it asks
// for. Summary generation failures degrade to the fixed generic summary;
// free-chat generation failures propagate and the transition does not
// complete.
func (i *Interpreter) Process(ctx context.Context, profile fsm.Profile, snap *store.Snapshot, history []store.Message, input string) (*Outcome, error) {
	result := fsm.Transition(snap.ChatState, snap.DiagnosticData, input, profile)

	diag := snap.DiagnosticData.Clone()
	for k, v := range result.DataPatch {
		diag[k] = v
	}

	outcome := &Outcome{
		Text:           result.Text,
		Options:        result.Options,
		NextState:      result.NextState,
		DiagnosticData: diag,
		ProfileUpdates: result.ProfileUpdates,
	}

	switch result.Effect {
	case fsm.EffectSummary:
		summary, err := i.gen.Summarize(ctx, diag, profile.Jurisdiction)
		if err != nil {
			// The diagnostic transition never fails on generation problems.
			log.Printf("Summary generation failed, using generic fallback: %v", err)
			summary = llm.FallbackSummary()
		}
		outcome.Text = RenderSummary(summary)

	case fsm.EffectFreeChat:
		reply, err := i.gen.Reply(ctx, profile, history, input)
		if err != nil {
			return nil, fmt.Errorf("failed to generate chat reply: %w", err)
		}
		outcome.Text = reply
	}

	return outcome, nil
}

// RenderSummary flattens the structured synthesis into the transcript text.
func RenderSummary(s llm.SummaryResult) string {
	var b strings.Builder
	b.WriteString(s.Summary)
	b.WriteString("\n\nОсновные риски:\n")
	for n, risk := range s.Risks {
		fmt.Fprintf(&b, "%d. %s\n", n+1, risk)
	}
	b.WriteString("\nРекомендации:\n")
	for n, rec := range s.Recommendations {
		fmt.Fprintf(&b, "%d. %s\n", n+1, rec)
	}
	return strings.TrimSpace(b.String())
}
