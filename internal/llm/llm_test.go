package llm

import (
	"strings"
	"testing"

	"github.com/credoservice/advisor/internal/fsm"
)

func TestParseSummaryPlainJSON(t *testing.T) {
	text := `{"summary": "Ситуация стабильная.", "risks": ["р1", "р2", "р3"], "recommendations": ["п1", "п2", "п3"]}`
	result := parseSummary(text)
	if result.Summary != "Ситуация стабильная." {
		t.Errorf("summary: %q", result.Summary)
	}
	if len(result.Risks) != 3 || result.Risks[2] != "р3" {
		t.Errorf("risks: %v", result.Risks)
	}
}

func TestParseSummaryToleratesMarkdownFences(t *testing.T) {
	text := "```json\n{\"summary\": \"Кратко.\", \"risks\": [\"а\", \"б\", \"в\"], \"recommendations\": [\"г\", \"д\", \"е\"]}\n```"
	result := parseSummary(text)
	if result.Summary != "Кратко." {
		t.Errorf("summary not extracted from fenced block: %q", result.Summary)
	}
}

func TestParseSummaryWrongListLengthsFallBack(t *testing.T) {
	text := `{"summary": "Есть текст.", "risks": ["только один"], "recommendations": []}`
	result := parseSummary(text)
	if result.Summary != "Есть текст." {
		t.Errorf("summary: %q", result.Summary)
	}
	if len(result.Risks) != 3 {
		t.Errorf("risks must be padded to exactly three: %v", result.Risks)
	}
	if len(result.Recommendations) != 3 {
		t.Errorf("recommendations must be padded to exactly three: %v", result.Recommendations)
	}
}

func TestParseSummaryNonJSONBecomesSummaryText(t *testing.T) {
	result := parseSummary("Модель ответила прозой без JSON.")
	if !strings.Contains(result.Summary, "прозой") {
		t.Errorf("prose reply should become the summary: %q", result.Summary)
	}
	if len(result.Risks) != 3 || len(result.Recommendations) != 3 {
		t.Error("fallback lists must still have exactly three items")
	}
}

func TestFallbackSummaryShape(t *testing.T) {
	s := FallbackSummary()
	if s.Summary == "" || len(s.Risks) != 3 || len(s.Recommendations) != 3 {
		t.Errorf("fallback summary malformed: %+v", s)
	}
}

func TestSystemPreambleIncludesProfileContext(t *testing.T) {
	preamble := systemPreamble(fsm.Profile{
		UserID:        "u1",
		Jurisdiction:  "RU",
		HasConsent:    true,
		FinancialData: `{"step_1": "Получить кредит"}`,
	})
	for _, want := range []string{"User Jurisdiction: RU", "User Consent: Granted", `"step_1"`} {
		if !strings.Contains(preamble, want) {
			t.Errorf("preamble missing %q", want)
		}
	}

	empty := systemPreamble(fsm.Profile{UserID: "u2"})
	if !strings.Contains(empty, "User Jurisdiction: Unknown") {
		t.Error("unknown jurisdiction not marked")
	}
	if !strings.Contains(empty, "No data yet") {
		t.Error("missing financial data not marked")
	}
}
