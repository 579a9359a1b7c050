// Package llm wraps the Gemini client behind the small generative surface the
// conversation needs: diagnostic summaries, free-chat replies (with and
// without streaming), scenario analyses, document extraction and titles.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/credoservice/advisor/internal/config"
	"github.com/credoservice/advisor/internal/fsm"
	"github.com/credoservice/advisor/internal/store"
)

const (
	defaultChatModelName  = "gemini-1.5-flash-latest"
	defaultTitleModelName = "gemini-1.5-flash-latest"

	advisorSystemInstruction = "You are the CreditWise Advisor, an intelligent, unbiased, and systematic credit/financial advisor. " +
		"Your goal is to help users understand their financial situation (loans, debts, credit) and find potential solutions.\n\n" +
		"PRINCIPLES:\n" +
		"1. UNBIASED: You don't sell bank services. You give neutral advice.\n" +
		"2. JURISDICTION AWARE: If jurisdiction is unknown, your first priority is to clarify it.\n" +
		"3. CLEAR: Explain complex financial terms simply.\n" +
		"4. SOLUTION ORIENTED: Find ways out of debt (restructuring, bankruptcy, refinancing).\n" +
		"5. DATA PRIVACY: Acknowledge that data is processed only with consent."

	summarySystemInstruction = "You are a professional financial advisor. Always respond with valid JSON."

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."

	documentSystemInstruction = "You are a financial document parser."
)

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

type LLMService struct {
	client *genai.Client
}

func NewLLMService() *LLMService {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create GenAI client: %v", err)
	}

	return &LLMService{
		client: client,
	}
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		}
	}
}

// SummaryResult is the structured diagnostic synthesis: a short natural
// language summary with exactly three risks and three recommendations.
type SummaryResult struct {
	Summary         string   `json:"summary"`
	Risks           []string `json:"risks"`
	Recommendations []string `json:"recommendations"`
}

var fallbackSummary = SummaryResult{
	Summary: fsm.GenericSummaryText,
	Risks: []string{
		"Требуется детальный анализ",
		"Возможны дополнительные расходы",
		"Сроки могут варьироваться",
	},
	Recommendations: []string{
		"Проконсультируйтесь со специалистом",
		"Соберите необходимые документы",
		"Оцените все варианты",
	},
}

// FallbackSummary is the fixed generic result substituted when generation
// fails. The diagnostic transition itself never fails because of it.
func FallbackSummary() SummaryResult {
	return fallbackSummary
}

// Summarize synthesizes the diagnostic summary from the complete answer set.
func (s *LLMService) Summarize(ctx context.Context, diag fsm.DiagnosticData, jurisdiction string) (SummaryResult, error) {
	prompt := fmt.Sprintf(`You are a professional credit advisor. Based on the user's diagnostic answers, generate a comprehensive analysis.

User's jurisdiction: %s
Answers: %s

Generate a response in Russian with:
1. A concise summary (2-3 sentences)
2. Exactly 3 key risks
3. Exactly 3 actionable recommendations

Format as JSON: { "summary": "...", "risks": ["...", "...", "..."], "recommendations": ["...", "...", "..."] }`,
		orUnknown(jurisdiction), diag.Encode())

	text, err := s.generate(ctx, summarySystemInstruction, prompt)
	if err != nil {
		return SummaryResult{}, err
	}
	return parseSummary(text), nil
}

// AnalyzeScenario produces the wizard completion analysis, same shape as the
// diagnostic summary but scoped to one scenario's answers.
func (s *LLMService) AnalyzeScenario(ctx context.Context, scenario fsm.Scenario, answers map[string]string, jurisdiction string) (SummaryResult, error) {
	answersJSON, _ := json.Marshal(answers)
	prompt := fmt.Sprintf(`You are a professional credit advisor. Based on the user's answers for the "%s" scenario, generate a comprehensive analysis.

User's jurisdiction: %s
Scenario: %s
Answers: %s

Generate a response in Russian with:
1. A concise summary (2-3 sentences)
2. Exactly 3 key risks
3. Exactly 3 actionable recommendations

Format as JSON: { "summary": "...", "risks": ["...", "...", "..."], "recommendations": ["...", "...", "..."] }`,
		scenario.Title, orUnknown(jurisdiction), scenario.Type, string(answersJSON))

	text, err := s.generate(ctx, summarySystemInstruction, prompt)
	if err != nil {
		return SummaryResult{}, err
	}
	return parseSummary(text), nil
}

// parseSummary extracts the JSON payload, tolerating markdown fences. A
// non-JSON reply becomes the summary text with the fixed fallback lists.
func parseSummary(text string) SummaryResult {
	raw := text
	if match := jsonObjectPattern.FindString(text); match != "" {
		raw = match
	}
	var result SummaryResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil || result.Summary == "" {
		result = fallbackSummary
		result.Summary = strings.TrimSpace(text)
		if result.Summary == "" {
			result.Summary = fsm.GenericSummaryText
		}
		return result
	}
	if len(result.Risks) != 3 {
		result.Risks = fallbackSummary.Risks
	}
	if len(result.Recommendations) != 3 {
		result.Recommendations = fallbackSummary.Recommendations
	}
	return result
}

// Reply answers a free-chat message, seeded with the profile preamble and the
// full prior transcript.
func (s *LLMService) Reply(ctx context.Context, profile fsm.Profile, history []store.Message, input string) (string, error) {
	model := s.chatModel(profile)

	chatSession := model.StartChat()
	chatSession.History = historyToContents(history)

	resp, err := chatSession.SendMessage(ctx, genai.Text(input))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		log.Println("Gemini response was empty or had no valid candidates/parts.")
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// StreamReply is the streaming variant: each token chunk is handed to onToken
// as it arrives, and the accumulated final text is returned. Callers render
// chunks into a placeholder message that is never persisted; only the returned
// final text is.
func (s *LLMService) StreamReply(ctx context.Context, profile fsm.Profile, history []store.Message, input string, onToken func(string)) (string, error) {
	model := s.chatModel(profile)

	chatSession := model.StartChat()
	chatSession.History = historyToContents(history)

	iter := chatSession.SendMessageStream(ctx, genai.Text(input))
	var full strings.Builder
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", fmt.Errorf("gemini chat stream failed: %w", err)
		}
		chunk := responseText(resp)
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if onToken != nil {
			onToken(chunk)
		}
	}

	if full.Len() == 0 {
		return "", fmt.Errorf("empty streamed response from model")
	}
	return full.String(), nil
}

// AnalyzeDocument extracts key financial data from an uploaded document.
func (s *LLMService) AnalyzeDocument(ctx context.Context, name, url string) (string, error) {
	prompt := fmt.Sprintf(`Extract key financial data from this document. Return a JSON object with:
- document_type (e.g., invoice, bank_statement, id)
- extracted_entities (names, amounts, dates)
- summary (brief overview of the financial state shown)

Document: %s
URL: %s`, name, url)

	return s.generate(ctx, documentSystemInstruction, prompt)
}

func (s *LLMService) GenerateTitleForChat(chatSummary string) (string, error) {
	ctx := context.Background()
	model := s.client.GenerativeModel(defaultTitleModelName)

	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}

	temp := float32(0.3)
	maxTokens := int32(20)

	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	userPromptForTitle := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: \"%s\".", chatSummary)

	resp, err := model.GenerateContent(ctx, genai.Text(userPromptForTitle))
	if err != nil {
		return "", fmt.Errorf("gemini title generation request failed: %w", err)
	}

	title := responseText(resp)
	if title == "" {
		return "Chat", fmt.Errorf("LLM generated an empty title string")
	}
	return strings.Trim(title, "\"'\n\r\t ."), nil
}

func (s *LLMService) chatModel(profile fsm.Profile) *genai.GenerativeModel {
	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPreamble(profile))},
	}
	return model
}

// systemPreamble folds the user's jurisdiction, consent flag and diagnostic
// snapshot into the advisor instruction.
func systemPreamble(profile fsm.Profile) string {
	consent := "Not Granted"
	if profile.HasConsent {
		consent = "Granted"
	}
	financial := profile.FinancialData
	if financial == "" {
		financial = "No data yet"
	}
	return fmt.Sprintf("%s\n\nCONTEXT:\nUser Jurisdiction: %s\nUser Consent: %s\nFinancial Profile: %s",
		advisorSystemInstruction, orUnknown(profile.Jurisdiction), consent, financial)
}

func (s *LLMService) generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation request failed: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// historyToContents converts the persisted transcript into Gemini roles. The
// transcript is the literal conversation history replayed to every call.
func historyToContents(history []store.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range history {
		role := "user"
		if msg.Role == store.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return contents
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	return b.String()
}

func orUnknown(value string) string {
	if value == "" {
		return "Unknown"
	}
	return value
}
