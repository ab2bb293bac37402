package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/moneymitra/backend/internal/store"
)

// generateAttempts is deliberately fixed at 1: a failed generation is
// terminal for that send, so a rate-limited backend never gets hammered by
// automatic retries.
const generateAttempts = 1

const (
	outOfScopeStart = "[OUT_OF_SCOPE]"
	outOfScopeEnd   = "[END_OUT_OF_SCOPE]"
)

// ReplyRequest carries everything the stateless generator needs for one
// call; no context is retained between calls.
type ReplyRequest struct {
	Message      string
	Profile      store.Profile
	HistoryBlock string
}

type ReplyGenerator interface {
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)
}

// LLMService is the Gemini-backed reply generator.
type LLMService struct {
	client *genai.Client
	model  string
}

var _ ReplyGenerator = (*LLMService)(nil)

func NewLLMService(ctx context.Context, apiKey, model string) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client, model: model}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing GenAI client")
		}
	}
}

// GenerateReply runs one generation call and normalizes the outcome: an
// out-of-scope wrapper is unwrapped to its inner text, and a blank reply is
// reported as a fault rather than returned.
func (s *LLMService) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	model := s.client.GenerativeModel(s.model)
	prompt := buildPrompt(req)

	var resp *genai.GenerateContentResponse
	var err error
	for attempt := 1; attempt <= generateAttempts; attempt++ {
		resp, err = model.GenerateContent(ctx, genai.Text(prompt))
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", ClassifyGenerationError(err)
	}

	text := collectText(resp)
	if strings.TrimSpace(text) == "" {
		return "", &GenerationFault{Kind: FaultEmptyReply, Err: fmt.Errorf("empty response from model")}
	}

	return unwrapOutOfScope(text), nil
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

// unwrapOutOfScope strips the generator's out-of-scope wrapper markers,
// surfacing only the redirect text between them.
func unwrapOutOfScope(text string) string {
	start := strings.Index(text, outOfScopeStart)
	end := strings.Index(text, outOfScopeEnd)
	if start < 0 || end < 0 || end < start {
		return text
	}
	return strings.TrimSpace(text[start+len(outOfScopeStart) : end])
}

func goalLabel(goal string) string {
	switch goal {
	case "save", "Save Money":
		return "Save Money"
	case "debt", "Manage Debt":
		return "Manage Debt"
	default:
		return "Learn Financial Basics"
	}
}

func buildSystemPrompt(p store.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are MoneyMitra, a personalized financial advisor chatbot. You provide tailored financial advice based on the user's profile.

User Profile:
- Occupation: %s
- Age Group: %s
- Primary Goal: %s

CRITICAL: If the user's question is NOT related to finance, money, budgeting, investments, savings, debt, or personal finance topics, respond with EXACTLY:

%s
I'm MoneyMitra, a financial advisor chatbot designed specifically to help with financial questions. Your question seems to be outside my area of expertise.

Please ask me questions about:
- Personal budgeting and saving strategies
- Debt management and repayment plans
- Investment basics
- Emergency funds
- Financial goals and planning
- Money management tips

Feel free to ask any financial question, and I'll provide personalized advice for your situation!
%s

Also respond with the %s message above if the question is too vague or unclear.

For all valid financial questions, format responses using markdown for clarity and readability.

Guidelines for your responses:
1. Use markdown formatting with bold key terms
2. Organize with bullet points and numbered action steps
3. Personalize advice based on the user's occupation and age group
4. Use simple, easy-to-understand language and explain terms clearly
5. Provide actionable, practical advice with concrete examples
6. Consider the user's financial goal when recommending anything
7. Be encouraging and supportive
8. Mention that you are an educational tool, not a replacement for professional advice
`, p.Occupation, p.AgeGroup, goalLabel(p.Goal), outOfScopeStart, outOfScopeEnd, outOfScopeStart)

	if reminder := occupationReminder(p.Occupation); reminder != "" {
		b.WriteString("\n")
		b.WriteString(reminder)
		b.WriteString("\n")
	}
	return b.String()
}

func occupationReminder(occupation string) string {
	switch occupation {
	case "Student":
		return "Remember: students typically have limited income and are building financial habits. Focus on budgeting basics, emergency funds, and credit building."
	case "Early-career Professional", "Working Professional":
		return "Remember: early-career professionals should focus on emergency funds, retirement planning, and investment strategies."
	case "Freelancer", "Self-Employed", "Informal Worker":
		return "Remember: irregular income calls for savings strategies built around variable cash flow and low-cost financial products."
	case "Homemaker":
		return "Remember: homemakers play a crucial role in household finances. Provide advice on household budgeting and safe investments."
	case "Retired":
		return "Remember: retirees need to focus on preserving wealth, managing fixed income, and creating passive income streams."
	default:
		return ""
	}
}

func buildPrompt(req ReplyRequest) string {
	systemPrompt := buildSystemPrompt(req.Profile)
	if req.HistoryBlock == "" {
		return systemPrompt + "\n\nUser Question: " + req.Message
	}
	return systemPrompt + req.HistoryBlock +
		"Current User Question: " + req.Message +
		"\n\nIMPORTANT: Consider the previous conversation context when answering. If this is a follow-up question, provide a contextually relevant response."
}
