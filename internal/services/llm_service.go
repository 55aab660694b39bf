package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/justsurfingit/career-tracker/internal/config"
	"github.com/justsurfingit/career-tracker/internal/dtos"
	"github.com/justsurfingit/career-tracker/internal/models"
)

// ErrLLMDisabled is returned by NewLLMService when no API key is configured.
var ErrLLMDisabled = errors.New("llm disabled: GEMINI_API_KEY is empty")

// maxPromptInput caps the raw text sent to the model.
const maxPromptInput = 20000

// EmailDecision is the model's reading of a recruiting email. Status is
// empty when the email does not move the application forward.
type EmailDecision struct {
	Status  models.Status
	Summary string
}

type LLMService struct {
	Client llms.Model

	// generate is swapped out in tests.
	generate func(ctx context.Context, prompt string) (string, error)
}

// NewLLMService initializes the Gemini client.
func NewLLMService(ctx context.Context, cfg config.LLMConfig) (*LLMService, error) {
	if !cfg.Enabled() {
		return nil, ErrLLMDisabled
	}

	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.APIKey),
		googleai.WithDefaultModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	s := &LLMService{Client: llm}
	s.generate = func(ctx context.Context, prompt string) (string, error) {
		return llms.GenerateFromSinglePrompt(ctx, s.Client, prompt)
	}
	return s, nil
}

const jobExtractionPrompt = `
You are an expert Job Data Extraction Agent. Analyze the raw HTML/text of a job posting and extract structured data.

### INSTRUCTIONS:
1. Ignore navigation menus, footers, "similar jobs" lists and advertisements.
2. Output valid JSON only. Do not wrap the output in markdown code blocks.

### OUTPUT SCHEMA:
{
    "company": "Name of the company (e.g., Google, StartupInc)",
    "position": "Job title (e.g., Senior Backend Engineer)",
    "salary": "Annual salary as a plain number if explicitly mentioned (use the lower bound of a range), otherwise null"
}

### CONSTRAINT:
If a piece of information is missing, set the value to null. Do not guess.

### RAW CONTENT:
%s
`

// ExtractJobDetails turns a raw posting into prefilled form fields.
func (s *LLMService) ExtractJobDetails(ctx context.Context, rawHTML string) (*dtos.ExtractedJob, error) {
	resp, err := s.generate(ctx, fmt.Sprintf(jobExtractionPrompt, truncate(rawHTML, maxPromptInput)))
	if err != nil {
		return nil, err
	}

	var raw struct {
		Company  *string         `json:"company"`
		Position *string         `json:"position"`
		Salary   json.RawMessage `json:"salary"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp)), &raw); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}

	out := &dtos.ExtractedJob{SalaryExpectation: parseSalary(raw.Salary)}
	if raw.Company != nil {
		out.Company = strings.TrimSpace(*raw.Company)
	}
	if raw.Position != nil {
		out.Position = strings.TrimSpace(*raw.Position)
	}
	return out, nil
}

const jobRolePrompt = `
An email arrived from a company where the candidate applied to several roles.
Roles (0-based index):
%s

Email subject: %s
Email body:
%s

Reply with ONLY the index of the role this email is about, or -1 if it cannot be determined.
`

// IdentifyJobRole picks which of the candidate titles an email refers to.
// It returns -1 when the model cannot decide or answers out of range.
func (s *LLMService) IdentifyJobRole(ctx context.Context, titles []string, subject, body string) int {
	var list strings.Builder
	for i, t := range titles {
		fmt.Fprintf(&list, "%d: %s\n", i, t)
	}

	resp, err := s.generate(ctx, fmt.Sprintf(jobRolePrompt, list.String(), subject, truncate(body, maxPromptInput)))
	if err != nil {
		return -1
	}

	idx, err := strconv.Atoi(strings.TrimSpace(cleanJSON(resp)))
	if err != nil || idx < 0 || idx >= len(titles) {
		return -1
	}
	return idx
}

const emailStatusPrompt = `
You classify recruiting emails for a job application tracker.
Company: %s
Subject: %s
Body:
%s

Decide what the email means for the application. Valid statuses:
- "Interviewing": an interview, assessment or call is being scheduled or offered
- "Rejected": the candidate is no longer being considered
- "Offer": a job offer is extended
- "NO_CHANGE": anything else (confirmations, newsletters, reminders)

Return ONLY JSON: {"status": "<one of the above>", "summary": "<one sentence>"}
`

// AnalyzeEmailStatus classifies an email. Unknown or NO_CHANGE answers yield
// an empty Status.
func (s *LLMService) AnalyzeEmailStatus(ctx context.Context, company, subject, body string) (EmailDecision, error) {
	resp, err := s.generate(ctx, fmt.Sprintf(emailStatusPrompt, company, subject, truncate(body, maxPromptInput)))
	if err != nil {
		return EmailDecision{}, err
	}
	return parseEmailDecision(resp)
}

func parseEmailDecision(resp string) (EmailDecision, error) {
	var result struct {
		Status  string `json:"status"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp)), &result); err != nil {
		return EmailDecision{}, fmt.Errorf("parse status response: %w", err)
	}

	decision := EmailDecision{Summary: result.Summary}
	status, err := models.ParseStatus(result.Status)
	if err != nil || status == models.StatusApplied {
		return decision, nil
	}
	decision.Status = status
	return decision, nil
}

// cleanJSON strips the markdown fences models like to add despite instructions.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func parseSalary(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return nil
	}
	str = strings.NewReplacer(",", "", "$", "", " ", "").Replace(str)
	if n, err := strconv.ParseFloat(str, 64); err == nil {
		return &n
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
