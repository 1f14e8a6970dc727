package classifier

import (
	"context"
	"emergencyline/app/client/groq"
	"emergencyline/app/config"
	"emergencyline/app/service/ledger"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/samber/do"
)

//go:embed system_prompt.txt
var systemPrompt string

const fallbackQuestion = "Can you tell me your exact location?"

// Completer is the raw language-model boundary: one prompt in, one
// text reply out.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Service classifies one conversation turn into a structured analysis.
// The boundary is allowed to fail, time out or return garbage; every
// such outcome degrades to a deterministic fallback so the call never
// stalls.
type Service struct {
	client  Completer
	timeout time.Duration
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(do.MustInvoke[*groq.Client](di), cfg.Intake.ClassifyTimeout), nil
}

func NewService(client Completer, timeout time.Duration) *Service {
	return &Service{
		client:  client,
		timeout: timeout,
	}
}

// Classify analyzes the current utterance against the prior turns.
// It never fails: any boundary error yields the fallback analysis.
func (s *Service) Classify(ctx context.Context, utterance string, history []string) *Analysis {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.client.Complete(ctx, systemPrompt, formatUserPrompt(utterance, history))
	if err != nil {
		slog.Warn("Classification boundary failed, using fallback",
			"error", err)

		return Fallback()
	}

	analysis, err := parseReply(reply)
	if err != nil {
		slog.Warn("Unparseable classification reply, using fallback",
			"error", err,
			"reply", reply)

		return Fallback()
	}

	return analysis
}

// Fallback is the deterministic analysis substituted for any boundary
// failure: fail safe to most urgent and keep asking for the location.
func Fallback() *Analysis {
	return &Analysis{
		Categories:          []ledger.Category{ledger.CategoryUnknown},
		Priority:            MinPriority,
		MissingCriticalInfo: []string{"location", "nature_of_emergency", "details"},
		NextQuestion:        fallbackQuestion,
		ShouldContinue:      true,
	}
}

func formatUserPrompt(utterance string, history []string) string {
	if len(history) == 0 {
		return fmt.Sprintf("Current response: %s", utterance)
	}

	var builder strings.Builder
	builder.WriteString("Conversation history:\n")
	for _, turn := range history {
		builder.WriteString("Caller: ")
		builder.WriteString(turn)
		builder.WriteString("\n")
	}
	builder.WriteString("\nCurrent response: ")
	builder.WriteString(utterance)

	return builder.String()
}

func parseReply(reply string) (*Analysis, error) {
	result := strings.Trim(reply, "`")
	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, "json")
	result = strings.TrimSpace(result)

	var response wireResponse
	if err := json.Unmarshal([]byte(result), &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	categories := []ledger.Category(response.Analysis.Category)
	if len(categories) == 0 {
		categories = []ledger.Category{ledger.CategoryUnknown}
	}

	analysis := &Analysis{
		Categories:          categories,
		Priority:            clampPriority(response.Analysis.Priority),
		MissingCriticalInfo: response.Analysis.KnownInfo.MissingCriticalInfo,
		ShouldContinue:      true,
		CaseNumber:          strings.TrimSpace(response.Analysis.CaseNumber),
		Location:            strings.TrimSpace(response.Analysis.KnownInfo.Location),
		Situation:           strings.TrimSpace(response.Analysis.KnownInfo.Situation),
		Dispatch:            strings.TrimSpace(response.Analysis.KnownInfo.Dispatch),
	}

	if response.Conversation.ShouldContinue != nil {
		analysis.ShouldContinue = *response.Conversation.ShouldContinue
	}

	analysis.NextQuestion = strings.TrimSpace(response.Conversation.ResponseToCaller)
	if analysis.NextQuestion == "" {
		analysis.NextQuestion = strings.TrimSpace(response.Conversation.NextQuestion)
	}
	if analysis.ShouldContinue && analysis.NextQuestion == "" {
		analysis.NextQuestion = fallbackQuestion
	}

	return analysis, nil
}

// clampPriority forces a missing or out-of-range ordinal to the
// most-urgent bound rather than rejecting the turn.
func clampPriority(p *int) int {
	if p == nil || *p < MinPriority || *p > MaxPriority {
		return MinPriority
	}

	return *p
}
