// Package aiassess implements the optional AI description-alignment
// check: it asks a language model whether a supplier's invoice line
// description is consistent with the taxonomy item it was classified
// under. This is a supplemented, best-effort signal surfaced to carrier
// review, never a gate on the pipeline. Any failure degrades to a nil
// result and the pipeline continues unassessed.
package aiassess

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	"github.com/mzemanski-eng/claims-ebilling/internal/logging"
)

const systemPrompt = `You are an insurance claims billing auditor reviewing invoice line items.
Your task is to assess whether a supplier's invoice description is semantically
consistent with the contracted service type it was classified under.

Respond with valid JSON only - no markdown, no explanation outside the JSON.`

const userTemplate = `CONTRACT SERVICE
  Label:       %s
  Description: %s

SUPPLIER INVOICE LINE
  Description: "%s"

Assess whether the supplier's description is consistent with the contracted service.

Return exactly this JSON shape:
{
  "score": "<ALIGNED | PARTIAL | MISALIGNED>",
  "rationale": "<one concise sentence>"
}

Scoring guide:
  ALIGNED    - Description clearly refers to the same service type, even if worded differently.
  PARTIAL    - Description is vague, ambiguous, or only partially describes the service.
  MISALIGNED - Description appears to be a different type of service than contracted.`

const maxRationaleLen = 500

var validScores = map[string]bool{"ALIGNED": true, "PARTIAL": true, "MISALIGNED": true}

type rawAssessment struct {
	Score     string `json:"score"`
	Rationale string `json:"rationale"`
}

// messagesClient is the subset of the Anthropic SDK this package calls,
// narrowed so tests can substitute a fake without a live API key.
type messagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// Assessor calls the model through a circuit breaker so a degraded or
// rate-limited Anthropic API trips open and short-circuits further calls
// for a cooldown period rather than adding latency to every invoice.
type Assessor struct {
	client  messagesClient
	model   anthropic.Model
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// Config configures the Assessor. APIKey empty disables assessment
// entirely (NewAssessor returns nil) mirroring the graceful
// degradation of the original description assessor.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewAssessor(cfg Config, logger *zap.Logger) *Assessor {
	if cfg.APIKey == "" {
		return nil
	}
	model := cfg.Model
	if model == "" {
		model = "claude-haiku-4-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	settings := gobreaker.Settings{
		Name:        "ai_description_assessor",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &Assessor{
		client:  &client.Messages,
		model:   anthropic.Model(model),
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// AssessAlignment returns the alignment assessment, or nil if assessment
// is unavailable, the circuit is open, the call fails, or the response
// cannot be parsed into one of the three known scores. It never returns
// an error: callers treat a nil result exactly like "not assessed".
func (a *Assessor) AssessAlignment(ctx context.Context, rawDescription string, taxonomyItem domain.TaxonomyItem) *domain.AIAssessmentResult {
	if a == nil {
		return nil
	}

	desc := taxonomyItem.Description
	if desc == "" {
		desc = taxonomyItem.Label
	}
	content := fmt.Sprintf(userTemplate, taxonomyItem.Label, desc, rawDescription)

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.client.New(callCtx, anthropic.MessageNewParams{
			Model:     a.model,
			MaxTokens: 256,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(content)),
			},
		})
	})
	if err != nil {
		a.logWarn("ai_assessment_call_failed", rawDescription, err)
		return nil
	}

	message, ok := result.(*anthropic.Message)
	if !ok || len(message.Content) == 0 {
		return nil
	}

	var parsed rawAssessment
	if err := json.Unmarshal([]byte(message.Content[0].Text), &parsed); err != nil {
		a.logWarn("ai_assessment_non_json_response", rawDescription, err)
		return nil
	}

	score := strings.ToUpper(parsed.Score)
	if !validScores[score] {
		a.logWarn("ai_assessment_unexpected_score", rawDescription, nil)
		return nil
	}

	rationale := parsed.Rationale
	if len(rationale) > maxRationaleLen {
		rationale = rationale[:maxRationaleLen]
	}

	return &domain.AIAssessmentResult{Score: score, Rationale: rationale}
}

func (a *Assessor) logWarn(op, rawDescription string, err error) {
	if a.logger == nil {
		return
	}
	sample := rawDescription
	if len(sample) > 60 {
		sample = sample[:60]
	}
	a.logger.Warn("AI description assessment degraded",
		logging.NewFields().Component("aiassess").Operation(op).
			Resource("line_item_description", sample).Error(err).Build()...)
}
