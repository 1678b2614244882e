package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/flow"
	"github.com/capitalize-ai/shopping-assistant/internal/llm"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

// Input kinds tell the UI which control to render.
const (
	InputChoice = "choice"
	InputMulti  = "multi"
	InputText   = "text"
	InputNone   = "none"
)

const maxPhrasedLength = 300

// Option is a selectable token with its display label.
type Option struct {
	Token string `json:"token"`
	Label string `json:"label"`
}

// Prompt is what the assistant asks at a step.
type Prompt struct {
	Step       model.Step `json:"step"`
	QuestionID string     `json:"question_id,omitempty"`
	Question   string     `json:"question"`
	Input      string     `json:"input"`
	Options    []Option   `json:"options,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// Labeled pairs each token with its display label.
func Labeled(tokens []string) []Option {
	out := make([]Option, len(tokens))
	for i, t := range tokens {
		out[i] = Option{Token: t, Label: flow.FormatLabel(t)}
	}
	return out
}

// BuildPrompt renders the static prompt for a state's current step.
func BuildPrompt(def *flow.Definition, s model.FlowState) Prompt {
	step := flow.DeriveStep(def, s)
	p := Prompt{Step: step, Question: def.Prompt(step), Input: InputChoice}

	var tokens []string
	switch step {
	case model.StepEntry, model.StepIdentifyRecipient, model.StepCollectGender, model.StepProductSurface:
		tokens, _ = def.OptionsFor(step, "")
	case model.StepCategory:
		tokens, _ = def.OptionsFor(step, s.EntryPoint)
	case model.StepSubcategory:
		tokens, _ = def.OptionsFor(step, s.Category)
	case model.StepPreferences:
		if q, ok := def.Question(len(s.Preferences)); ok {
			p.QuestionID = q.ID
			p.Question = q.Question
			tokens = q.Options
		}
	case model.StepCollectInterests:
		tokens, _ = def.OptionsFor(step, "")
		p.Input = InputMulti
	case model.StepCollectName, model.StepCollectAge:
		p.Input = InputText
	case model.StepRecognizePersona, model.StepComplete:
		p.Input = InputNone
	}
	if len(tokens) > 0 {
		p.Options = Labeled(tokens)
	}

	if r := s.Recipient; r != nil && r.Recognized && r.Message != "" && isRecipientFollowUp(step) {
		p.Message = r.Message
	}
	return p
}

// isRecipientFollowUp reports whether step directly follows recognition, so
// the recognition message is still relevant.
func isRecipientFollowUp(step model.Step) bool {
	switch step {
	case model.StepCollectName, model.StepCollectAge, model.StepCollectGender, model.StepCollectInterests, model.StepCategory:
		return true
	}
	return false
}

// Phraser optionally rewrites static questions with an LLM. Any failure or
// timeout keeps the static text.
type Phraser struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *logger.Logger
}

// NewPhraser creates a phraser. A nil client disables rephrasing.
func NewPhraser(client llm.Client, model string, timeout time.Duration, log *logger.Logger) *Phraser {
	if log == nil {
		log = logger.Global()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Phraser{client: client, model: model, timeout: timeout, logger: log}
}

// Enabled reports whether an LLM is configured.
func (p *Phraser) Enabled() bool {
	return p != nil && p.client != nil
}

// Phrase returns a friendlier version of question for the state's recipient.
func (p *Phraser) Phrase(ctx context.Context, question string, s model.FlowState) string {
	if !p.Enabled() || question == "" {
		return question
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.Complete(ctx, &llm.CompletionRequest{
		Model:       p.model,
		System:      phrasingSystem,
		MaxTokens:   120,
		Temperature: 0.4,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: phrasingInstruction(question, s)}},
	})
	if err != nil {
		metrics.RecordLLMRequest(p.model, "error", time.Since(start).Seconds(), 0, 0)
		p.logger.Warn("prompt phrasing failed, using static text", zap.String("provider", p.client.Name()), zap.Error(err))
		return question
	}
	metrics.RecordLLMRequest(resp.Model, "success", resp.Latency.Seconds(), resp.TokensIn, resp.TokensOut)

	phrased := strings.Trim(strings.TrimSpace(resp.Content), `"`)
	if phrased == "" || len(phrased) > maxPhrasedLength {
		return question
	}
	return phrased
}

const phrasingSystem = "You are a friendly shopping assistant. Rewrite the question you are given so it sounds warm and natural. " +
	"Keep the meaning, stay under 25 words, and reply with the question only."

func phrasingInstruction(question string, s model.FlowState) string {
	var b strings.Builder
	if r := s.Recipient; r != nil {
		if r.Name != "" {
			fmt.Fprintf(&b, "The user is shopping for their %s, %s.\n", r.Type, r.Name)
		} else {
			fmt.Fprintf(&b, "The user is shopping for their %s.\n", r.Type)
		}
	}
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}
