package service

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/flow"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/persona"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

const (
	defaultHistoryLimit = 5
	occasionQuestionID  = "occasion"
	sourceFlow          = "flow"
)

// View is what the UI renders for a user's active session.
type View struct {
	State  model.FlowState   `json:"state"`
	Prompt Prompt            `json:"prompt"`
	Trail  []flow.TrailEntry `json:"trail"`
}

// AdvanceResult is a View plus what the last selection produced.
type AdvanceResult struct {
	View
	From                model.Step               `json:"from"`
	RevealMore          bool                     `json:"reveal_more,omitempty"`
	MoreOptions         []Option                 `json:"more_options,omitempty"`
	Recognition         *model.RecognitionResult `json:"recognition,omitempty"`
	RecognitionFallback bool                     `json:"recognition_fallback,omitempty"`
	PersonaID           string                   `json:"persona_id,omitempty"`
}

// AssistantService handles the guided shopping flow for a user.
type AssistantService struct {
	manager      *flow.Manager
	personas     persona.Store
	conversation *ConversationService
	phraser      *Phraser
	historyLimit int
	logger       *logger.Logger
}

// AssistantOption configures an AssistantService.
type AssistantOption func(*AssistantService)

// WithPhraser enables prompt rephrasing.
func WithPhraser(p *Phraser) AssistantOption {
	return func(s *AssistantService) { s.phraser = p }
}

// WithConversation enables conversation logging.
func WithConversation(c *ConversationService) AssistantOption {
	return func(s *AssistantService) { s.conversation = c }
}

// WithHistoryLimit sets the default number of sessions listed.
func WithHistoryLimit(n int) AssistantOption {
	return func(s *AssistantService) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// NewAssistantService creates a new assistant service. personas may be nil,
// in which case nothing is written at completion.
func NewAssistantService(manager *flow.Manager, personas persona.Store, log *logger.Logger, opts ...AssistantOption) *AssistantService {
	if log == nil {
		log = logger.Global()
	}
	s := &AssistantService{
		manager:      manager,
		personas:     personas,
		historyLimit: defaultHistoryLimit,
		logger:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.conversation == nil {
		s.conversation = NewConversationService(nil, log)
	}
	return s
}

// Definition returns the flow definition in use.
func (s *AssistantService) Definition() *flow.Definition {
	return s.manager.Engine().Definition()
}

// Current returns the view of the user's active session.
func (s *AssistantService) Current(ctx context.Context, userID string) (*View, error) {
	st, err := s.manager.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(st), nil
}

// Advance applies a selection to the user's active session.
func (s *AssistantService) Advance(ctx context.Context, userID string, in flow.Input) (*AdvanceResult, error) {
	tr, err := s.manager.Advance(ctx, userID, in)
	if err != nil {
		return nil, err
	}

	res := &AdvanceResult{
		View:                *s.view(tr.State),
		From:                tr.From,
		RevealMore:          tr.RevealMore,
		Recognition:         tr.Recognition,
		RecognitionFallback: tr.RecognitionFallback,
	}
	if tr.RevealMore {
		res.MoreOptions = Labeled(tr.MoreOptions)
	}
	res.Prompt.Question = s.phraser.Phrase(ctx, res.Prompt.Question, tr.State)

	if tr.Changed() && tr.State.CurrentStep == model.StepComplete {
		res.PersonaID = s.savePersona(ctx, userID, tr.State)
	}

	s.recordTurns(ctx, userID, tr, in, res)
	return res, nil
}

// Abandon records the active session and starts a new one.
func (s *AssistantService) Abandon(ctx context.Context, userID string) (*View, error) {
	st, err := s.manager.Abandon(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(st), nil
}

// Restart starts a new session after completion or mid-flow.
func (s *AssistantService) Restart(ctx context.Context, userID string) (*View, error) {
	st, err := s.manager.Restart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(st), nil
}

// Sessions lists the user's recent finished and abandoned sessions.
func (s *AssistantService) Sessions(ctx context.Context, userID string, limit int) (*model.ListSessionsResponse, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	sessions, err := s.manager.Sessions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return &model.ListSessionsResponse{Sessions: sessions, Total: len(sessions)}, nil
}

// Options returns the labeled options for a step.
func (s *AssistantService) Options(step model.Step, parent string) ([]Option, error) {
	if !step.Valid() {
		return nil, apperr.NewValidation("unknown step")
	}
	tokens, err := s.Definition().OptionsFor(step, parent)
	if err != nil {
		return nil, err
	}
	return Labeled(tokens), nil
}

func (s *AssistantService) view(st model.FlowState) *View {
	def := s.Definition()
	return &View{
		State:  st,
		Prompt: BuildPrompt(def, st),
		Trail:  flow.Trail(def, st),
	}
}

// savePersona writes what the session learned about its recipient. The
// completed state is already persisted, so failures are logged only.
func (s *AssistantService) savePersona(ctx context.Context, userID string, st model.FlowState) string {
	r := st.Recipient
	if s.personas == nil || r == nil || r.Type == "" {
		return ""
	}
	log := s.logger.WithUser(userID, st.SessionID)

	patch := collectedPatch(r)
	if p := purchaseOf(st); p != nil {
		patch.LastPurchase = p
	}

	id := r.PersonaID
	if id == "" && r.Name != "" {
		existing, err := s.soleNamedPersona(ctx, userID, r.Type, r.Name)
		if err != nil {
			log.Warn("failed to look up persona at completion", zap.Error(err))
			return ""
		}
		id = existing
	}

	if id != "" {
		if patch.Empty() {
			return id
		}
		updated, err := s.personas.Update(ctx, userID, id, patch)
		switch {
		case err == nil:
			metrics.RecordPersonaWrite("update", sourceFlow)
			return updated.ID
		case !apperr.Is(err, apperr.CodeNotFound):
			log.Warn("failed to update persona at completion", zap.String("persona_id", id), zap.Error(err))
			return ""
		}
		// The linked persona was deleted mid-session; create a new one.
	}

	p := model.Persona{
		OwnerID:      userID,
		Type:         strings.ToLower(r.Type),
		Name:         r.Name,
		Age:          r.Age,
		Gender:       r.Gender,
		Interests:    slices.Clone(r.Interests),
		LastPurchase: patch.LastPurchase,
	}
	if err := p.Validate(); err != nil {
		log.Info("recipient incomplete, persona not saved", zap.Error(err))
		return ""
	}
	created, err := s.personas.Create(ctx, p)
	if err != nil {
		log.Warn("failed to create persona at completion", zap.Error(err))
		return ""
	}
	metrics.RecordPersonaWrite("create", sourceFlow)
	return created.ID
}

// soleNamedPersona returns the ID of the only persona of personaType called
// name, or "" when there is none or more than one. Duplicates are left alone
// and the session's recipient becomes a new persona.
func (s *AssistantService) soleNamedPersona(ctx context.Context, userID, personaType, name string) (string, error) {
	candidates, err := s.personas.FindByType(ctx, userID, strings.ToLower(personaType))
	if err != nil {
		return "", err
	}
	var id string
	for _, p := range candidates {
		if !strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			continue
		}
		if id != "" {
			return "", nil
		}
		id = p.ID
	}
	return id, nil
}

// collectedPatch holds the attributes the user answered during the session.
func collectedPatch(r *model.Recipient) model.PersonaPatch {
	var patch model.PersonaPatch
	for _, a := range r.Collected {
		switch a {
		case model.AttrName:
			name := r.Name
			patch.Name = &name
		case model.AttrAge:
			if r.Age != nil {
				age := *r.Age
				patch.Age = &age
			}
		case model.AttrGender:
			g := r.Gender
			patch.Gender = &g
		case model.AttrInterests:
			patch.Interests = slices.Clone(r.Interests)
		}
	}
	return patch
}

func purchaseOf(st model.FlowState) *model.Purchase {
	o := st.Outcome
	if o == nil || o.Kind != model.OutcomePurchased {
		return nil
	}
	p := &model.Purchase{Item: o.Item, Date: o.CompletedAt}
	if occasion, ok := st.Answer(occasionQuestionID); ok {
		p.Occasion = occasion
	}
	return p
}

func (s *AssistantService) recordTurns(ctx context.Context, userID string, tr flow.Transition, in flow.Input, res *AdvanceResult) {
	sessionID := tr.State.SessionID
	s.conversation.Record(ctx, userID, sessionID, model.RoleUser, selectionText(in), map[string]any{
		"step":   string(tr.From),
		"option": in.Option,
	})

	hints := map[string]any{"step": string(res.Prompt.Step)}
	options := res.Prompt.Options
	if res.RevealMore {
		options = res.MoreOptions
	}
	if len(options) > 0 {
		hints["options"] = options
	}
	if res.Prompt.QuestionID != "" {
		hints["question_id"] = res.Prompt.QuestionID
	}
	if res.Prompt.Message != "" {
		hints["message"] = res.Prompt.Message
	}
	content := res.Prompt.Question
	if content == "" {
		content = string(res.Prompt.Step)
	}
	s.conversation.Record(ctx, userID, sessionID, model.RoleAssistant, content, hints)
}

// selectionText renders a selection as the user would read it.
func selectionText(in flow.Input) string {
	var parts []string
	if in.Option != "" {
		parts = append(parts, flow.FormatLabel(in.Option))
	}
	for _, v := range in.Values {
		parts = append(parts, flow.FormatLabel(v))
	}
	if t := strings.TrimSpace(in.Text); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, ", ")
}
