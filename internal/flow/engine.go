package flow

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

const (
	maxNameLength     = 80
	maxItemLength     = 200
	maxInterests      = 20
	maxInterestLength = 40

	defaultRecognitionTimeout = 2 * time.Second
)

var tracer = otel.Tracer("github.com/capitalize-ai/shopping-assistant/internal/flow")

// Recognizer decides whether a stored persona already answers recipient questions.
type Recognizer interface {
	Recognize(ctx context.Context, ownerID, recipientType, name string) (model.RecognitionResult, error)
}

// Input is a user selection for the current step. Option carries a flow
// token; Text carries free text (names, ages, purchased item); Values carries
// multi-select answers.
type Input struct {
	Option string   `json:"option,omitempty"`
	Text   string   `json:"text,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Transition is the result of a successful Advance.
type Transition struct {
	From  model.Step      `json:"from"`
	State model.FlowState `json:"state"`

	// RevealMore is set when load_more was selected; State is unchanged.
	RevealMore  bool     `json:"reveal_more,omitempty"`
	MoreOptions []string `json:"more_options,omitempty"`

	Recognition         *model.RecognitionResult `json:"recognition,omitempty"`
	RecognitionFallback bool                     `json:"recognition_fallback,omitempty"`
}

// Changed reports whether the transition produced a new state.
func (t Transition) Changed() bool {
	return !t.RevealMore
}

// Engine computes flow transitions. It holds no per-session state.
type Engine struct {
	def                *Definition
	recognizer         Recognizer
	recognitionTimeout time.Duration
	now                func() time.Time
	logger             *logger.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithRecognitionTimeout bounds each persona recognition call.
func WithRecognitionTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.recognitionTimeout = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *logger.Logger) EngineOption {
	return func(e *Engine) { e.logger = log }
}

// NewEngine creates an engine over a definition. A nil recognizer makes every
// recognition fall back to the full question flow.
func NewEngine(def *Definition, recognizer Recognizer, opts ...EngineOption) *Engine {
	e := &Engine{
		def:                def,
		recognizer:         recognizer,
		recognitionTimeout: defaultRecognitionTimeout,
		now:                time.Now,
		logger:             logger.Global(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definition returns the engine's flow definition.
func (e *Engine) Definition() *Definition {
	return e.def
}

// Fresh returns a new entry-step state.
func (e *Engine) Fresh(sessionID string) model.FlowState {
	return model.NewFlowState(sessionID, e.now())
}

// NewSession returns a fresh state with a new session id.
func (e *Engine) NewSession() model.FlowState {
	return e.Fresh(uuid.Must(uuid.NewV7()).String())
}

// Advance applies a user selection to cur and returns the resulting state.
// cur is never modified; on error no transition happened.
func (e *Engine) Advance(ctx context.Context, ownerID string, cur model.FlowState, in Input) (Transition, error) {
	step := DeriveStep(e.def, cur)

	ctx, span := tracer.Start(ctx, "flow.Advance")
	defer span.End()
	span.SetAttributes(attribute.String("flow.step", string(step)), attribute.String("flow.session_id", cur.SessionID))

	tr, err := e.advance(ctx, ownerID, step, cur, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
		metrics.RecordAdvanceError(string(step), string(apperr.CodeOf(err)))
		return Transition{}, err
	}

	span.SetAttributes(attribute.String("flow.next_step", string(tr.State.CurrentStep)))
	if tr.Changed() {
		metrics.RecordTransition(string(step), string(tr.State.CurrentStep))
	}
	return tr, nil
}

func (e *Engine) advance(ctx context.Context, ownerID string, step model.Step, cur model.FlowState, in Input) (Transition, error) {
	s := cur.Clone()
	tr := Transition{From: step}
	option := normalizeToken(in.Option)

	switch step {
	case model.StepEntry:
		if err := e.requireOption(step, "", option); err != nil {
			return tr, err
		}
		s.EntryPoint = option

	case model.StepIdentifyRecipient:
		if err := e.requireOption(step, "", option); err != nil {
			return tr, err
		}
		name, err := normalizeName(in.Text, false)
		if err != nil {
			return tr, err
		}
		s.Recipient = &model.Recipient{Type: option, Name: name}
		e.recognize(ctx, ownerID, s.Recipient, &tr)

	case model.StepRecognizePersona:
		e.recognize(ctx, ownerID, s.Recipient, &tr)

	case model.StepCollectName:
		text := in.Text
		if text == "" {
			text = in.Option
		}
		name, err := normalizeName(text, true)
		if err != nil {
			return tr, err
		}
		s.Recipient.Name = name
		markCollected(s.Recipient, model.AttrName)
		// A name resolves tentative and ambiguous matches.
		e.recognize(ctx, ownerID, s.Recipient, &tr)

	case model.StepCollectAge:
		age, err := parseAge(firstNonEmpty(in.Text, in.Option))
		if err != nil {
			return tr, err
		}
		s.Recipient.Age = &age
		markCollected(s.Recipient, model.AttrAge)

	case model.StepCollectGender:
		gender, ok := model.ParseGender(in.Option)
		if !ok {
			allowed, _ := e.def.OptionsFor(step, "")
			return tr, apperr.NewInvalidSelection(string(step), in.Option, allowed)
		}
		s.Recipient.Gender = gender
		markCollected(s.Recipient, model.AttrGender)

	case model.StepCollectInterests:
		interests, err := parseInterests(in)
		if err != nil {
			return tr, err
		}
		s.Recipient.Interests = interests
		markCollected(s.Recipient, model.AttrInterests)

	case model.StepCategory:
		if err := e.requireOption(step, s.EntryPoint, option); err != nil {
			return tr, err
		}
		s.Category = option

	case model.StepSubcategory:
		if err := e.requireOption(step, s.Category, option); err != nil {
			return tr, err
		}
		s.Subcategory = option

	case model.StepPreferences:
		q, ok := e.def.Question(len(s.Preferences))
		if !ok {
			return tr, apperr.NewInternal(nil)
		}
		if option == LoadMore && slices.Contains(q.Options, LoadMore) {
			s.CurrentStep = step
			tr.State = s
			tr.RevealMore = true
			tr.MoreOptions = slices.Clone(q.More)
			return tr, nil
		}
		if !slices.Contains(q.Choices(), option) {
			return tr, apperr.NewInvalidSelection(string(step), in.Option, q.Choices())
		}
		s.Preferences = append(s.Preferences, model.PreferenceAnswer{QuestionID: q.ID, Answer: option})

	case model.StepProductSurface:
		outcome, err := e.parseOutcome(option, in)
		if err != nil {
			return tr, err
		}
		s.Outcome = outcome

	case model.StepComplete:
		return tr, apperr.NewTerminalState()

	default:
		return tr, apperr.NewInternal(nil)
	}

	s.UpdatedAt = e.now()
	s.CurrentStep = DeriveStep(e.def, s)
	tr.State = s
	return tr, nil
}

func (e *Engine) requireOption(step model.Step, parent, option string) error {
	allowed, err := e.def.OptionsFor(step, parent)
	if err != nil {
		return err
	}
	if option == "" || !slices.Contains(allowed, option) {
		return apperr.NewInvalidSelection(string(step), option, allowed)
	}
	return nil
}

func (e *Engine) parseOutcome(option string, in Input) (*model.Outcome, error) {
	switch option {
	case OptionFinish:
		return &model.Outcome{Kind: model.OutcomeFinished, CompletedAt: e.now()}, nil
	case OptionPurchase:
		item := strings.TrimSpace(in.Text)
		if item == "" {
			return nil, apperr.NewValidation("purchased item is required")
		}
		if utf8.RuneCountInString(item) > maxItemLength {
			return nil, apperr.NewValidation("purchased item exceeds maximum length")
		}
		return &model.Outcome{Kind: model.OutcomePurchased, Item: item, CompletedAt: e.now()}, nil
	}
	return nil, apperr.NewInvalidSelection(string(model.StepProductSurface), option, []string{OptionPurchase, OptionFinish})
}

// recognize consults the recognizer and applies the result to r. Failures
// and timeouts fall back to asking for everything.
func (e *Engine) recognize(ctx context.Context, ownerID string, r *model.Recipient, tr *Transition) {
	var (
		res model.RecognitionResult
		err error
	)
	if e.recognizer == nil {
		err = apperr.NewUnconfigured("persona recognition")
	} else {
		rctx, cancel := context.WithTimeout(ctx, e.recognitionTimeout)
		res, err = e.recognizer.Recognize(rctx, ownerID, r.Type, r.Name)
		cancel()
	}
	if err != nil {
		e.logger.Warn("persona recognition unavailable, asking for all details",
			zap.String("recipient_type", r.Type),
			zap.Error(err),
		)
		metrics.RecordRecognition("fallback")
		res = FallbackRecognition(r.Name)
		tr.RecognitionFallback = true
	}

	applyRecognition(r, res)
	tr.Recognition = &res
}

// FallbackRecognition is the result used when the persona store cannot be
// consulted: nothing is known, every attribute is collected.
func FallbackRecognition(name string) model.RecognitionResult {
	needs := []model.Attribute{model.AttrName, model.AttrAge, model.AttrGender, model.AttrInterests}
	if name != "" {
		needs = needs[1:]
	}
	return model.RecognitionResult{
		Found:     false,
		NeedsInfo: needs,
		Message:   "I couldn't look up your saved recipients right now, so let's go through a few quick questions.",
	}
}

func applyRecognition(r *model.Recipient, res model.RecognitionResult) {
	r.Recognized = true
	r.Message = res.Message
	r.NeedsInfo = slices.Clone(res.NeedsInfo)
	needs := func(a model.Attribute) bool { return slices.Contains(r.NeedsInfo, a) }

	if res.Found && res.Persona != nil {
		p := res.Persona
		r.PersonaID = p.ID
		r.Persona = p.Clone()
		if !needs(model.AttrName) && p.Name != "" {
			r.Name = p.Name
		}
		if !needs(model.AttrAge) {
			r.Age = p.Clone().Age
		}
		if !needs(model.AttrGender) {
			r.Gender = p.Gender
		}
		if !needs(model.AttrInterests) {
			r.Interests = slices.Clone(p.Interests)
		}
		return
	}

	// No linked persona: drop anything pre-filled by an earlier match that
	// the user did not answer themselves.
	r.PersonaID = ""
	r.Persona = nil
	collected := func(a model.Attribute) bool { return slices.Contains(r.Collected, a) }
	if !collected(model.AttrAge) {
		r.Age = nil
	}
	if !collected(model.AttrGender) {
		r.Gender = ""
	}
	if !collected(model.AttrInterests) {
		r.Interests = nil
	}
}

func markCollected(r *model.Recipient, a model.Attribute) {
	if !slices.Contains(r.Collected, a) {
		r.Collected = append(r.Collected, a)
	}
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeName(s string, required bool) (string, error) {
	name := strings.Join(strings.Fields(s), " ")
	if name == "" {
		if required {
			return "", apperr.NewValidation("name is required")
		}
		return "", nil
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", apperr.NewValidation("name exceeds maximum length")
	}
	return name, nil
}

func parseAge(s string) (int, error) {
	age, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, apperr.NewValidation("age must be a whole number")
	}
	if age < model.MinAge || age > model.MaxAge {
		return 0, apperr.NewValidation("age must be between 18 and 120")
	}
	return age, nil
}

func parseInterests(in Input) ([]string, error) {
	raw := in.Values
	if len(raw) == 0 && in.Text != "" {
		raw = strings.Split(in.Text, ",")
	}
	if len(raw) == 0 && in.Option != "" {
		raw = []string{in.Option}
	}

	var out []string
	for _, v := range raw {
		v = strings.ToLower(strings.Join(strings.Fields(v), " "))
		if v == "" || slices.Contains(out, v) {
			continue
		}
		if utf8.RuneCountInString(v) > maxInterestLength {
			return nil, apperr.NewValidation("interest exceeds maximum length")
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, apperr.NewValidation("at least one interest is required")
	}
	if len(out) > maxInterests {
		return nil, apperr.NewValidation("too many interests")
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
