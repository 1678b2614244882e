package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/flow"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/persona"
	"github.com/capitalize-ai/shopping-assistant/internal/state"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

const user = "user-1"

type sessionLog struct {
	recorded  []model.FlowSession
	lastLimit int
}

func (s *sessionLog) RecordSession(_ context.Context, fs model.FlowSession) error {
	for _, existing := range s.recorded {
		if existing.SessionID == fs.SessionID {
			return nil
		}
	}
	s.recorded = append(s.recorded, fs)
	return nil
}

func (s *sessionLog) ListSessions(_ context.Context, _ string, limit int) ([]model.FlowSession, error) {
	s.lastLimit = limit
	return s.recorded, nil
}

type fixture struct {
	svc      *AssistantService
	personas *memoryPersonas
	log      *memoryLog
	sessions *sessionLog
}

func newFixture(t *testing.T, opts ...AssistantOption) *fixture {
	t.Helper()
	return newFixtureWith(t, newMemoryPersonas(), opts...)
}

func newFixtureWith(t *testing.T, personas *memoryPersonas, opts ...AssistantOption) *fixture {
	t.Helper()
	nop := logger.NewNop()
	f := &fixture{
		personas: personas,
		log:      &memoryLog{},
		sessions: &sessionLog{},
	}
	engine := flow.NewEngine(flow.DefaultDefinition(), persona.NewRecognizer(f.personas, nop), flow.WithLogger(nop))
	states := state.NewStore(state.NewMemoryBackend(), engine.NewSession, state.WithLogger(nop))
	manager := flow.NewManager(engine, states, f.sessions, nop)

	opts = append([]AssistantOption{WithConversation(NewConversationService(f.log, nop))}, opts...)
	f.svc = NewAssistantService(manager, f.personas, nop, opts...)
	return f
}

func (f *fixture) advance(t *testing.T, inputs ...flow.Input) *AdvanceResult {
	t.Helper()
	var res *AdvanceResult
	for _, in := range inputs {
		var err error
		res, err = f.svc.Advance(context.Background(), user, in)
		require.NoError(t, err, "input %+v", in)
	}
	return res
}

var shoppingForJane = []flow.Input{
	{Option: "others"},
	{Option: "mother", Text: "Jane"},
	{Text: "62"},
	{Option: "female"},
	{Values: []string{"gardening", "reading"}},
	{Option: "home"},
	{Option: "garden"},
	{Option: "25_to_50"},
	{Option: "classic"},
	{Option: "birthday"},
}

func TestAssistant_CurrentRendersEntryPrompt(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Current(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, model.StepEntry, view.Prompt.Step)
	assert.Equal(t, "Hi! Who are you shopping for today?", view.Prompt.Question)
	assert.Equal(t, InputChoice, view.Prompt.Input)
	assert.Equal(t, []Option{
		{Token: "myself", Label: "For myself"},
		{Token: "others", Label: "For someone else"},
		{Token: "browsing", Label: "Just browsing"},
	}, view.Prompt.Options)
	assert.Empty(t, view.Trail)
}

func TestAssistant_NewRecipientCreatesPersonaOnPurchase(t *testing.T) {
	f := newFixture(t)

	f.advance(t, shoppingForJane...)
	res := f.advance(t, flow.Input{Option: "purchase", Text: "Garden kneeler"})

	assert.Equal(t, model.StepComplete, res.State.CurrentStep)
	require.NotEmpty(t, res.PersonaID)

	all := f.personas.all()
	require.Len(t, all, 1)
	p := all[0]
	assert.Equal(t, res.PersonaID, p.ID)
	assert.Equal(t, user, p.OwnerID)
	assert.Equal(t, "mother", p.Type)
	assert.Equal(t, "Jane", p.Name)
	assert.Equal(t, 62, *p.Age)
	assert.Equal(t, model.GenderFemale, p.Gender)
	assert.Equal(t, []string{"gardening", "reading"}, p.Interests)
	require.NotNil(t, p.LastPurchase)
	assert.Equal(t, "Garden kneeler", p.LastPurchase.Item)
	assert.Equal(t, "birthday", p.LastPurchase.Occasion)

	require.Len(t, f.sessions.recorded, 1)
	assert.Equal(t, model.ReasonCompleted, f.sessions.recorded[0].Reason)
}

func TestAssistant_ReturningRecipientSkipsQuestions(t *testing.T) {
	f := newFixture(t)
	f.advance(t, shoppingForJane...)
	f.advance(t, flow.Input{Option: flow.OptionFinish})
	require.Equal(t, 1, f.personas.creates)

	_, err := f.svc.Restart(context.Background(), user)
	require.NoError(t, err)

	res := f.advance(t, flow.Input{Option: "others"}, flow.Input{Option: "mother", Text: "jane"})
	assert.Equal(t, model.StepCategory, res.Prompt.Step)
	require.NotNil(t, res.Recognition)
	assert.True(t, res.Recognition.Found)
	assert.Contains(t, res.Prompt.Message, "Jane")

	f.advance(t,
		flow.Input{Option: "books"},
		flow.Input{Option: "fiction"},
		flow.Input{Option: "under_25"},
		flow.Input{Option: "modern"},
		flow.Input{Option: "holiday"},
	)
	res = f.advance(t, flow.Input{Option: "purchase", Text: "Novel"})

	assert.Equal(t, 1, f.personas.creates)
	assert.Equal(t, 1, f.personas.updates)
	p := f.personas.all()[0]
	assert.Equal(t, p.ID, res.PersonaID)
	assert.Equal(t, "Novel", p.LastPurchase.Item)
	assert.Equal(t, "holiday", p.LastPurchase.Occasion)
	assert.Equal(t, 62, *p.Age)
}

func TestAssistant_DuplicateNamedPersonasAreNotOverwritten(t *testing.T) {
	f := newFixtureWith(t, newMemoryPersonas(
		model.Persona{ID: "jane-a", OwnerID: user, Type: "mother", Name: "Jane", Age: intPtr(40), Gender: model.GenderFemale, Interests: []string{"tennis"}},
		model.Persona{ID: "jane-b", OwnerID: user, Type: "mother", Name: "Jane", Age: intPtr(70), Gender: model.GenderFemale, Interests: []string{"knitting"}},
	))

	res := f.advance(t, shoppingForJane[:2]...)
	assert.Equal(t, model.StepCollectAge, res.Prompt.Step)
	assert.NotContains(t, res.Prompt.Message, "What's their name?")

	f.advance(t, shoppingForJane[2:]...)
	res = f.advance(t, flow.Input{Option: "purchase", Text: "Garden kneeler"})
	require.NotEmpty(t, res.PersonaID)
	assert.NotContains(t, []string{"jane-a", "jane-b"}, res.PersonaID)

	assert.Equal(t, 1, f.personas.creates)
	assert.Equal(t, 0, f.personas.updates)

	for id, age := range map[string]int{"jane-a": 40, "jane-b": 70} {
		p, err := f.personas.Get(context.Background(), user, id)
		require.NoError(t, err)
		assert.Equal(t, age, *p.Age, id)
		assert.Nil(t, p.LastPurchase, id)
	}
	created, err := f.personas.Get(context.Background(), user, res.PersonaID)
	require.NoError(t, err)
	assert.Equal(t, 62, *created.Age)
	assert.Equal(t, "Garden kneeler", created.LastPurchase.Item)
}

func TestAssistant_PartialPersonaIsCompleted(t *testing.T) {
	f := newFixtureWith(t, newMemoryPersonas(model.Persona{OwnerID: user, Type: "friend", Name: "Sam", Age: intPtr(30)}))

	res := f.advance(t, flow.Input{Option: "others"}, flow.Input{Option: "friend", Text: "Sam"})
	assert.Equal(t, model.StepCollectGender, res.Prompt.Step)
	assert.Equal(t, InputChoice, res.Prompt.Input)

	res = f.advance(t, flow.Input{Option: "male"})
	assert.Equal(t, model.StepCollectInterests, res.Prompt.Step)
	assert.Equal(t, InputMulti, res.Prompt.Input)

	f.advance(t,
		flow.Input{Text: "gaming, music"},
		flow.Input{Option: "electronics"},
		flow.Input{Option: "audio"},
		flow.Input{Option: "50_to_100"},
		flow.Input{Option: "sporty"},
		flow.Input{Option: "just_because"},
		flow.Input{Option: flow.OptionFinish},
	)

	p := f.personas.all()[0]
	assert.Equal(t, 0, f.personas.creates)
	assert.Equal(t, model.GenderMale, p.Gender)
	assert.Equal(t, []string{"gaming", "music"}, p.Interests)
	assert.Equal(t, 30, *p.Age)
	assert.Nil(t, p.LastPurchase)
}

func TestAssistant_MyselfWritesNoPersona(t *testing.T) {
	f := newFixture(t)
	f.advance(t,
		flow.Input{Option: "myself"},
		flow.Input{Option: "sports"},
		flow.Input{Option: "cycling"},
		flow.Input{Option: "under_25"},
		flow.Input{Option: "classic"},
		flow.Input{Option: "birthday"},
	)
	res := f.advance(t, flow.Input{Option: "purchase", Text: "Bike light"})

	assert.Empty(t, res.PersonaID)
	assert.Empty(t, f.personas.all())
}

func TestAssistant_PersonaWriteFailureDoesNotFailCompletion(t *testing.T) {
	f := newFixture(t)
	f.advance(t, shoppingForJane...)
	f.personas.failAll = errUnavailable

	res, err := f.svc.Advance(context.Background(), user, flow.Input{Option: flow.OptionFinish})
	require.NoError(t, err)
	assert.Equal(t, model.StepComplete, res.State.CurrentStep)
	assert.Empty(t, res.PersonaID)
}

func TestAssistant_LoadMoreRevealsOptions(t *testing.T) {
	f := newFixture(t)
	f.advance(t, flow.Input{Option: "myself"}, flow.Input{Option: "home"}, flow.Input{Option: "decor"})

	res := f.advance(t, flow.Input{Option: "load_more"})
	assert.True(t, res.RevealMore)
	assert.Equal(t, []Option{
		{Token: "100_to_250", Label: "$100 - $250"},
		{Token: "over_250", Label: "Over $250"},
	}, res.MoreOptions)
	assert.Equal(t, "budget", res.Prompt.QuestionID)

	res = f.advance(t, flow.Input{Option: "over_250"})
	assert.Equal(t, "style", res.Prompt.QuestionID)
}

func TestAssistant_ErrorsPassThrough(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Advance(context.Background(), user, flow.Input{Option: "nobody"})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidSelection))
	assert.Empty(t, f.log.turns)
}

func TestAssistant_RecordsConversationTurns(t *testing.T) {
	f := newFixture(t)
	res := f.advance(t, flow.Input{Option: "myself"})

	require.Len(t, f.log.turns, 2)
	userTurn, assistantTurn := f.log.turns[0], f.log.turns[1]
	assert.Equal(t, model.RoleUser, userTurn.Role)
	assert.Equal(t, "For myself", userTurn.Content)
	assert.Equal(t, res.State.SessionID, userTurn.SessionID)
	assert.Equal(t, model.RoleAssistant, assistantTurn.Role)
	assert.Equal(t, "What kind of thing are you looking for?", assistantTurn.Content)
	assert.Equal(t, "category", assistantTurn.DisplayHints["step"])
	assert.NotEmpty(t, assistantTurn.DisplayHints["options"])
}

func TestAssistant_ConversationLogFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.log.err = errUnavailable

	res, err := f.svc.Advance(context.Background(), user, flow.Input{Option: "browsing"})
	require.NoError(t, err)
	assert.Equal(t, model.StepCategory, res.State.CurrentStep)
}

func TestAssistant_PhrasedPrompt(t *testing.T) {
	client := &fakeLLM{content: `"So, what are you in the mood for?"`}
	f := newFixture(t, WithPhraser(NewPhraser(client, "fake-model", 0, logger.NewNop())))

	res := f.advance(t, flow.Input{Option: "myself"})
	assert.Equal(t, "So, what are you in the mood for?", res.Prompt.Question)
	assert.Equal(t, 1, client.calls)
}

func TestAssistant_AbandonStartsNewSession(t *testing.T) {
	f := newFixture(t)
	first := f.advance(t, flow.Input{Option: "myself"}, flow.Input{Option: "home"})

	view, err := f.svc.Abandon(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, model.StepEntry, view.Prompt.Step)
	assert.NotEqual(t, first.State.SessionID, view.State.SessionID)

	require.Len(t, f.sessions.recorded, 1)
	assert.Equal(t, model.ReasonAbandoned, f.sessions.recorded[0].Reason)
	assert.Equal(t, "home", f.sessions.recorded[0].State.Category)
}

func TestAssistant_SessionsDefaultLimit(t *testing.T) {
	f := newFixture(t, WithHistoryLimit(7))

	resp, err := f.svc.Sessions(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, f.sessions.lastLimit)
	assert.Equal(t, 0, resp.Total)

	_, err = f.svc.Sessions(context.Background(), user, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, f.sessions.lastLimit)
}

func TestAssistant_Options(t *testing.T) {
	f := newFixture(t)

	opts, err := f.svc.Options(model.StepSubcategory, "deals")
	require.NoError(t, err)
	assert.Equal(t, []Option{
		{Token: "under_25", Label: "Under $25"},
		{Token: "under_50", Label: "Under $50"},
		{Token: "under_100", Label: "Under $100"},
	}, opts)

	_, err = f.svc.Options(model.StepSubcategory, "nope")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidPath))

	_, err = f.svc.Options("nowhere", "")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}


func intPtr(v int) *int { return &v }
