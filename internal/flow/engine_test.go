package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type recognizeCall struct {
	ownerID, recipientType, name string
}

type fakeRecognizer struct {
	calls  []recognizeCall
	result func(recipientType, name string) (model.RecognitionResult, error)
	block  bool
}

func (f *fakeRecognizer) Recognize(ctx context.Context, ownerID, recipientType, name string) (model.RecognitionResult, error) {
	f.calls = append(f.calls, recognizeCall{ownerID, recipientType, name})
	if f.block {
		<-ctx.Done()
		return model.RecognitionResult{}, ctx.Err()
	}
	if f.result == nil {
		return FallbackRecognition(name), nil
	}
	return f.result(recipientType, name)
}

func intPtr(v int) *int { return &v }

func newTestEngine(rec Recognizer) *Engine {
	return NewEngine(DefaultDefinition(), rec, WithClock(func() time.Time { return testNow }))
}

// walk applies inputs in order and fails the test on the first error.
func walk(t *testing.T, e *Engine, s model.FlowState, inputs ...Input) model.FlowState {
	t.Helper()
	for _, in := range inputs {
		tr, err := e.Advance(context.Background(), "owner-1", s, in)
		require.NoError(t, err, "input %+v at %s", in, s.CurrentStep)
		s = tr.State
		require.True(t, Consistent(e.Definition(), s))
	}
	return s
}

func TestAdvance_MyselfSkipsRecipientBlock(t *testing.T) {
	rec := &fakeRecognizer{}
	e := newTestEngine(rec)

	s := walk(t, e, e.Fresh("s1"), Input{Option: "myself"})
	assert.Equal(t, model.StepCategory, s.CurrentStep)
	assert.Nil(t, s.Recipient)
	assert.Empty(t, rec.calls)

	s = walk(t, e, s,
		Input{Option: "fashion"},
		Input{Option: "shoes"},
		Input{Option: "under_25"},
		Input{Option: "classic"},
		Input{Option: "birthday"},
	)
	assert.Equal(t, model.StepProductSurface, s.CurrentStep)

	s = walk(t, e, s, Input{Option: "finish"})
	assert.Equal(t, model.StepComplete, s.CurrentStep)
	require.NotNil(t, s.Outcome)
	assert.Equal(t, model.OutcomeFinished, s.Outcome.Kind)
}

func TestAdvance_BrowsingSkipsRecipientBlock(t *testing.T) {
	e := newTestEngine(&fakeRecognizer{})

	s := walk(t, e, e.Fresh("s1"), Input{Option: "browsing"}, Input{Option: "deals"})
	assert.Equal(t, model.StepSubcategory, s.CurrentStep)
}

func TestAdvance_RecognizedPersonaSkipsQuestions(t *testing.T) {
	jane := &model.Persona{
		ID: "p-1", Type: "mother", Name: "Jane", Age: intPtr(60),
		Gender: model.GenderFemale, Interests: []string{"gardening"},
	}
	rec := &fakeRecognizer{result: func(string, string) (model.RecognitionResult, error) {
		return model.RecognitionResult{Found: true, Persona: jane, Message: "Shopping for Jane again?"}, nil
	}}
	e := newTestEngine(rec)

	in := Input{Option: "mother", Text: "Jane"}
	s := walk(t, e, e.Fresh("s1"), Input{Option: "others"})
	tr, err := e.Advance(context.Background(), "owner-1", s, in)
	require.NoError(t, err)

	assert.Equal(t, model.StepCategory, tr.State.CurrentStep)
	require.NotNil(t, tr.Recognition)
	assert.True(t, tr.Recognition.Found)
	r := tr.State.Recipient
	assert.Equal(t, "p-1", r.PersonaID)
	assert.Equal(t, 60, *r.Age)
	assert.Equal(t, []string{"gardening"}, r.Interests)
	assert.Equal(t, []recognizeCall{{"owner-1", "mother", "Jane"}}, rec.calls)
}

func TestAdvance_PartialPersonaCollectsOnlyMissing(t *testing.T) {
	sam := &model.Persona{ID: "p-2", Type: "friend", Name: "Sam", Age: intPtr(30)}
	rec := &fakeRecognizer{result: func(string, string) (model.RecognitionResult, error) {
		return model.RecognitionResult{
			Found:     true,
			Persona:   sam,
			NeedsInfo: []model.Attribute{model.AttrGender, model.AttrInterests},
		}, nil
	}}
	e := newTestEngine(rec)

	s := walk(t, e, e.Fresh("s1"), Input{Option: "others"}, Input{Option: "friend", Text: "Sam"})
	assert.Equal(t, model.StepCollectGender, s.CurrentStep)

	s = walk(t, e, s, Input{Option: "Other"})
	assert.Equal(t, model.StepCollectInterests, s.CurrentStep)

	s = walk(t, e, s, Input{Values: []string{"Gaming", "music", "gaming"}})
	assert.Equal(t, model.StepCategory, s.CurrentStep)
	assert.Equal(t, []string{"gaming", "music"}, s.Recipient.Interests)
	assert.Equal(t, []model.Attribute{model.AttrGender, model.AttrInterests}, s.Recipient.Collected)
	assert.Equal(t, 30, *s.Recipient.Age)
}

func TestAdvance_UnknownRecipientAsksEverything(t *testing.T) {
	rec := &fakeRecognizer{}
	e := newTestEngine(rec)

	s := walk(t, e, e.Fresh("s1"), Input{Option: "others"}, Input{Option: "father"})
	assert.Equal(t, model.StepCollectName, s.CurrentStep)

	s = walk(t, e, s, Input{Text: "  Bob   Smith "})
	assert.Equal(t, "Bob Smith", s.Recipient.Name)
	assert.Equal(t, model.StepCollectAge, s.CurrentStep)
	require.Len(t, rec.calls, 2)
	assert.Equal(t, "Bob Smith", rec.calls[1].name)

	s = walk(t, e, s, Input{Text: "65"}, Input{Option: "male"}, Input{Text: "gardening, cooking"})
	assert.Equal(t, model.StepCategory, s.CurrentStep)
	assert.Equal(t, []string{"gardening", "cooking"}, s.Recipient.Interests)
}

func TestAdvance_RecognitionFailureFallsBack(t *testing.T) {
	rec := &fakeRecognizer{result: func(string, string) (model.RecognitionResult, error) {
		return model.RecognitionResult{}, apperr.NewStorageUnavailable("find personas", errors.New("db down"))
	}}
	e := newTestEngine(rec)

	s := walk(t, e, e.Fresh("s1"), Input{Option: "others"})
	tr, err := e.Advance(context.Background(), "owner-1", s, Input{Option: "mother", Text: "Jane"})
	require.NoError(t, err)

	assert.True(t, tr.RecognitionFallback)
	assert.Equal(t, model.StepCollectAge, tr.State.CurrentStep)
	assert.Equal(t, []model.Attribute{model.AttrAge, model.AttrGender, model.AttrInterests}, tr.State.Recipient.NeedsInfo)
}

func TestAdvance_RecognitionTimeoutFallsBack(t *testing.T) {
	rec := &fakeRecognizer{block: true}
	e := NewEngine(DefaultDefinition(), rec, WithRecognitionTimeout(10*time.Millisecond))

	s := walk(t, e, e.Fresh("s1"), Input{Option: "others"})
	tr, err := e.Advance(context.Background(), "owner-1", s, Input{Option: "mother"})
	require.NoError(t, err)

	assert.True(t, tr.RecognitionFallback)
	assert.Equal(t, model.StepCollectName, tr.State.CurrentStep)
}

func TestAdvance_NilRecognizerFallsBack(t *testing.T) {
	e := newTestEngine(nil)

	s := walk(t, e, e.Fresh("s1"), Input{Option: "others"}, Input{Option: "sibling"})
	assert.Equal(t, model.StepCollectName, s.CurrentStep)
}

func TestAdvance_NameResolvesTentativeMatch(t *testing.T) {
	ann := &model.Persona{ID: "p-3", Type: "sibling", Name: "Ann", Age: intPtr(25), Gender: model.GenderFemale, Interests: []string{"art"}}
	rec := &fakeRecognizer{result: func(_ string, name string) (model.RecognitionResult, error) {
		if name == "" {
			return model.RecognitionResult{Found: true, Persona: ann, NeedsInfo: []model.Attribute{model.AttrName}}, nil
		}
		if name == "Ann" {
			return model.RecognitionResult{Found: true, Persona: ann}, nil
		}
		return model.RecognitionResult{NeedsInfo: []model.Attribute{model.AttrAge, model.AttrGender, model.AttrInterests}}, nil
	}}
	e := newTestEngine(rec)

	s := walk(t, e, e.Fresh("s1"), Input{Option: "others"}, Input{Option: "sibling"})
	assert.Equal(t, model.StepCollectName, s.CurrentStep)
	assert.Equal(t, "p-3", s.Recipient.PersonaID)

	confirmed := walk(t, e, s, Input{Text: "Ann"})
	assert.Equal(t, model.StepCategory, confirmed.CurrentStep)

	// A different name unlinks the tentative match and drops its values.
	other := walk(t, e, s, Input{Text: "Beth"})
	assert.Equal(t, model.StepCollectAge, other.CurrentStep)
	assert.Empty(t, other.Recipient.PersonaID)
	assert.Nil(t, other.Recipient.Age)
	assert.Empty(t, other.Recipient.Interests)
}

func TestAdvance_LoadMoreLeavesStateUnchanged(t *testing.T) {
	e := newTestEngine(nil)
	s := walk(t, e, e.Fresh("s1"), Input{Option: "myself"}, Input{Option: "home"}, Input{Option: "kitchen"})
	require.Equal(t, model.StepPreferences, s.CurrentStep)

	for i := 0; i < 2; i++ {
		tr, err := e.Advance(context.Background(), "owner-1", s, Input{Option: "load_more"})
		require.NoError(t, err)
		assert.True(t, tr.RevealMore)
		assert.False(t, tr.Changed())
		assert.Equal(t, []string{"100_to_250", "over_250"}, tr.MoreOptions)
		assert.Equal(t, s, tr.State)
	}

	s = walk(t, e, s, Input{Option: "over_250"})
	answer, ok := s.Answer("budget")
	assert.True(t, ok)
	assert.Equal(t, "over_250", answer)
}

func TestAdvance_Errors(t *testing.T) {
	e := newTestEngine(nil)
	fresh := e.Fresh("s1")
	atCategory := walk(t, e, fresh, Input{Option: "myself"})
	atName := walk(t, e, fresh, Input{Option: "others"}, Input{Option: "friend"})
	atAge := walk(t, e, atName, Input{Text: "Sam"})
	atSurface := walk(t, e, atCategory,
		Input{Option: "fashion"}, Input{Option: "shoes"},
		Input{Option: "under_25"}, Input{Option: "classic"}, Input{Option: "birthday"},
	)
	complete := walk(t, e, atSurface, Input{Option: "purchase", Text: "Red sneakers"})

	tests := []struct {
		name  string
		state model.FlowState
		in    Input
		want  apperr.Code
	}{
		{"unknown entry", fresh, Input{Option: "robots"}, apperr.CodeInvalidSelection},
		{"empty entry", fresh, Input{}, apperr.CodeInvalidSelection},
		{"category from other branch", atCategory, Input{Option: "books"}, apperr.CodeInvalidSelection},
		{"empty name", atName, Input{Text: "   "}, apperr.CodeValidation},
		{"age not a number", atAge, Input{Text: "sixty"}, apperr.CodeValidation},
		{"age too low", atAge, Input{Text: "17"}, apperr.CodeValidation},
		{"age too high", atAge, Input{Text: "121"}, apperr.CodeValidation},
		{"purchase without item", atSurface, Input{Option: "purchase"}, apperr.CodeValidation},
		{"unknown outcome", atSurface, Input{Option: "maybe"}, apperr.CodeInvalidSelection},
		{"terminal", complete, Input{Option: "finish"}, apperr.CodeTerminalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.state.Clone()
			_, err := e.Advance(context.Background(), "owner-1", tt.state, tt.in)
			assert.True(t, apperr.Is(err, tt.want), "got %v", err)
			assert.Equal(t, before, tt.state)
		})
	}
}

func TestAdvance_InvalidSelectionListsAllowed(t *testing.T) {
	e := newTestEngine(nil)

	_, err := e.Advance(context.Background(), "owner-1", e.Fresh("s1"), Input{Option: "robots"})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{"myself", "others", "browsing"}, appErr.Details["allowed"])
}

func TestAdvance_PurchaseRecordsItem(t *testing.T) {
	e := newTestEngine(nil)

	s := walk(t, e, e.Fresh("s1"),
		Input{Option: "browsing"}, Input{Option: "trending"}, Input{Option: "top_rated"},
		Input{Option: "25_to_50"}, Input{Option: "modern"}, Input{Option: "holiday"},
		Input{Option: "purchase", Text: "Desk lamp"},
	)
	require.NotNil(t, s.Outcome)
	assert.Equal(t, model.OutcomePurchased, s.Outcome.Kind)
	assert.Equal(t, "Desk lamp", s.Outcome.Item)
	assert.Equal(t, testNow, s.Outcome.CompletedAt)
}

func TestDeriveStep_MatchesAfterEveryAdvance(t *testing.T) {
	e := newTestEngine(&fakeRecognizer{})
	s := e.Fresh("s1")
	inputs := []Input{
		{Option: "others"}, {Option: "partner", Text: "Alex"}, {Text: "40"},
		{Option: "female"}, {Values: []string{"travel"}}, {Option: "experiences"},
		{Option: "dining"}, {Option: "50_to_100"}, {Option: "luxury"},
		{Option: "anniversary"}, {Option: "finish"},
	}
	for _, in := range inputs {
		tr, err := e.Advance(context.Background(), "owner-1", s, in)
		require.NoError(t, err)
		assert.Equal(t, DeriveStep(e.Definition(), tr.State), tr.State.CurrentStep)
		s = tr.State
	}
	assert.Equal(t, model.StepComplete, s.CurrentStep)
}

func TestTrail(t *testing.T) {
	e := newTestEngine(nil)
	s := walk(t, e, e.Fresh("s1"),
		Input{Option: "myself"}, Input{Option: "fashion"}, Input{Option: "shoes"}, Input{Option: "under_25"},
	)

	trail := Trail(e.Definition(), s)
	require.Len(t, trail, 4)
	assert.Equal(t, TrailEntry{Step: model.StepEntry, Value: "myself", Label: "For myself"}, trail[0])
	assert.Equal(t, model.StepSubcategory, trail[2].Step)
	assert.Equal(t, TrailEntry{Step: model.StepPreferences, Value: "under_25", Label: "Under $25", QuestionID: "budget"}, trail[3])

	assert.Empty(t, Trail(e.Definition(), e.Fresh("s2")))
}
