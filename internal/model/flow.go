// Package model defines data structures for the shopping assistant.
package model

import (
	"slices"
	"time"
)

// Step is a position in the guided question flow.
type Step string

const (
	StepEntry             Step = "entry"
	StepIdentifyRecipient Step = "identify_recipient"
	StepRecognizePersona  Step = "recognize_persona"
	StepCollectName       Step = "collect_name"
	StepCollectAge        Step = "collect_age"
	StepCollectGender     Step = "collect_gender"
	StepCollectInterests  Step = "collect_interests"
	StepCategory          Step = "category"
	StepSubcategory       Step = "subcategory"
	StepPreferences       Step = "preferences"
	StepProductSurface    Step = "product_surface"
	StepComplete          Step = "complete"
)

// Steps lists every step in flow order.
var Steps = []Step{
	StepEntry,
	StepIdentifyRecipient,
	StepRecognizePersona,
	StepCollectName,
	StepCollectAge,
	StepCollectGender,
	StepCollectInterests,
	StepCategory,
	StepSubcategory,
	StepPreferences,
	StepProductSurface,
	StepComplete,
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	return slices.Contains(Steps, s)
}

// Attribute names a recipient attribute the flow may need to collect.
type Attribute string

const (
	AttrName      Attribute = "name"
	AttrAge       Attribute = "age"
	AttrGender    Attribute = "gender"
	AttrInterests Attribute = "interests"
)

// AllAttributes is the collection order of recipient attributes.
var AllAttributes = []Attribute{AttrName, AttrAge, AttrGender, AttrInterests}

// CollectStep returns the step that collects the attribute.
func (a Attribute) CollectStep() Step {
	switch a {
	case AttrName:
		return StepCollectName
	case AttrAge:
		return StepCollectAge
	case AttrGender:
		return StepCollectGender
	case AttrInterests:
		return StepCollectInterests
	}
	return ""
}

// Recipient is the person a session is shopping for. Values may be collected
// from the user or pre-filled from a recognized persona.
type Recipient struct {
	Type      string   `json:"type"`
	Name      string   `json:"name,omitempty"`
	Age       *int     `json:"age,omitempty"`
	Gender    Gender   `json:"gender,omitempty"`
	Interests []string `json:"interests,omitempty"`

	// Recognition outcome
	Recognized bool        `json:"recognized"`
	NeedsInfo  []Attribute `json:"needs_info,omitempty"`
	Collected  []Attribute `json:"collected,omitempty"`
	PersonaID  string      `json:"persona_id,omitempty"`
	Persona    *Persona    `json:"persona,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Has reports whether the attribute currently has a value.
func (r *Recipient) Has(a Attribute) bool {
	switch a {
	case AttrName:
		return r.Name != ""
	case AttrAge:
		return r.Age != nil
	case AttrGender:
		return r.Gender != ""
	case AttrInterests:
		return len(r.Interests) > 0
	}
	return false
}

// NextMissing returns the first attribute in NeedsInfo that has no value yet.
func (r *Recipient) NextMissing() (Attribute, bool) {
	for _, a := range r.NeedsInfo {
		if !r.Has(a) {
			return a, true
		}
	}
	return "", false
}

// Clone returns a deep copy.
func (r *Recipient) Clone() *Recipient {
	if r == nil {
		return nil
	}
	c := *r
	if r.Age != nil {
		age := *r.Age
		c.Age = &age
	}
	c.Interests = slices.Clone(r.Interests)
	c.NeedsInfo = slices.Clone(r.NeedsInfo)
	c.Collected = slices.Clone(r.Collected)
	c.Persona = r.Persona.Clone()
	return &c
}

// PreferenceAnswer is the option chosen for one preference question.
type PreferenceAnswer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// OutcomeKind describes how a session reached completion.
type OutcomeKind string

const (
	OutcomeFinished  OutcomeKind = "finished"
	OutcomePurchased OutcomeKind = "purchased"
)

// Outcome is recorded when a session completes.
type Outcome struct {
	Kind        OutcomeKind `json:"kind"`
	Item        string      `json:"item,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
}

// FlowState is the progress of one guided session. CurrentStep is always
// the step derived from the other fields.
type FlowState struct {
	SessionID   string             `json:"session_id"`
	EntryPoint  string             `json:"entry_point,omitempty"`
	Category    string             `json:"category,omitempty"`
	Subcategory string             `json:"subcategory,omitempty"`
	Recipient   *Recipient         `json:"recipient,omitempty"`
	Preferences []PreferenceAnswer `json:"answered_preferences,omitempty"`
	Outcome     *Outcome           `json:"outcome,omitempty"`
	CurrentStep Step               `json:"current_step"`
	StartedAt   time.Time          `json:"started_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// NewFlowState returns a fresh state positioned at the entry step.
func NewFlowState(sessionID string, now time.Time) FlowState {
	return FlowState{
		SessionID:   sessionID,
		CurrentStep: StepEntry,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// IsFresh reports whether nothing has been answered yet.
func (s FlowState) IsFresh() bool {
	return s.EntryPoint == "" && s.Recipient == nil && s.Category == "" &&
		len(s.Preferences) == 0 && s.Outcome == nil
}

// Answer returns the answer recorded for a preference question.
func (s FlowState) Answer(questionID string) (string, bool) {
	for _, p := range s.Preferences {
		if p.QuestionID == questionID {
			return p.Answer, true
		}
	}
	return "", false
}

// Clone returns a deep copy.
func (s FlowState) Clone() FlowState {
	c := s
	c.Recipient = s.Recipient.Clone()
	c.Preferences = slices.Clone(s.Preferences)
	if s.Outcome != nil {
		o := *s.Outcome
		c.Outcome = &o
	}
	return c
}

// SessionReason records why a session was snapshotted.
type SessionReason string

const (
	ReasonCompleted SessionReason = "completed"
	ReasonAbandoned SessionReason = "abandoned"
)

// FlowSession is an immutable snapshot of a finished or abandoned session.
type FlowSession struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	OwnerID   string        `json:"owner_id"`
	Reason    SessionReason `json:"reason"`
	CreatedAt time.Time     `json:"created_at"`
	State     FlowState     `json:"state"`
}

// ListSessionsResponse is the response for listing session history.
type ListSessionsResponse struct {
	Sessions []FlowSession `json:"sessions"`
	Total    int           `json:"total"`
}
