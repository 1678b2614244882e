package flow

import (
	"github.com/capitalize-ai/shopping-assistant/internal/model"
)

// DeriveStep computes the current step from the answers a state holds. It is
// the only source of FlowState.CurrentStep.
func DeriveStep(def *Definition, s model.FlowState) model.Step {
	if s.Outcome != nil {
		return model.StepComplete
	}
	if s.EntryPoint == "" {
		return model.StepEntry
	}
	if def.NeedsRecipient(s.EntryPoint) {
		r := s.Recipient
		if r == nil {
			return model.StepIdentifyRecipient
		}
		if !r.Recognized {
			return model.StepRecognizePersona
		}
		if attr, ok := r.NextMissing(); ok {
			return attr.CollectStep()
		}
	}
	if s.Category == "" {
		return model.StepCategory
	}
	if s.Subcategory == "" {
		return model.StepSubcategory
	}
	if len(s.Preferences) < len(def.Preferences) {
		return model.StepPreferences
	}
	return model.StepProductSurface
}

// Consistent reports whether the stored step matches the derived one.
func Consistent(def *Definition, s model.FlowState) bool {
	return s.CurrentStep == DeriveStep(def, s)
}

// TrailEntry is one completed step, for progress display.
type TrailEntry struct {
	Step  model.Step `json:"step"`
	Value string     `json:"value,omitempty"`
	Label string     `json:"label,omitempty"`
	// QuestionID is set for preference entries.
	QuestionID string `json:"question_id,omitempty"`
}

// Trail returns the ordered steps the session has passed through.
func Trail(def *Definition, s model.FlowState) []TrailEntry {
	var trail []TrailEntry
	add := func(step model.Step, value string) {
		trail = append(trail, TrailEntry{Step: step, Value: value, Label: FormatLabel(value)})
	}

	if s.EntryPoint == "" {
		return trail
	}
	add(model.StepEntry, s.EntryPoint)

	if def.NeedsRecipient(s.EntryPoint) && s.Recipient != nil {
		r := s.Recipient
		add(model.StepIdentifyRecipient, r.Type)
		if r.Recognized {
			trail = append(trail, TrailEntry{Step: model.StepRecognizePersona, Value: r.PersonaID})
		}
		for _, attr := range r.Collected {
			trail = append(trail, TrailEntry{Step: attr.CollectStep(), Value: string(attr)})
		}
	}

	if s.Category != "" {
		add(model.StepCategory, s.Category)
	}
	if s.Subcategory != "" {
		add(model.StepSubcategory, s.Subcategory)
	}
	for _, p := range s.Preferences {
		trail = append(trail, TrailEntry{
			Step:       model.StepPreferences,
			Value:      p.Answer,
			Label:      FormatLabel(p.Answer),
			QuestionID: p.QuestionID,
		})
	}
	if s.Outcome != nil {
		add(model.StepProductSurface, string(s.Outcome.Kind))
	}
	return trail
}
