// Package persona decides whether a stored recipient profile already answers
// the questions the guided flow would otherwise ask.
package persona

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

var tracer = otel.Tracer("github.com/capitalize-ai/shopping-assistant/internal/persona")

// Store is the persona storage the assistant depends on. Every call is
// scoped to the owning user.
type Store interface {
	FindByType(ctx context.Context, ownerID, personaType string) ([]model.Persona, error)
	// FindByTypeAndName returns nil when no persona matches.
	FindByTypeAndName(ctx context.Context, ownerID, personaType, name string) (*model.Persona, error)
	Create(ctx context.Context, p model.Persona) (model.Persona, error)
	Update(ctx context.Context, ownerID, id string, patch model.PersonaPatch) (model.Persona, error)
	Get(ctx context.Context, ownerID, id string) (model.Persona, error)
	List(ctx context.Context, ownerID string, filter ListFilter) ([]model.Persona, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Type  string
	Name  string
	Limit int
}

// Recognizer matches a recipient type and optional name against the owner's
// stored personas. It never writes.
type Recognizer struct {
	store  Store
	logger *logger.Logger
}

// NewRecognizer creates a recognizer.
func NewRecognizer(store Store, log *logger.Logger) *Recognizer {
	if log == nil {
		log = logger.Global()
	}
	return &Recognizer{store: store, logger: log}
}

// Recognize applies the matching policy:
//   - a name matching exactly one persona of the type is a match; only the
//     attributes missing on that record are asked for
//   - a name matching nothing, with at most one persona of the type, is a new
//     persona
//   - without a name, a single persona of the type is a tentative match that
//     still needs the name confirmed
//   - several candidates are never guessed between; everything is asked for
func (r *Recognizer) Recognize(ctx context.Context, ownerID, recipientType, name string) (model.RecognitionResult, error) {
	recipientType = strings.ToLower(strings.TrimSpace(recipientType))
	if recipientType == "" {
		return model.RecognitionResult{}, apperr.NewValidation("recipient type is required")
	}
	name = strings.Join(strings.Fields(name), " ")

	ctx, span := tracer.Start(ctx, "persona.Recognize")
	defer span.End()
	span.SetAttributes(attribute.String("persona.type", recipientType), attribute.Bool("persona.named", name != ""))

	candidates, err := r.store.FindByType(ctx, ownerID, recipientType)
	if err != nil {
		span.RecordError(err)
		metrics.RecordRecognition("error")
		if apperr.CodeOf(err) == apperr.CodeStorageUnavailable {
			return model.RecognitionResult{}, err
		}
		return model.RecognitionResult{}, apperr.NewStorageUnavailable("failed to find personas", err)
	}

	res := decide(recipientType, name, candidates)
	span.SetAttributes(attribute.Bool("persona.found", res.Found), attribute.Int("persona.candidates", res.Candidates))
	metrics.RecordRecognition(outcome(name, res))

	r.logger.Debug("persona recognition",
		zap.String("owner_id", ownerID),
		zap.String("recipient_type", recipientType),
		zap.Bool("found", res.Found),
		zap.Int("candidates", res.Candidates),
	)
	return res, nil
}

func decide(recipientType, name string, candidates []model.Persona) model.RecognitionResult {
	allButName := []model.Attribute{model.AttrAge, model.AttrGender, model.AttrInterests}

	if name != "" {
		var matches []model.Persona
		for _, p := range candidates {
			if strings.EqualFold(strings.TrimSpace(p.Name), name) {
				matches = append(matches, p)
			}
		}
		switch {
		case len(matches) == 1:
			p := matches[0]
			return model.RecognitionResult{
				Found:      true,
				Persona:    p.Clone(),
				NeedsInfo:  without(p.Missing(), model.AttrName),
				Message:    fmt.Sprintf("Welcome back! Shopping for %s again?", p.Name),
				Candidates: 1,
			}
		case len(matches) == 0 && len(candidates) <= 1:
			return model.RecognitionResult{
				NeedsInfo: allButName,
				Message:   fmt.Sprintf("I don't know %s yet. I'll remember them once we're done.", name),
			}
		default:
			return ambiguous(recipientType, name, max(len(matches), len(candidates)))
		}
	}

	switch len(candidates) {
	case 0:
		return model.RecognitionResult{
			NeedsInfo: slices.Clone(model.AllAttributes),
			Message:   fmt.Sprintf("Tell me a little about your %s.", recipientType),
		}
	case 1:
		p := candidates[0]
		return model.RecognitionResult{
			Found:      true,
			Persona:    p.Clone(),
			NeedsInfo:  append([]model.Attribute{model.AttrName}, without(p.Missing(), model.AttrName)...),
			Message:    fmt.Sprintf("Is this for %s?", p.Name),
			Candidates: 1,
		}
	default:
		return ambiguous(recipientType, "", len(candidates))
	}
}

// ambiguous asks for the name only when the caller has not given one.
func ambiguous(recipientType, name string, n int) model.RecognitionResult {
	msg := fmt.Sprintf("You have a few saved %s profiles. What's their name?", recipientType)
	if name != "" {
		msg = fmt.Sprintf("You have a few saved %s profiles, so I'll ask about %s from the start.", recipientType, name)
	}
	return model.RecognitionResult{
		NeedsInfo:  slices.Clone(model.AllAttributes),
		Message:    msg,
		Candidates: n,
	}
}

func without(attrs []model.Attribute, drop model.Attribute) []model.Attribute {
	out := []model.Attribute{}
	for _, a := range attrs {
		if a != drop {
			out = append(out, a)
		}
	}
	return out
}

func outcome(name string, res model.RecognitionResult) string {
	switch {
	case res.Found && name == "":
		return "tentative"
	case res.Found:
		return "found"
	case res.Candidates > 1:
		return "ambiguous"
	default:
		return "new"
	}
}
