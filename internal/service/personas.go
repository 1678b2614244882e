package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/persona"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

const (
	maxPersonaNameLength = 80
	maxPersonaInterests  = 20
	sourceAPI            = "api"
)

// PersonaService handles persona management outside the guided flow.
type PersonaService struct {
	store      persona.Store
	recognizer *persona.Recognizer
	logger     *logger.Logger
}

// NewPersonaService creates a new persona service.
func NewPersonaService(store persona.Store, recognizer *persona.Recognizer, log *logger.Logger) *PersonaService {
	if log == nil {
		log = logger.Global()
	}
	if recognizer == nil {
		recognizer = persona.NewRecognizer(store, log)
	}
	return &PersonaService{store: store, recognizer: recognizer, logger: log}
}

// Create validates and stores a new persona.
func (s *PersonaService) Create(ctx context.Context, ownerID string, req *model.CreatePersonaRequest) (*model.Persona, error) {
	gender, ok := model.ParseGender(req.Gender)
	if !ok {
		return nil, apperr.NewValidation("gender must be one of male, female, other")
	}
	name, err := cleanName(req.Name)
	if err != nil {
		return nil, err
	}
	interests, err := cleanInterests(req.Interests)
	if err != nil {
		return nil, err
	}

	p := model.Persona{
		OwnerID:   ownerID,
		Type:      strings.ToLower(strings.TrimSpace(req.Type)),
		Name:      name,
		Age:       req.Age,
		Gender:    gender,
		Interests: interests,
	}
	if err := p.Validate(); err != nil {
		return nil, apperr.NewValidation(err.Error())
	}

	created, err := s.store.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	metrics.RecordPersonaWrite("create", sourceAPI)
	s.logger.Info("persona created",
		zap.String("owner_id", ownerID),
		zap.String("persona_id", created.ID),
		zap.String("type", created.Type),
	)
	return &created, nil
}

// Get returns one of the owner's personas.
func (s *PersonaService) Get(ctx context.Context, ownerID, id string) (*model.Persona, error) {
	p, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns the owner's personas matching the filter.
func (s *PersonaService) List(ctx context.Context, ownerID string, filter persona.ListFilter) (*model.ListPersonasResponse, error) {
	filter.Type = strings.ToLower(strings.TrimSpace(filter.Type))
	personas, err := s.store.List(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}
	if personas == nil {
		personas = []model.Persona{}
	}
	return &model.ListPersonasResponse{Personas: personas, Total: len(personas)}, nil
}

// Update applies a validated partial update.
func (s *PersonaService) Update(ctx context.Context, ownerID, id string, patch model.PersonaPatch) (*model.Persona, error) {
	if patch.Empty() {
		return nil, apperr.NewValidation("no fields to update")
	}
	if patch.Name != nil {
		name, err := cleanName(*patch.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if patch.Age != nil && (*patch.Age < model.MinAge || *patch.Age > model.MaxAge) {
		return nil, apperr.NewValidation(fmt.Sprintf("age must be between %d and %d", model.MinAge, model.MaxAge))
	}
	if patch.Gender != nil {
		g, ok := model.ParseGender(string(*patch.Gender))
		if !ok {
			return nil, apperr.NewValidation("gender must be one of male, female, other")
		}
		patch.Gender = &g
	}
	if patch.Interests != nil {
		interests, err := cleanInterests(patch.Interests)
		if err != nil {
			return nil, err
		}
		patch.Interests = interests
	}

	updated, err := s.store.Update(ctx, ownerID, id, patch)
	if err != nil {
		return nil, err
	}
	metrics.RecordPersonaWrite("update", sourceAPI)
	return &updated, nil
}

// Delete removes one of the owner's personas.
func (s *PersonaService) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.store.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	metrics.RecordPersonaWrite("delete", sourceAPI)
	s.logger.Info("persona deleted", zap.String("owner_id", ownerID), zap.String("persona_id", id))
	return nil
}

// Recognize runs recognition without touching any flow state.
func (s *PersonaService) Recognize(ctx context.Context, ownerID, recipientType, name string) (*model.RecognitionResult, error) {
	res, err := s.recognizer.Recognize(ctx, ownerID, recipientType, name)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func cleanName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", apperr.NewValidation("name is required")
	}
	if utf8.RuneCountInString(name) > maxPersonaNameLength {
		return "", apperr.NewValidation("name exceeds maximum length")
	}
	return name, nil
}

func cleanInterests(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) > maxPersonaInterests {
		return nil, apperr.NewValidation(fmt.Sprintf("at most %d interests allowed", maxPersonaInterests))
	}
	return out, nil
}
