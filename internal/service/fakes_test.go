package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/llm"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/persona"
)

// memoryPersonas is an in-memory persona.Store.
type memoryPersonas struct {
	mu      sync.Mutex
	byID    map[string]model.Persona
	nextID  int
	creates int
	updates int
	failAll error
}

func newMemoryPersonas(seed ...model.Persona) *memoryPersonas {
	m := &memoryPersonas{byID: map[string]model.Persona{}}
	for _, p := range seed {
		if p.ID == "" {
			m.nextID++
			p.ID = "p-" + strconv.Itoa(m.nextID)
		}
		m.byID[p.ID] = p
	}
	return m
}

var _ persona.Store = (*memoryPersonas)(nil)

func (m *memoryPersonas) FindByType(_ context.Context, ownerID, personaType string) ([]model.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	var out []model.Persona
	for _, p := range m.sorted() {
		if p.OwnerID == ownerID && p.Type == personaType {
			out = append(out, *p.Clone())
		}
	}
	return out, nil
}

func (m *memoryPersonas) FindByTypeAndName(ctx context.Context, ownerID, personaType, name string) (*model.Persona, error) {
	all, err := m.FindByType(ctx, ownerID, personaType)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memoryPersonas) Create(_ context.Context, p model.Persona) (model.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return model.Persona{}, m.failAll
	}
	m.nextID++
	p.ID = "p-" + strconv.Itoa(m.nextID)
	m.byID[p.ID] = *p.Clone()
	m.creates++
	return p, nil
}

func (m *memoryPersonas) Update(_ context.Context, ownerID, id string, patch model.PersonaPatch) (model.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return model.Persona{}, m.failAll
	}
	p, ok := m.byID[id]
	if !ok || p.OwnerID != ownerID {
		return model.Persona{}, apperr.NewNotFound("persona", id)
	}
	updated := *patch.Apply(&p)
	m.byID[id] = updated
	m.updates++
	return updated, nil
}

func (m *memoryPersonas) Get(_ context.Context, ownerID, id string) (model.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok || p.OwnerID != ownerID {
		return model.Persona{}, apperr.NewNotFound("persona", id)
	}
	return *p.Clone(), nil
}

func (m *memoryPersonas) List(_ context.Context, ownerID string, filter persona.ListFilter) ([]model.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Persona
	for _, p := range m.sorted() {
		if p.OwnerID != ownerID || (filter.Type != "" && p.Type != filter.Type) {
			continue
		}
		if filter.Name != "" && !strings.EqualFold(p.Name, filter.Name) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryPersonas) Delete(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok || p.OwnerID != ownerID {
		return apperr.NewNotFound("persona", id)
	}
	delete(m.byID, id)
	return nil
}

func (m *memoryPersonas) sorted() []model.Persona {
	out := make([]model.Persona, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryPersonas) all() []model.Persona {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted()
}

// memoryLog is an in-memory ConversationLog.
type memoryLog struct {
	mu    sync.Mutex
	turns []model.Turn
	err   error
}

func (l *memoryLog) Append(_ context.Context, turn model.Turn) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	turn.Sequence = uint64(len(l.turns) + 1)
	l.turns = append(l.turns, turn)
	return turn.Sequence, nil
}

func (l *memoryLog) List(_ context.Context, userID, sessionID string, after uint64, limit int) ([]model.Turn, uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, 0, false, l.err
	}
	var (
		out  []model.Turn
		last uint64
	)
	for _, t := range l.turns {
		if t.UserID != userID || t.SessionID != sessionID || t.Sequence <= after {
			continue
		}
		if len(out) == limit {
			return out, last, true, nil
		}
		out = append(out, t)
		last = t.Sequence
	}
	return out, last, false, nil
}

// fakeLLM returns a canned completion.
type fakeLLM struct {
	content string
	err     error
	delay   time.Duration
	calls   int
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content, Model: "fake-model", TokensIn: 10, TokensOut: 5, Latency: 3 * time.Millisecond}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

var errUnavailable = errors.New("connection refused")
