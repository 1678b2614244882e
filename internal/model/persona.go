package model

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// Age bounds for a persona.
const (
	MinAge = 18
	MaxAge = 120
)

// Gender is a persona's gender token.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Genders lists the accepted gender tokens.
var Genders = []Gender{GenderMale, GenderFemale, GenderOther}

// ParseGender normalizes and validates a gender token.
func ParseGender(s string) (Gender, bool) {
	g := Gender(strings.ToLower(strings.TrimSpace(s)))
	return g, slices.Contains(Genders, g)
}

// Purchase is the most recent purchase made for a persona.
type Purchase struct {
	Item     string    `json:"item"`
	Occasion string    `json:"occasion,omitempty"`
	Date     time.Time `json:"date"`
}

// Persona is a stored recipient profile.
type Persona struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	Age          *int      `json:"age,omitempty"`
	Gender       Gender    `json:"gender,omitempty"`
	Interests    []string  `json:"interests,omitempty"`
	LastPurchase *Purchase `json:"last_purchase,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Missing returns the collectable attributes absent on the record, in
// collection order.
func (p *Persona) Missing() []Attribute {
	var missing []Attribute
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, AttrName)
	}
	if p.Age == nil {
		missing = append(missing, AttrAge)
	}
	if p.Gender == "" {
		missing = append(missing, AttrGender)
	}
	if len(p.Interests) == 0 {
		missing = append(missing, AttrInterests)
	}
	return missing
}

// Validate checks the fields required for a complete persona.
func (p *Persona) Validate() error {
	if p.Type == "" {
		return errors.New("type is required")
	}
	if p.Type != strings.ToLower(p.Type) {
		return errors.New("type must be lowercase")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if p.Age == nil {
		return errors.New("age is required")
	}
	if *p.Age < MinAge || *p.Age > MaxAge {
		return errors.New("age must be between 18 and 120")
	}
	if !slices.Contains(Genders, p.Gender) {
		return errors.New("gender must be one of male, female, other")
	}
	return nil
}

// Clone returns a deep copy.
func (p *Persona) Clone() *Persona {
	if p == nil {
		return nil
	}
	c := *p
	if p.Age != nil {
		age := *p.Age
		c.Age = &age
	}
	c.Interests = slices.Clone(p.Interests)
	if p.LastPurchase != nil {
		lp := *p.LastPurchase
		c.LastPurchase = &lp
	}
	return &c
}

// PersonaPatch is a partial update. Nil fields are left unchanged.
type PersonaPatch struct {
	Name         *string   `json:"name,omitempty"`
	Age          *int      `json:"age,omitempty"`
	Gender       *Gender   `json:"gender,omitempty"`
	Interests    []string  `json:"interests,omitempty"`
	LastPurchase *Purchase `json:"last_purchase,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p PersonaPatch) Empty() bool {
	return p.Name == nil && p.Age == nil && p.Gender == nil && p.Interests == nil && p.LastPurchase == nil
}

// Apply returns a copy of persona with the patch applied.
func (p PersonaPatch) Apply(persona *Persona) *Persona {
	c := persona.Clone()
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Age != nil {
		age := *p.Age
		c.Age = &age
	}
	if p.Gender != nil {
		c.Gender = *p.Gender
	}
	if p.Interests != nil {
		c.Interests = slices.Clone(p.Interests)
	}
	if p.LastPurchase != nil {
		lp := *p.LastPurchase
		c.LastPurchase = &lp
	}
	return c
}

// CreatePersonaRequest is the request to create a persona.
type CreatePersonaRequest struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Age       *int     `json:"age"`
	Gender    string   `json:"gender"`
	Interests []string `json:"interests,omitempty"`
}

// ListPersonasResponse is the response for listing personas.
type ListPersonasResponse struct {
	Personas []Persona `json:"personas"`
	Total    int       `json:"total"`
}

// RecognitionResult is the outcome of matching a recipient against stored personas.
type RecognitionResult struct {
	Found      bool        `json:"found"`
	Persona    *Persona    `json:"persona,omitempty"`
	NeedsInfo  []Attribute `json:"needs_info"`
	Message    string      `json:"message"`
	Candidates int         `json:"candidates"`
}
