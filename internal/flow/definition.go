// Package flow implements the guided shopping flow: the decision-tree
// definition, step derivation, the transition engine and the manager that
// persists transitions through the assistant state store.
package flow

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
)

// Product surface options.
const (
	OptionPurchase = "purchase"
	OptionFinish   = "finish"
)

//go:embed default_flow.yaml
var defaultFlowYAML []byte

// EntryPoint is a first-level branch of the flow.
type EntryPoint struct {
	Token string `yaml:"token"`
	// Recipient marks entry points that shop for a third party and
	// therefore go through recipient identification.
	Recipient bool `yaml:"recipient"`
}

// PreferenceQuestion is one question of the preference block.
type PreferenceQuestion struct {
	ID       string   `yaml:"id"`
	Question string   `yaml:"question"`
	Options  []string `yaml:"options"`
	More     []string `yaml:"more"`
}

// Choices returns every answer accepted for the question.
func (q PreferenceQuestion) Choices() []string {
	out := make([]string, 0, len(q.Options)+len(q.More))
	for _, o := range q.Options {
		if o != LoadMore {
			out = append(out, o)
		}
	}
	return append(out, q.More...)
}

// Definition is the immutable decision tree. It is safe for concurrent use.
type Definition struct {
	EntryPoints   []EntryPoint          `yaml:"entry_points"`
	Recipients    []string              `yaml:"recipients"`
	Interests     []string              `yaml:"interests"`
	Categories    map[string][]string   `yaml:"categories"`
	Subcategories map[string][]string   `yaml:"subcategories"`
	Preferences   []PreferenceQuestion  `yaml:"preferences"`
	Prompts       map[model.Step]string `yaml:"prompts"`
}

// DefaultDefinition returns the embedded flow definition.
func DefaultDefinition() *Definition {
	def, err := ParseDefinition(defaultFlowYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded flow definition is invalid: %v", err))
	}
	return def
}

// LoadDefinition reads a definition from a YAML file. An empty path loads
// the embedded default.
func LoadDefinition(path string) (*Definition, error) {
	if path == "" {
		return DefaultDefinition(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow definition: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes and validates a YAML definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse flow definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks that every token referenced by a step exists in the
// preceding step's option set.
func (d *Definition) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	tokens := func(where string, list []string) {
		check(len(list) > 0, "%s: no options", where)
		seen := map[string]bool{}
		for _, tok := range list {
			check(IsToken(tok), "%s: malformed token %q", where, tok)
			check(!seen[tok], "%s: duplicate token %q", where, tok)
			seen[tok] = true
		}
	}

	check(len(d.EntryPoints) > 0, "entry_points: no options")
	entries := map[string]bool{}
	needsRecipient := false
	for _, ep := range d.EntryPoints {
		check(IsToken(ep.Token), "entry_points: malformed token %q", ep.Token)
		check(!entries[ep.Token], "entry_points: duplicate token %q", ep.Token)
		check(ep.Token != LoadMore, "entry_points: %q is reserved", LoadMore)
		entries[ep.Token] = true
		needsRecipient = needsRecipient || ep.Recipient
	}
	if needsRecipient {
		tokens("recipients", d.Recipients)
	}
	for _, tok := range d.Interests {
		check(IsToken(tok), "interests: malformed token %q", tok)
	}

	listed := map[string]bool{}
	for _, ep := range d.EntryPoints {
		cats, ok := d.Categories[ep.Token]
		check(ok, "categories: entry point %q has no categories", ep.Token)
		tokens("categories."+ep.Token, cats)
		for _, c := range cats {
			check(c != LoadMore, "categories.%s: %q is reserved", ep.Token, LoadMore)
			listed[c] = true
		}
	}
	for parent := range d.Categories {
		check(entries[parent], "categories: unknown entry point %q", parent)
	}
	for c := range listed {
		subs, ok := d.Subcategories[c]
		check(ok, "subcategories: category %q has no subcategories", c)
		tokens("subcategories."+c, subs)
		check(!slices.Contains(subs, LoadMore), "subcategories.%s: %q is reserved", c, LoadMore)
	}
	for parent := range d.Subcategories {
		check(listed[parent], "subcategories: unknown category %q", parent)
	}

	ids := map[string]bool{}
	for i, q := range d.Preferences {
		where := fmt.Sprintf("preferences[%d]", i)
		check(IsToken(q.ID), "%s: malformed id %q", where, q.ID)
		check(!ids[q.ID], "%s: duplicate id %q", where, q.ID)
		ids[q.ID] = true
		check(q.Question != "", "%s: question text is required", where)
		tokens(where+".options", q.Options)
		check(len(q.Choices()) > 0, "%s: no selectable options", where)
		check(!slices.Contains(q.More, LoadMore), "%s.more: %q is not allowed", where, LoadMore)
		check(len(q.More) == 0 || slices.Contains(q.Options, LoadMore), "%s: more options without %q", where, LoadMore)
		for _, m := range q.More {
			check(IsToken(m), "%s.more: malformed token %q", where, m)
			check(!slices.Contains(q.Options, m), "%s.more: duplicate token %q", where, m)
		}
	}

	for step := range d.Prompts {
		check(step.Valid(), "prompts: unknown step %q", step)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid flow definition: %w", errors.Join(errs...))
	}
	return nil
}

// EntryTokens returns the entry point tokens in order.
func (d *Definition) EntryTokens() []string {
	out := make([]string, len(d.EntryPoints))
	for i, ep := range d.EntryPoints {
		out[i] = ep.Token
	}
	return out
}

// NeedsRecipient reports whether the entry point identifies a recipient.
func (d *Definition) NeedsRecipient(entry string) bool {
	for _, ep := range d.EntryPoints {
		if ep.Token == entry {
			return ep.Recipient
		}
	}
	return false
}

// Question returns the i-th preference question.
func (d *Definition) Question(i int) (PreferenceQuestion, bool) {
	if i < 0 || i >= len(d.Preferences) {
		return PreferenceQuestion{}, false
	}
	return d.Preferences[i], true
}

func (d *Definition) questionByID(id string) (PreferenceQuestion, bool) {
	for _, q := range d.Preferences {
		if q.ID == id {
			return q, true
		}
	}
	return PreferenceQuestion{}, false
}

// OptionsFor returns the legal options for a step. parent is the entry point
// for the category step, the category for the subcategory step and the
// question id for the preferences step; it is ignored elsewhere. Steps that
// take free text return no options.
func (d *Definition) OptionsFor(step model.Step, parent string) ([]string, error) {
	switch step {
	case model.StepEntry:
		return d.EntryTokens(), nil
	case model.StepIdentifyRecipient:
		return slices.Clone(d.Recipients), nil
	case model.StepCollectGender:
		out := make([]string, len(model.Genders))
		for i, g := range model.Genders {
			out[i] = string(g)
		}
		return out, nil
	case model.StepCollectInterests:
		return slices.Clone(d.Interests), nil
	case model.StepCategory:
		cats, ok := d.Categories[parent]
		if !ok {
			return nil, apperr.NewInvalidPath(string(step), parent)
		}
		return slices.Clone(cats), nil
	case model.StepSubcategory:
		subs, ok := d.Subcategories[parent]
		if !ok {
			return nil, apperr.NewInvalidPath(string(step), parent)
		}
		return slices.Clone(subs), nil
	case model.StepPreferences:
		q, ok := d.questionByID(parent)
		if !ok {
			return nil, apperr.NewInvalidPath(string(step), parent)
		}
		return slices.Clone(q.Options), nil
	case model.StepProductSurface:
		return []string{OptionPurchase, OptionFinish}, nil
	case model.StepRecognizePersona, model.StepCollectName, model.StepCollectAge, model.StepComplete:
		return nil, nil
	}
	return nil, apperr.NewValidation(fmt.Sprintf("unknown step %q", step))
}

// MoreOptionsFor returns the options revealed by load_more for a question.
func (d *Definition) MoreOptionsFor(questionID string) ([]string, error) {
	q, ok := d.questionByID(questionID)
	if !ok {
		return nil, apperr.NewInvalidPath(string(model.StepPreferences), questionID)
	}
	return slices.Clone(q.More), nil
}

// Prompt returns the static question text for a step.
func (d *Definition) Prompt(step model.Step) string {
	return d.Prompts[step]
}
