package flow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
)

func TestDefaultDefinition(t *testing.T) {
	def := DefaultDefinition()

	assert.Equal(t, []string{"myself", "others", "browsing"}, def.EntryTokens())
	assert.True(t, def.NeedsRecipient("others"))
	assert.False(t, def.NeedsRecipient("myself"))
	assert.False(t, def.NeedsRecipient("browsing"))
	require.Len(t, def.Preferences, 3)
	assert.Equal(t, "budget", def.Preferences[0].ID)
	assert.Contains(t, def.Preferences[0].Options, "25_to_50")
}

func TestOptionsFor(t *testing.T) {
	def := DefaultDefinition()

	tests := []struct {
		name     string
		step     model.Step
		parent   string
		want     []string
		wantCode apperr.Code
	}{
		{name: "entry", step: model.StepEntry, want: []string{"myself", "others", "browsing"}},
		{name: "category for browsing", step: model.StepCategory, parent: "browsing", want: []string{"trending", "deals", "new_arrivals"}},
		{name: "subcategory", step: model.StepSubcategory, parent: "beauty", want: []string{"skincare", "makeup", "fragrance"}},
		{name: "preferences", step: model.StepPreferences, parent: "style", want: []string{"classic", "modern", "sporty", "bohemian", "load_more"}},
		{name: "gender", step: model.StepCollectGender, want: []string{"male", "female", "other"}},
		{name: "product surface", step: model.StepProductSurface, want: []string{"purchase", "finish"}},
		{name: "free text", step: model.StepCollectAge},
		{name: "unknown entry point", step: model.StepCategory, parent: "nobody", wantCode: apperr.CodeInvalidPath},
		{name: "unknown category", step: model.StepSubcategory, parent: "cars", wantCode: apperr.CodeInvalidPath},
		{name: "unknown question", step: model.StepPreferences, parent: "color", wantCode: apperr.CodeInvalidPath},
		{name: "unknown step", step: model.Step("checkout"), wantCode: apperr.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := def.OptionsFor(tt.step, tt.parent)
			if tt.wantCode != "" {
				assert.True(t, apperr.Is(err, tt.wantCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoreOptionsFor(t *testing.T) {
	def := DefaultDefinition()

	more, err := def.MoreOptionsFor("budget")
	require.NoError(t, err)
	assert.Equal(t, []string{"100_to_250", "over_250"}, more)

	_, err = def.MoreOptionsFor("color")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidPath))
}

func TestOptionsForReturnsCopies(t *testing.T) {
	def := DefaultDefinition()

	opts, err := def.OptionsFor(model.StepCategory, "myself")
	require.NoError(t, err)
	opts[0] = "mutated"

	again, err := def.OptionsFor(model.StepCategory, "myself")
	require.NoError(t, err)
	assert.Equal(t, "fashion", again[0])
}

func TestParseDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no entry points",
			yaml: "entry_points: []\n",
			want: "entry_points: no options",
		},
		{
			name: "category without subcategories",
			yaml: `
entry_points: [{token: myself}]
categories: {myself: [fashion]}
subcategories: {}
preferences: []
`,
			want: `category "fashion" has no subcategories`,
		},
		{
			name: "more options without load_more",
			yaml: `
entry_points: [{token: myself}]
categories: {myself: [fashion]}
subcategories: {fashion: [shoes]}
preferences:
  - id: budget
    question: "Budget?"
    options: [cheap]
    more: [expensive]
`,
			want: "more options without",
		},
		{
			name: "malformed token",
			yaml: `
entry_points: [{token: "For Me"}]
categories: {"For Me": [fashion]}
subcategories: {fashion: [shoes]}
`,
			want: "malformed token",
		},
		{
			name: "recipient entry without recipients",
			yaml: `
entry_points: [{token: others, recipient: true}]
categories: {others: [fashion]}
subcategories: {fashion: [shoes]}
`,
			want: "recipients: no options",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entry_points: [{token: myself}]
categories: {myself: [fashion]}
subcategories: {fashion: [shoes, hats]}
preferences:
  - id: budget
    question: "Budget?"
    options: [cheap, load_more]
    more: [fancy]
`), 0o600))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"myself"}, def.EntryTokens())
	assert.Equal(t, []string{"cheap", "fancy"}, def.Preferences[0].Choices())

	def, err = LoadDefinition("")
	require.NoError(t, err)
	assert.Len(t, def.EntryPoints, 3)

	_, err = LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
