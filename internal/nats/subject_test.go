package nats

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/shopping-assistant/internal/model"
)

func TestTurnSubject(t *testing.T) {
	assert.Equal(t,
		"chat.user-1.0190a1b2-0000-7000-8000-000000000001.turn.user",
		TurnSubject("user-1", "0190a1b2-0000-7000-8000-000000000001", model.RoleUser),
	)
	assert.Equal(t, "chat.user-1.s1.turn.>", SessionFilter("user-1", "s1"))
}

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		in      string
		encoded bool
	}{
		{"user_42", false},
		{"auth0|abc", true},
		{"jane.doe@example.com", true},
		{"has space", true},
		{"wild*card", true},
		{"", true},
		{"b64_lookalike", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := subjectToken(tt.in)
			assert.NotContains(t, got, ".")
			assert.NotEmpty(t, got)
			if !tt.encoded {
				assert.Equal(t, tt.in, got)
				return
			}
			assert.True(t, strings.HasPrefix(got, "b64_"))
			decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(got, "b64_"))
			assert.NoError(t, err)
			assert.Equal(t, tt.in, string(decoded))
		})
	}
}

func TestStateKeyIsValidKVKey(t *testing.T) {
	for _, id := range []string{"user-1", "jane.doe@example.com", "auth0|abc/def"} {
		key := stateKey(id)
		assert.Regexp(t, `^[-_A-Za-z0-9]+$`, key)
	}
	assert.Equal(t, "assistant.state.user-1", NotifySubject("user-1"))
}
