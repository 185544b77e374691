package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatID_ParseRoundTrip(t *testing.T) {
	id := NewChatID()
	parsed, err := ParseChatID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.False(t, id.IsZero())
	assert.True(t, ChatID{}.IsZero())
}

func TestParseMessageID_Invalid(t *testing.T) {
	_, err := ParseMessageID("not-a-uuid")
	assert.Error(t, err)
}

func TestUserID_Domain(t *testing.T) {
	assert.Equal(t, "example.com", UserID("alice@example.com").Domain())
	assert.Equal(t, "", UserID("alice").Domain())
	assert.Equal(t, "ds.example.com", GroupID("0f1e@ds.example.com").Domain())
}

func TestChatAttributes_EqualNormalizesTitle(t *testing.T) {
	// precomposed vs combining acute
	a := ChatAttributes{Title: "caf\u00e9"}
	b := ChatAttributes{Title: "cafe\u0301"}
	assert.True(t, a.Equal(b))

	c := ChatAttributes{Title: "caf\u00e9", Picture: []byte{1}}
	assert.False(t, a.Equal(c))
	assert.True(t, a.TitleEqual(c))
}

func TestSystemMessage_String(t *testing.T) {
	leave := SystemMessage{Kind: SystemRemove, Actor: "a@x", Target: "a@x"}
	assert.Equal(t, "a@x left the conversation", leave.String())

	remove := SystemMessage{Kind: SystemRemove, Actor: "a@x", Target: "b@x"}
	assert.Equal(t, "a@x removed b@x from the conversation", remove.String())
}
