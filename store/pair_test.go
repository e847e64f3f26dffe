package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKeyOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("u1", "u2"), PairKey("u2", "u1"))
	assert.Equal(t, [2]string{"u1", "u2"}, PairKey("u2", "u1"))
	assert.Equal(t, [2]string{"abc", "abd"}, PairKey("abd", "abc"))
}

func TestRecipient(t *testing.T) {
	m := &Message{Participants: PairKey("bob", "alice"), Sender: "bob"}
	assert.Equal(t, "alice", m.Recipient())

	m.Sender = "alice"
	assert.Equal(t, "bob", m.Recipient())
}

func TestValidateSend(t *testing.T) {
	assert.NoError(t, validateSend("u1", "u2", "hi"))

	for _, tc := range []struct {
		name                      string
		sender, receiver, content string
	}{
		{"empty receiver", "u1", "", "hi"},
		{"empty content", "u1", "u2", ""},
		{"self message", "u1", "u1", "hi"},
		{"empty sender", "", "u2", "hi"},
	} {
		err := validateSend(tc.sender, tc.receiver, tc.content)
		assert.Error(t, err, tc.name)
		assert.True(t, IsValidation(err), tc.name)
	}
}
