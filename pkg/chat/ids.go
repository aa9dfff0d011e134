package chat

import (
	"strings"

	"github.com/google/uuid"
)

const conversationIDPrefix = "thread_"

// NewConversationID mints a fresh conversation id of the form thread_<uuid-v4>.
func NewConversationID() string {
	return conversationIDPrefix + uuid.NewString()
}

// IsConversationID reports whether s has the shape produced by NewConversationID.
func IsConversationID(s string) bool {
	rest, ok := strings.CutPrefix(s, conversationIDPrefix)
	if !ok {
		return false
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.Variant() == uuid.RFC4122
}
