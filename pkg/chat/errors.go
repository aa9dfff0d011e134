package chat

import (
	stderrors "errors"
	"fmt"
)

// NotFoundKind distinguishes the lookups that can miss.
type NotFoundKind string

const (
	KindConversation NotFoundKind = "conversation"
	KindMessage      NotFoundKind = "message"
)

// NotFoundError is returned when a conversation or message id cannot be resolved.
// It maps to a 400 at the HTTP boundary.
type NotFoundError struct {
	Kind NotFoundKind
	ID   string
}

func (e *NotFoundError) Error() string {
	switch e.Kind {
	case KindMessage:
		return fmt.Sprintf("Message with id \"%s\" not found.", e.ID)
	case KindConversation:
		return fmt.Sprintf("Conversation with id \"%s\" not found.", e.ID)
	}
	return fmt.Sprintf("Entity with id \"%s\" not found.", e.ID)
}

func ConversationNotFound(id string) error {
	return &NotFoundError{Kind: KindConversation, ID: id}
}

func MessageNotFound(id string) error {
	return &NotFoundError{Kind: KindMessage, ID: id}
}

// AsNotFound unwraps err into a *NotFoundError.
func AsNotFound(err error) (*NotFoundError, bool) {
	var nf *NotFoundError
	if stderrors.As(err, &nf) {
		return nf, true
	}
	return nil, false
}

// ValidationError rejects a malformed request before any store or runtime access.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
