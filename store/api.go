package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is one immutable chat message between two users.
// Participants is always canonically sorted, see PairKey.
type Message struct {
	ID           int64     `json:"id"`
	Participants [2]string `json:"participants"`
	Sender       string    `json:"sender"`
	Content      string    `json:"content"`
	ProjectID    string    `json:"projectId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Recipient returns the participant that is not the sender.
func (m *Message) Recipient() string {
	if m.Participants[0] == m.Sender {
		return m.Participants[1]
	}
	return m.Participants[0]
}

type MessageStore interface {
	// SaveMessage validates and durably appends a new message.
	// The store assigns id and createdAt.
	SaveMessage(ctx context.Context, sender, receiver, content, projectID string) (*Message, error)

	// GetMessages returns all messages between a and b, in either
	// argument order, ascending by createdAt then id.
	// No messages yields an empty slice, not an error.
	GetMessages(ctx context.Context, a, b string) ([]*Message, error)

	// ListConversations returns the newest message of every distinct
	// pair that contains uid, ordered by that message's createdAt
	// descending, ties by id descending.
	ListConversations(ctx context.Context, uid string) ([]*Message, error)

	Close() error
}

// ErrPersistence wraps every storage failure that crosses the store
// boundary, so callers can map it to a server error without knowing
// the backend.
var ErrPersistence = errors.New("message store failure")

// ValidationError reports a bad send request. Never retried, never stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func persistence(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// validateSend applies the send preconditions shared by all backends.
func validateSend(sender, receiver, content string) error {
	if sender == "" {
		return &ValidationError{Field: "sender", Reason: "is required"}
	}
	if receiver == "" {
		return &ValidationError{Field: "receiverUid", Reason: "is required"}
	}
	if receiver == sender {
		return &ValidationError{Field: "receiverUid", Reason: "must differ from sender"}
	}
	if content == "" {
		return &ValidationError{Field: "content", Reason: "is required"}
	}
	return nil
}
