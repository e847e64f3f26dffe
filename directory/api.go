// Package directory is the read-only view of the marketplace user
// records. The messenger consults it for display names and push tokens
// and never writes to it.
package directory

import (
	"context"
	"errors"
)

type Profile struct {
	UID       string `json:"firebaseUid"`
	Name      string `json:"name"`
	PhotoURL  string `json:"profilePhoto,omitempty"`
	PushToken string `json:"-"`
}

var ErrNotFound = errors.New("profile not found")

type Client interface {
	// FindProfile returns the profile of uid, or ErrNotFound.
	FindProfile(ctx context.Context, uid string) (*Profile, error)
}
