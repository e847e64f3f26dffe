package auth

import (
	"fmt"
	"net/http"
)

// MockVerifier reads the uid from a cookie, for dev and tests only.
type MockVerifier struct{}

func (v *MockVerifier) Auth(r *http.Request) (*Identity, error) {
	var uid, name string

	if c, err := r.Cookie("x-uid"); err == nil {
		uid = c.Value
	}
	if c, err := r.Cookie("x-name"); err == nil {
		name = c.Value
	}

	if uid == "" {
		return nil, fmt.Errorf("empty x-uid cookie")
	}
	return &Identity{UID: uid, Name: name}, nil
}
