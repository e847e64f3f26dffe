package auth

import (
	"fmt"
	"net/http"
)

const (
	uidHeader  = "X-Auth-Uid"
	nameHeader = "X-Auth-Name"
)

// GatewayVerifier trusts identity headers stamped by the fronting
// gateway after it verified the caller's bearer token. The service MUST
// NOT be reachable except through that gateway.
type GatewayVerifier struct{}

func (v *GatewayVerifier) Auth(r *http.Request) (*Identity, error) {
	uid := r.Header.Get(uidHeader)
	if uid == "" {
		return nil, fmt.Errorf("missing %s header", uidHeader)
	}
	return &Identity{
		UID:  uid,
		Name: r.Header.Get(nameHeader),
	}, nil
}
