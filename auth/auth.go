package auth

import "net/http"

// Identity is the verified caller of a request, as established by the
// identity provider in front of this service. The service never sees
// credentials, only the outcome of verification.
type Identity struct {
	UID  string
	Name string
}

type Verifier interface {
	// Auth resolves the verified identity of the request.
	Auth(r *http.Request) (*Identity, error)
}
