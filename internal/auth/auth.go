// Package auth defines the broker's pluggable username/password predicate
// and provides three concrete implementations: allow-anonymous, a
// JWT-bearer check against the CONNECT password field, and a
// username/password file lookup.
package auth

// Authenticator decides whether a CONNECT's credentials are accepted. It
// is consulted during the CONNECT state transition, before a CONNACK is
// built; a false result maps to ConnRefusedBadUserOrPass.
type Authenticator interface {
	Authenticate(clientID, username string, password []byte) bool
}

// AllowAnonymous accepts every CONNECT, whatever credentials it carries
// (mirrors the `allow_anonymous` config key: true lets unauthenticated
// clients through unconditionally).
type AllowAnonymous struct{}

// Authenticate always succeeds.
func (AllowAnonymous) Authenticate(_, _ string, _ []byte) bool { return true }

// Chain tries each Authenticator in order, accepting on the first that
// accepts. An empty chain rejects everything.
type Chain []Authenticator

// Authenticate returns true if any authenticator in the chain accepts.
func (c Chain) Authenticate(clientID, username string, password []byte) bool {
	for _, a := range c {
		if a.Authenticate(clientID, username, password) {
			return true
		}
	}
	return false
}
