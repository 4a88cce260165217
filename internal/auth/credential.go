// Package auth implements the client side of the session lifecycle: the
// stored credential with its rolling expiry, the scoped key storage slots,
// the login popup flow and the session state machine.
package auth

import (
	"time"

	"github.com/rs/zerolog"
)

var authLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	authLogger = l
}

// Credential is the opaque bearer key handed back by the login flow, with a
// rolling expiry evaluated locally. Expiry is checked against the client
// clock at each read, not server-verified.
type Credential struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the credential is usable at the given instant.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.Key != "" && now.Before(c.ExpiresAt)
}

// Refresh rolls the expiry forward; called after every successful
// authenticated API call.
func (c *Credential) Refresh(now time.Time, ttl time.Duration) {
	c.ExpiresAt = now.Add(ttl)
}
