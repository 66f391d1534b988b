// Package auth gates sandboxed clients on the relay's WebSocket face.
//
// It only compares a presented token against the configured one; the engine
// password is a separate credential owned by the session handshake.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates a client token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// Open accepts every client. Used when no bridge token is configured.
var Open = FuncValidator(func(string) error { return nil })

// TokenFromRequest reads the client token from "Authorization: Bearer <t>"
// or, for hosts that cannot set headers on a WebSocket dial, the "token"
// query parameter.
func TokenFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		const prefix = "bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			return strings.TrimSpace(header[len(prefix):])
		}
	}
	return r.URL.Query().Get("token")
}

// ForToken returns StaticToken for a non-empty token and Open otherwise.
func ForToken(token string) Validator {
	if strings.TrimSpace(token) == "" {
		return Open
	}
	return StaticToken{Token: token}
}
