// Package jwtpayload reads the claims of a compact token without verifying
// its signature. Results are for display only and must never be used to make
// an authentication decision.
package jwtpayload

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Result is either a decoded payload or a failure.
type Result[T any] struct {
	value T
	ok    bool
}

func Decoded[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

func Failed[T any]() Result[T] {
	return Result[T]{}
}

func (r Result[T]) OK() bool {
	return r.ok
}

// Value returns the payload and whether decoding succeeded.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.ok
}

// segments are base64url, with or without '=' padding
var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// Decode extracts and JSON-decodes the payload segment of token.
func Decode[T any](token string) Result[T] {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return Failed[T]()
	}

	raw, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return Failed[T]()
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return Failed[T]()
	}
	return Decoded(v)
}

// Claims is the subset of claims that UI code typically displays.
type Claims struct {
	Sub   string `json:"sub"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Type  string `json:"type,omitempty"`
	JTI   string `json:"jti,omitempty"`
	Exp   int64  `json:"exp,omitempty"`
}

// ExpiresAt reports the exp claim of token, if one can be read.
func ExpiresAt(token string) (time.Time, bool) {
	claims, ok := Decode[Claims](token).Value()
	if !ok || claims.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.Exp, 0).UTC(), true
}
