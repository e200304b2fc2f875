// Package authtoken checks that a signed request envelope was made within
// the server's allowed clock-skew window, the same crypto.SkewWindow the
// client-side pkg/signed.Verify enforces. It borrows golang-jwt/jwt/v5's
// RegisteredClaims/Validator machinery for this check rather than minting
// session tokens: Lockbook has no login step and no bearer token to hand
// out, since every request carries its own ECDSA signature. What is worth
// reusing from a JWT stack is its well-tested expiry/not-before validator,
// repurposed to check one instant (the envelope's timestamp) against now
// instead of a session's lifetime.
package authtoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lockbook/lockbook/pkg/crypto"
)

// Window validates that a request timestamp falls within an allowed
// clock-skew band of the current time.
type Window struct {
	window crypto.SkewWindow
}

// New returns a Window that accepts timestamps within window of now.
func New(window crypto.SkewWindow) *Window {
	return &Window{window: window}
}

// Verify reports whether timestampMs, interpreted as milliseconds since the
// Unix epoch, falls within the window's skew band of now. It builds a
// throwaway RegisteredClaims whose IssuedAt/ExpiresAt/NotBefore bracket
// timestampMs by MaxFuture/MaxPast and lets jwt.Validator apply its own
// expiry/nbf comparisons rather than hand-rolling them here.
func (w *Window) Verify(timestampMs int64, now time.Time) error {
	ts := time.UnixMilli(timestampMs)
	// The timestamp may run at most MaxFuture ahead of now and MaxPast
	// behind it, so as claims: not-before opens MaxFuture before the
	// timestamp and expiry closes MaxPast after it.
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(ts),
		NotBefore: jwt.NewNumericDate(ts.Add(-w.window.MaxFuture)),
		ExpiresAt: jwt.NewNumericDate(ts.Add(w.window.MaxPast)),
	}

	validator := jwt.NewValidator(jwt.WithTimeFunc(func() time.Time { return now }))
	if err := validator.Validate(claims); err != nil {
		return fmt.Errorf("request timestamp outside allowed window: %w", err)
	}
	return nil
}
