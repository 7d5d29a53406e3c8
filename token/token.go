// Package token decodes the bearer credential issued by the HR API.
//
// The client cannot verify the signature (it does not hold the key); it only
// reads the claims it needs for display and routing: the subject (the user's
// email), the role and the expiry. This is the one place the credential payload
// is decoded.
package token

import (
	"strings"
	"time"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the console reads from a bearer token.
type Claims struct {
	Subject   string
	Role      console.Role
	ExpiresAt time.Time
	IssuedAt  time.Time
}

var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// Decode reads the claims of raw without verifying its signature.
// Any failure, including a missing subject, is reported as KindSessionExpired:
// a token the client cannot read is a token the user must replace by logging in.
func Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, &console.Error{Kind: console.KindSessionExpired, Message: "missing authentication token"}
	}

	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, mc); err != nil {
		return nil, &console.Error{Kind: console.KindSessionExpired, Message: "invalid authentication token", Err: err}
	}

	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, &console.Error{Kind: console.KindSessionExpired, Message: "authentication token has no subject", Err: err}
	}

	c := &Claims{Subject: sub}
	if role, ok := mc["role"].(string); ok {
		c.Role = console.ParseRole(role)
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	return c, nil
}

// Subject returns the email carried by raw.
func Subject(raw string) (string, error) {
	c, err := Decode(raw)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}

// Expired reports whether the token's exp claim is in the past relative to now.
// Tokens without exp never report expired; expiry is otherwise discovered when
// the server answers 401.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
