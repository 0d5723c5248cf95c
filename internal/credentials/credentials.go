package credentials

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken  = errors.New("missing token")
	ErrMissingUserID = errors.New("missing user id")
)

// Credentials identify the local user to the backend.
type Credentials struct {
	Token  string
	UserID string
}

// Info is what can be learned from an unverified token.
type Info struct {
	UserID    string
	ExpiresAt time.Time
	Expired   bool
}

// ParseToken decodes the token claims without verifying the signature.
// The backend verifies; the client only needs the identity and expiry.
func ParseToken(token string) (Info, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Info{}, fmt.Errorf("parse token: %w", err)
	}

	var info Info
	for _, key := range []string{"_id", "id", "userId", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			info.UserID = v
			break
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
		info.Expired = time.Now().After(exp.Time)
	}
	return info, nil
}

// Resolve builds credentials from a token and an optional configured user id.
// When userID is empty it is taken from the token claims. The returned Info
// lets the caller warn about an expired token; expiry is not an error here
// because the backend is the authority.
func Resolve(token, userID string) (Credentials, Info, error) {
	if token == "" {
		return Credentials{}, Info{}, ErrMissingToken
	}
	info, err := ParseToken(token)
	if err != nil && userID == "" {
		return Credentials{}, Info{}, err
	}
	if userID == "" {
		userID = info.UserID
	}
	if userID == "" {
		return Credentials{}, info, ErrMissingUserID
	}
	return Credentials{Token: token, UserID: userID}, info, nil
}
