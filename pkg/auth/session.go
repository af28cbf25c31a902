// Package auth obtains and interprets Tarang API access tokens.
//
// Claims are read without verifying the signature: the API verifies every
// request, and the client only needs the user's identity and role.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthorized is returned when the API rejects the credentials.
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrInvalidToken is returned for a token whose claims cannot be read.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrLoggedOut is returned when a destroyed session is used.
	ErrLoggedOut = errors.New("auth: logged out")

	// ErrUnknownRole is returned for a role name outside Role's values.
	ErrUnknownRole = errors.New("auth: unknown role")
)

// Role is a user role, upper-cased as the web app shows it.
type Role string

const (
	RoleParent    Role = "PARENT"
	RoleClinician Role = "CLINICIAN"
	RoleAdmin     Role = "ADMIN"
)

// ParseRole upper-cases a role name. Unknown names are an error.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleParent, RoleClinician, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownRole, s)
	}
}

// Claims are the token claims the API issues.
type Claims struct {
	Role  string `json:"role"`
	OrgID *int   `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// User is the identity carried by a token.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
	OrgID    *int   `json:"org_id,omitempty"`
	Initials string `json:"initials"`
}

// Session is an authenticated user with their access token. It is created
// by Login, Demo or ParseToken and destroyed by Logout.
type Session struct {
	User      User
	Token     string
	ExpiresAt time.Time // zero when the token has no exp claim
}

// ParseToken reads the claims of an access token into a session.
func ParseToken(token string) (*Session, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	s := &Session{
		User: User{
			ID:       claims.Subject, // the API uses the email as subject
			Email:    claims.Subject,
			FullName: fullName(claims.Subject),
			Role:     role,
			OrgID:    claims.OrgID,
			Initials: initials(claims.Subject),
		},
		Token: token,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Authenticated reports whether the session holds a token.
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != ""
}

// Expired reports whether the token's exp claim has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// HasRole reports whether the user has one of roles.
func (s *Session) HasRole(roles ...Role) bool {
	if !s.Authenticated() {
		return false
	}
	for _, r := range roles {
		if s.User.Role == r {
			return true
		}
	}
	return false
}

// Initiator reports whether this user starts the peer negotiation.
// Clinicians and admins offer; parents answer.
func (s *Session) Initiator() bool {
	return s.HasRole(RoleClinician, RoleAdmin)
}

// BearerToken returns the token, or ErrLoggedOut after Logout.
func (s *Session) BearerToken() (string, error) {
	if !s.Authenticated() {
		return "", ErrLoggedOut
	}
	return s.Token, nil
}

// Logout destroys the session.
func (s *Session) Logout() {
	if s == nil {
		return
	}
	*s = Session{}
}

// fullName turns "demo_clinician@x" into "Demo clinician".
func fullName(sub string) string {
	name, _, _ := strings.Cut(sub, "@")
	name = strings.Replace(name, "demo_", "Demo ", 1)
	return strings.Replace(name, "_", " ", 1)
}

func initials(sub string) string {
	r := []rune(sub)
	if len(r) > 2 {
		r = r[:2]
	}
	return strings.ToUpper(string(r))
}
