// Package auth resolves bearer tokens issued by the external identity provider into principals.
// Token verification happens upstream; the role is implied by the token's prefix.
package auth

import (
	"errors"
	"strings"
)

// Role is the privilege level of a principal. Higher roles include lower ones.
type Role string

const (
	RoleNone     Role = ""
	RoleViewer   Role = "viewer"
	RoleEditor   Role = "editor"
	RoleApprover Role = "approver"
)

var roleRank = map[Role]int{
	RoleNone:     0,
	RoleViewer:   1,
	RoleEditor:   2,
	RoleApprover: 3,
}

// AtLeast reports whether r includes the privileges of min.
func (r Role) AtLeast(minimum Role) bool {
	return roleRank[r] >= roleRank[minimum] && roleRank[r] > 0
}

var (
	// ErrMissingToken indicates no bearer token was supplied.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken indicates the token does not carry a known role.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

// ParseBearer accepts an Authorization header value ("Bearer <token>") or a bare token.
func ParseBearer(header string) (Principal, error) {
	token := strings.TrimSpace(header)
	if scheme, rest, ok := strings.Cut(token, " "); ok && strings.EqualFold(scheme, "bearer") {
		token = strings.TrimSpace(rest)
	}

	if token == "" {
		return Principal{}, ErrMissingToken
	}

	return ParseToken(token)
}

// ParseToken reads a "<role>.<subject>" token.
func ParseToken(token string) (Principal, error) {
	prefix, subject, ok := strings.Cut(token, ".")
	if !ok || subject == "" {
		return Principal{}, ErrInvalidToken
	}

	role := Role(strings.ToLower(prefix))
	if _, known := roleRank[role]; !known || role == RoleNone {
		return Principal{}, ErrInvalidToken
	}

	return Principal{Subject: subject, Role: role}, nil
}

// Token builds a token for the given role and subject, the inverse of ParseToken.
func Token(role Role, subject string) string {
	return string(role) + "." + subject
}
