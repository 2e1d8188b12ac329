package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("subject is disabled")
)

// Permission scopes recognised by the HTTP surface.
const (
	PermProofsRead  = "proofs:read"
	PermProofsWrite = "proofs:write"
	PermJobsRead    = "jobs:read"
	PermJobsWrite   = "jobs:write"
)

// Store resolves bearer tokens to subjects. Implementations must be safe for
// concurrent use.
type Store interface {
	Resolve(ctx context.Context, token string) (*Subject, error)
}

// Subject captures the identity attached to an authenticated request and
// passed to handlers via context.
type Subject struct {
	Name        string
	Permissions []string
	Disabled    bool

	permissionSet map[string]struct{}
}

// normalise prepares the lookup set for permission checks.
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.permissionSet == nil {
		s.permissionSet = make(map[string]struct{}, len(s.Permissions))
		for _, perm := range s.Permissions {
			s.permissionSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
		}
	}
}

// HasPermission reports whether the subject carries the given permission.
// The wildcard permission "*" grants everything.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionSet["*"]; ok {
		return true
	}
	_, ok := s.permissionSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize ensures the subject holds every required permission.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Clone creates a copy safe to hand to request contexts.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		Name:        s.Name,
		Permissions: append([]string(nil), s.Permissions...),
		Disabled:    s.Disabled,
	}
	clone.normalise()
	return clone
}

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// Config configures the authentication service.
type Config struct {
	Mode   Mode
	Tokens []TokenSeed
}

// TokenSeed declares one static API token and the permissions it grants.
// Tokens are hashed at load time; the plaintext never persists in memory.
type TokenSeed struct {
	Token       string
	Name        string
	Permissions []string
	Disabled    bool
}
