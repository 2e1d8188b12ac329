// Package auth guards the HTTP surface with static bearer tokens. Tokens are
// declared in configuration, hashed at load time and resolved to subjects
// carrying permission scopes. Disabled mode passes every request through.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ZKCipherAI/pkg/logger"
)

const bearerPrefix = "bearer "

// Service authenticates requests against the token catalogue.
type Service struct {
	mode  Mode
	store Store
	audit *slog.Logger
}

// NewService constructs the authentication service. Token mode requires a
// store; disabled mode ignores it.
func NewService(cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, store: store, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
		if store == nil {
			return nil, fmt.Errorf("token mode requires a token store")
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Mode reports the active mode. A nil service counts as disabled.
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Enabled reports whether requests must authenticate.
func (s *Service) Enabled() bool {
	return s.Mode() == ModeToken
}

// AuthenticateRequest resolves the Authorization header to a subject.
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	token, err := extractBearer(authorization)
	if err != nil {
		return nil, err
	}
	subject, err := s.store.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	return subject, nil
}

func extractBearer(authorization string) (string, error) {
	header := strings.TrimSpace(authorization)
	if header == "" {
		return "", ErrMissingToken
	}
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
