package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTokenService(t *testing.T, seeds ...TokenSeed) *Service {
	t.Helper()
	svc, err := NewService(Config{Mode: ModeToken, Tokens: seeds}, NewMemoryStore(seeds...))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTokenService(t, TokenSeed{
		Token:       "tok-reader",
		Name:        "reader",
		Permissions: []string{PermProofsRead},
	})

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer tok-reader")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.Name != "reader" {
		t.Fatalf("subject name = %q", subject.Name)
	}
	if !subject.HasPermission(PermProofsRead) || subject.HasPermission(PermProofsWrite) {
		t.Fatalf("unexpected permissions: %v", subject.Permissions)
	}

	if _, err := svc.AuthenticateRequest(context.Background(), ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty header: %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Basic abc"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong scheme: %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token: %v", err)
	}
}

func TestAuthenticateRevokedToken(t *testing.T) {
	store := NewMemoryStore(TokenSeed{Token: "tok-x", Name: "x", Permissions: []string{"*"}})
	svc, err := NewService(Config{Mode: ModeToken}, store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	store.Revoke("tok-x")
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer tok-x"); !errors.Is(err, ErrSubjectRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestAuthorizeWildcard(t *testing.T) {
	subject := &Subject{Name: "admin", Permissions: []string{"*"}}
	if err := subject.Authorize(PermProofsWrite, PermJobsWrite); err != nil {
		t.Fatalf("wildcard authorize: %v", err)
	}

	limited := &Subject{Name: "reader", Permissions: []string{PermProofsRead}}
	if err := limited.Authorize(PermProofsWrite); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial, got %v", err)
	}
}

func TestMiddlewareEnforcesScopes(t *testing.T) {
	svc := newTokenService(t,
		TokenSeed{Token: "tok-rw", Name: "writer", Permissions: []string{PermProofsRead, PermProofsWrite}},
		TokenSeed{Token: "tok-ro", Name: "reader", Permissions: []string{PermProofsRead}},
	)

	var sawSubject string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subject := SubjectFromContext(r.Context()); subject != nil {
			sawSubject = subject.Name
		}
		w.WriteHeader(http.StatusNoContent)
	})
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet: {PermProofsRead},
			"*":            {PermProofsWrite},
		},
	})(inner)

	call := func(method, token string) int {
		req := httptest.NewRequest(method, "/api/v1/proofs", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call(http.MethodGet, "tok-ro"); code != http.StatusNoContent {
		t.Fatalf("reader GET = %d", code)
	}
	if sawSubject != "reader" {
		t.Fatalf("handler saw subject %q", sawSubject)
	}
	if code := call(http.MethodPost, "tok-ro"); code != http.StatusForbidden {
		t.Fatalf("reader POST = %d", code)
	}
	if code := call(http.MethodPost, "tok-rw"); code != http.StatusNoContent {
		t.Fatalf("writer POST = %d", code)
	}
	if code := call(http.MethodGet, ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous GET = %d", code)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disabled mode = %d", rec.Code)
	}
}
