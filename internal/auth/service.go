package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderAPIKey is the alternative to an "Authorization: Bearer" header.
const HeaderAPIKey = "X-API-Key"

// Service authenticates requests against a static set of API keys. A service
// without keys lets every request through.
type Service struct {
	keys  []credential
	audit *slog.Logger
}

type credential struct {
	digest  [sha256.Size]byte
	subject Subject
}

// NewService validates keys and builds the service. audit may be nil, in
// which case the global audit logger is used.
func NewService(keys []APIKey, audit *slog.Logger) (*Service, error) {
	s := &Service{audit: audit}
	seen := make(map[[sha256.Size]byte]string, len(keys))
	for i, k := range keys {
		secret := strings.TrimSpace(k.Key)
		if secret == "" {
			return nil, fmt.Errorf("api key %d (%s) is empty", i, k.Name)
		}
		digest := sha256.Sum256([]byte(secret))
		if other, dup := seen[digest]; dup {
			return nil, fmt.Errorf("api keys %s and %s share a secret", other, k.Name)
		}
		seen[digest] = k.Name
		perms := k.Permissions
		if len(perms) == 0 {
			perms = []string{PermissionAll}
		}
		name := k.Name
		if name == "" {
			name = fmt.Sprintf("key-%d", i)
		}
		s.keys = append(s.keys, credential{
			digest:  digest,
			subject: Subject{Name: name, Permissions: append([]string(nil), perms...), Disabled: k.Disabled},
		})
	}
	return s, nil
}

// Enabled reports whether requests must present a key.
func (s *Service) Enabled() bool {
	return s != nil && len(s.keys) > 0
}

// AuthenticateRequest identifies the caller of r.
func (s *Service) AuthenticateRequest(_ context.Context, r *http.Request) (*Subject, error) {
	secret := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if secret == "" {
		if authz := r.Header.Get("Authorization"); len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
			secret = strings.TrimSpace(authz[7:])
		}
	}
	if secret == "" {
		return nil, ErrMissingKey
	}
	digest := sha256.Sum256([]byte(secret))
	var match *credential
	for i := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], s.keys[i].digest[:]) == 1 {
			match = &s.keys[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidKey
	}
	subject := match.subject
	subject.Permissions = append([]string(nil), subject.Permissions...)
	subject.permissionsSet = nil
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	return &subject, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrSubjectRevoked):
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}
