package auth

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestService(t *testing.T, audit *bytes.Buffer) *Service {
	t.Helper()
	svc, err := NewService([]APIKey{
		{Name: "admin", Key: "admin-secret"},
		{Name: "reader", Key: "reader-secret", Permissions: []string{PermissionTasksRead}},
		{Name: "old", Key: "old-secret", Disabled: true},
	}, slog.New(slog.NewJSONHandler(audit, nil)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestMiddlewareAuthenticatesAndAudits(t *testing.T) {
	var audit bytes.Buffer
	svc := newTestService(t, &audit)
	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {PermissionTasksRead},
			http.MethodPost: {PermissionTasksWrite},
		},
		AuditEvent: "tasks",
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	cases := []struct {
		name   string
		method string
		header string
		value  string
		status int
	}{
		{"missing", http.MethodGet, "", "", http.StatusUnauthorized},
		{"unknown", http.MethodGet, HeaderAPIKey, "nope", http.StatusUnauthorized},
		{"disabled", http.MethodGet, HeaderAPIKey, "old-secret", http.StatusForbidden},
		{"reader get", http.MethodGet, "Authorization", "Bearer reader-secret", http.StatusAccepted},
		{"reader post", http.MethodPost, HeaderAPIKey, "reader-secret", http.StatusForbidden},
		{"admin post", http.MethodPost, "Authorization", "bearer admin-secret", http.StatusAccepted},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/api/v1/tasks", nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rec.Code)
		}
	}
	if seen == nil || seen.Name != "admin" {
		t.Fatalf("subject not propagated: %+v", seen)
	}
	logs := audit.String()
	for _, want := range []string{"access_denied", "permission_denied", `"event":"tasks"`, `"key":"reader"`} {
		if !strings.Contains(logs, want) {
			t.Fatalf("audit log missing %s: %s", want, logs)
		}
	}
}

func TestServiceWithoutKeysIsOpen(t *testing.T) {
	svc, err := NewService(nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	called := false
	svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called || svc.Enabled() {
		t.Fatalf("open service must pass requests through")
	}
}

func TestNewServiceRejectsBadKeys(t *testing.T) {
	if _, err := NewService([]APIKey{{Name: "blank"}}, nil); err == nil {
		t.Fatalf("expected empty key error")
	}
	if _, err := NewService([]APIKey{{Name: "a", Key: "x"}, {Name: "b", Key: "x"}}, nil); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestSubjectAuthorize(t *testing.T) {
	s := &Subject{Name: "n", Permissions: []string{" Tasks:Read "}}
	if err := s.Authorize(PermissionTasksRead); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Authorize(PermissionInvoke); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if err := (*Subject)(nil).Authorize(); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("nil subject must be rejected")
	}
	all := &Subject{Permissions: []string{PermissionAll}}
	if !all.HasPermission(PermissionInvoke) {
		t.Fatalf("wildcard must grant everything")
	}
}
