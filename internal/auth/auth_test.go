package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/locushq/locus/pkg/models"
)

func TestJWTRoundtrip(t *testing.T) {
	svc := NewService(Config{JWTSecret: "test-secret", TokenExpiry: time.Hour})
	token, err := svc.GenerateJWT(&models.User{ID: "u1", Email: "u1@example.com", Name: "Uno"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	user, err := svc.ValidateJWT(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if user.ID != "u1" || user.Email != "u1@example.com" || user.Name != "Uno" {
		t.Fatalf("roundtrip user = %+v", user)
	}
}

func TestJWTRejectsBadToken(t *testing.T) {
	svc := NewService(Config{JWTSecret: "test-secret"})
	if _, err := svc.ValidateJWT("not.a.token"); err == nil {
		t.Fatal("expected error for garbage token")
	}
	other := NewService(Config{JWTSecret: "different-secret"})
	token, err := other.GenerateJWT(&models.User{ID: "u1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.ValidateJWT(token); err == nil {
		t.Fatal("expected error for token signed with another secret")
	}
}

func TestJWTRequiresUserID(t *testing.T) {
	svc := NewService(Config{JWTSecret: "test-secret"})
	if _, err := svc.GenerateJWT(&models.User{}); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestValidateAPIKey(t *testing.T) {
	svc := NewService(Config{APIKeys: []APIKeyConfig{
		{Key: "sk-valid", UserID: "u1"},
		{Key: "sk-anon"},
	}})

	user, err := svc.ValidateAPIKey("sk-valid")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("user id = %q, want u1", user.ID)
	}

	anon, err := svc.ValidateAPIKey("sk-anon")
	if err != nil {
		t.Fatalf("validate anonymous key: %v", err)
	}
	if anon.ID == "" {
		t.Fatal("key without user id should get a derived id")
	}

	if _, err := svc.ValidateAPIKey("sk-wrong"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestServiceEnabled(t *testing.T) {
	if NewService(Config{}).Enabled() {
		t.Fatal("empty config should be disabled")
	}
	if !NewService(Config{JWTSecret: "s"}).Enabled() {
		t.Fatal("jwt config should be enabled")
	}
	if !NewService(Config{APIKeys: []APIKeyConfig{{Key: "k"}}}).Enabled() {
		t.Fatal("api key config should be enabled")
	}
}

func TestMiddleware(t *testing.T) {
	svc := NewService(Config{
		JWTSecret: "test-secret",
		APIKeys:   []APIKeyConfig{{Key: "sk-valid", UserID: "key-user"}},
	})
	var gotUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := UserFromContext(r.Context()); ok {
			gotUser = user.ID
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(svc, nil)(next)

	token, err := svc.GenerateJWT(&models.User{ID: "jwt-user"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	cases := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantUser   string
	}{
		{"valid bearer", "Authorization", "Bearer " + token, http.StatusOK, "jwt-user"},
		{"invalid bearer", "Authorization", "Bearer bogus", http.StatusUnauthorized, ""},
		{"valid api key", "X-Api-Key", "sk-valid", http.StatusOK, "key-user"},
		{"invalid api key", "X-Api-Key", "sk-bogus", http.StatusUnauthorized, ""},
		{"no credentials", "", "", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		gotUser = ""
		req := httptest.NewRequest(http.MethodGet, "/v1/chat/stream", nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.wantStatus {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.wantStatus)
		}
		if gotUser != tc.wantUser {
			t.Errorf("%s: user = %q, want %q", tc.name, gotUser, tc.wantUser)
		}
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	handler := Middleware(NewService(Config{}), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}
