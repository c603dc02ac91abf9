package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bmkramer/academic-observatory-workflows/internal/config"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMiddleware(t *testing.T) {
	secret := "s3cret"
	valid := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"sub":   "dashboard",
		"roles": []string{"reader"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	expired := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"sub": "dashboard",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{
		"sub": "dashboard",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noExpiry := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "dashboard"})

	tests := []struct {
		name        string
		secret      string
		header      string
		wantStatus  int
		wantSubject string
	}{
		{name: "auth disabled", secret: "", header: "", wantStatus: http.StatusOK, wantSubject: "anonymous"},
		{name: "valid token", secret: secret, header: "Bearer " + valid, wantStatus: http.StatusOK, wantSubject: "dashboard"},
		{name: "missing token", secret: secret, header: "", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", secret: secret, header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "expired", secret: secret, header: "Bearer " + expired, wantStatus: http.StatusUnauthorized},
		{name: "wrong key", secret: secret, header: "Bearer " + wrongKey, wantStatus: http.StatusUnauthorized},
		{name: "no expiry", secret: secret, header: "Bearer " + noExpiry, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			h := Middleware(&config.Config{JWTSecret: tt.secret})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				subject = FromContext(r.Context()).Subject
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/ao/query", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", subject, tt.wantSubject)
			}
		})
	}
}

func TestMiddlewareDebugErrors(t *testing.T) {
	h := Middleware(&config.Config{JWTSecret: "x", AuthDebug: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), "missing bearer token") {
		t.Errorf("body = %q, want debug reason", rec.Body.String())
	}
}

func TestFromContextDefaultsToAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := FromContext(req.Context()).Subject; got != "anonymous" {
		t.Errorf("Subject = %q", got)
	}
}
