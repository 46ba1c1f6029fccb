package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "s3cret"

func sign(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func authRouter(opts AuthOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Auth(opts))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	return r
}

func TestAuth_BearerToken(t *testing.T) {
	r := authRouter(AuthOptions{Secret: testSecret, Issuer: "advisor"})
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "advisor",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + sign(t, testSecret, valid), http.StatusOK, "u1"},
		{"lowercase scheme", "bearer " + sign(t, testSecret, valid), http.StatusOK, "u1"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"bad signature", "Bearer " + sign(t, "other", valid), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + sign(t, testSecret, jwt.RegisteredClaims{
			Subject: "u1", Issuer: "advisor", ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		}), http.StatusUnauthorized, ""},
		{"no expiry", "Bearer " + sign(t, testSecret, jwt.RegisteredClaims{Subject: "u1", Issuer: "advisor"}), http.StatusUnauthorized, ""},
		{"wrong issuer", "Bearer " + sign(t, testSecret, jwt.RegisteredClaims{
			Subject: "u1", Issuer: "someone", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}), http.StatusUnauthorized, ""},
		{"empty subject", "Bearer " + sign(t, testSecret, jwt.RegisteredClaims{
			Issuer: "advisor", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}), http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if tc.status == http.StatusOK {
				if w.Body.String() != tc.body {
					t.Fatalf("user = %q; want %q", w.Body.String(), tc.body)
				}
				return
			}
			var env map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if env["error"] != "unauthorized" {
				t.Fatalf("unexpected envelope: %v", env)
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("expected WWW-Authenticate challenge")
			}
		})
	}
}

func TestAuth_HeaderTrustMode(t *testing.T) {
	r := authRouter(AuthOptions{})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(HeaderUserID, " u7 ")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "u7" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", w.Code)
	}
}
