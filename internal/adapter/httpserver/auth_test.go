package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type tokenOpts struct {
	sub      string
	aud      string
	exp      time.Time
	admin    bool
	noExpiry bool
	secret   string
}

func mintToken(t *testing.T, o tokenOpts) string {
	t.Helper()
	if o.aud == "" {
		o.aud = jwtAudience
	}
	if o.exp.IsZero() {
		o.exp = time.Now().Add(time.Hour)
	}
	if o.secret == "" {
		o.secret = testSecret
	}
	cl := jwt.MapClaims{
		"sub": o.sub,
		"aud": o.aud,
	}
	if !o.noExpiry {
		cl["exp"] = o.exp.Unix()
	}
	if o.admin {
		cl["app_metadata"] = map[string]any{"claims_admin": true}
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString([]byte(o.secret))
	require.NoError(t, err)
	return raw
}

func authedRequest(t *testing.T, o tokenOpts) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+mintToken(t, o))
	return r
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(UserID(r)))
	})
}

func TestAuthRequireValidToken(t *testing.T) {
	a := NewAuth(testSecret)
	rec := httptest.NewRecorder()
	a.Require(echoUser()).ServeHTTP(rec, authedRequest(t, tokenOpts{sub: "user-1"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())
}

func TestAuthRequireRejections(t *testing.T) {
	a := NewAuth(testSecret)
	cases := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{"missing header", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodGet, "/protected", nil)
		}},
		{"wrong secret", func(t *testing.T) *http.Request {
			return authedRequest(t, tokenOpts{sub: "user-1", secret: "other"})
		}},
		{"wrong audience", func(t *testing.T) *http.Request {
			return authedRequest(t, tokenOpts{sub: "user-1", aud: "service"})
		}},
		{"expired", func(t *testing.T) *http.Request {
			return authedRequest(t, tokenOpts{sub: "user-1", exp: time.Now().Add(-time.Minute)})
		}},
		{"no expiry claim", func(t *testing.T) *http.Request {
			return authedRequest(t, tokenOpts{sub: "user-1", noExpiry: true})
		}},
		{"empty subject", func(t *testing.T) *http.Request {
			return authedRequest(t, tokenOpts{sub: ""})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.Require(echoUser()).ServeHTTP(rec, tc.req(t))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthRequireAdmin(t *testing.T) {
	a := NewAuth(testSecret)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	a.RequireAdmin(next).ServeHTTP(rec, authedRequest(t, tokenOpts{sub: "ops", admin: true}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.RequireAdmin(next).ServeHTTP(rec, authedRequest(t, tokenOpts{sub: "user-1"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthIdentifyDegradesToAnon(t *testing.T) {
	a := NewAuth(testSecret)

	assert.Equal(t, "user-1", a.Identify(authedRequest(t, tokenOpts{sub: "user-1"})))

	assert.Equal(t, "anon", a.Identify(httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, "anon", a.Identify(authedRequest(t, tokenOpts{sub: "user-1", secret: "other"})))
	assert.Equal(t, "anon", a.Identify(authedRequest(t, tokenOpts{sub: "user-1", exp: time.Now().Add(-time.Minute)})))
}

func TestBearerTokenParsing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(r))

	r.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, "abc", bearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, bearerToken(r))
}
