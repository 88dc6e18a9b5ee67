package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Authenticator, http.Handler) {
	t.Helper()
	a := newTestAuthenticator(t)

	router := mux.NewRouter()
	a.RegisterRoutes(router)
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	router.HandleFunc("/data/recent", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return a, a.Middleware(router)
}

func TestLoginHandler(t *testing.T) {
	_, handler := newTestRouter(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"operator","password":"hunter22"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := loginResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "Bearer", resp.Type)
	assert.Equal(t, "operator", resp.Username)
	assert.Equal(t, (24 * 60 * 60 * 1000), int(resp.ExpiresIn))
}

func TestLoginHandlerRejections(t *testing.T) {
	_, handler := newTestRouter(t)

	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{name: "wrong password", body: `{"username":"operator","password":"nope"}`, expected: http.StatusUnauthorized},
		{name: "unknown user", body: `{"username":"ghost","password":"hunter22"}`, expected: http.StatusUnauthorized},
		{name: "missing fields", body: `{"username":"operator"}`, expected: http.StatusBadRequest},
		{name: "malformed body", body: `{`, expected: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tc.body)))
			assert.Equal(t, tc.expected, rec.Code)
		})
	}
}

func TestValidateHandler(t *testing.T) {
	a, handler := newTestRouter(t)

	token, err := a.Issue("operator", "hunter22")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/validate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := validateResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Equal(t, "operator", resp.Username)

	// Invalid tokens still answer 200, just not valid.
	req = httptest.NewRequest(http.MethodGet, "/auth/validate", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp = validateResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.Empty(t, resp.Username)
}

func TestMiddlewareProtectsDataPaths(t *testing.T) {
	a, handler := newTestRouter(t)

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/data/recent", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String())

	// Bad token.
	req := httptest.NewRequest(http.MethodGet, "/data/recent", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token.
	token, err := a.Issue("operator", "hunter22")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/data/recent", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareExemptions(t *testing.T) {
	_, handler := newTestRouter(t)

	// Health endpoint needs no token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// CORS preflight must pass without credentials.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/data/recent", nil))
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
}

func TestSubjectFromContext(t *testing.T) {
	a := newTestAuthenticator(t)

	var gotSubject string
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotSubject, _ = SubjectFromContext(r.Context())
	})

	token, err := a.Issue("operator", "hunter22")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/data/recent", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	a.Middleware(inner).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "operator", gotSubject)
}
