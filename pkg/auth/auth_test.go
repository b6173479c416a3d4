package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProfileIDIsUUID(t *testing.T) {
	a, b := NewProfileID(), NewProfileID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestProfileTokenRoundTrip(t *testing.T) {
	id := NewProfileID()
	token, err := GenerateProfileToken(id)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateProfileToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.ProfileID)
	assert.Equal(t, tokenIssuer, claims.Issuer)
}

func signed(t *testing.T, claims ProfileClaims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestValidateRejectsBadTokens(t *testing.T) {
	now := time.Now()
	valid := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    tokenIssuer,
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
	foreign := valid
	foreign.Issuer = "someone-else"

	cases := map[string]string{
		"empty":        "",
		"garbage":      "invalid.token.here",
		"truncated":    "eyJ0eXAiOiJKV1QiLCJhbGciOiJIUzI1NiJ9",
		"expired":      signed(t, ProfileClaims{ProfileID: NewProfileID(), RegisteredClaims: expired}, getJWTSecret()),
		"wrong secret": signed(t, ProfileClaims{ProfileID: NewProfileID(), RegisteredClaims: valid}, "other"),
		"wrong issuer": signed(t, ProfileClaims{ProfileID: NewProfileID(), RegisteredClaims: foreign}, getJWTSecret()),
		"bad profile":  signed(t, ProfileClaims{ProfileID: "../etc", RegisteredClaims: valid}, getJWTSecret()),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateProfileToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestEnvironmentSecretWins(t *testing.T) {
	t.Setenv("WEBTERM_JWT_SECRET", "from-env")
	assert.Equal(t, "from-env", getJWTSecret())

	token, err := GenerateProfileToken(NewProfileID())
	require.NoError(t, err)
	t.Setenv("WEBTERM_JWT_SECRET", "rotated")
	_, err = ValidateProfileToken(token)
	assert.Error(t, err)
}

func TestExtractTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	tok, err := ExtractTokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "q", tok)

	r.AddCookie(&http.Cookie{Name: tokenCookie, Value: "c"})
	tok, _ = ExtractTokenFromRequest(r)
	assert.Equal(t, "c", tok)

	r.Header.Set("Authorization", "Bearer h")
	tok, _ = ExtractTokenFromRequest(r)
	assert.Equal(t, "h", tok)

	r.Header.Set("Authorization", "Basic x")
	_, err = ExtractTokenFromRequest(r)
	assert.Error(t, err)

	_, err = ExtractTokenFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoToken)
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateSessionIssuesNewProfile(t *testing.T) {
	w := httptest.NewRecorder()
	HandleCreateSession(w, httptest.NewRequest(http.MethodPost, "/api/auth/session", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeSession(t, w)
	assert.True(t, resp.Success)
	claims, err := ValidateProfileToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.ProfileID, claims.ProfileID)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tokenCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestCreateSessionResumesProfile(t *testing.T) {
	id := NewProfileID()
	token, err := GenerateProfileToken(id)
	require.NoError(t, err)

	body, _ := json.Marshal(SessionRequest{Token: token})
	w := httptest.NewRecorder()
	HandleCreateSession(w, httptest.NewRequest(http.MethodPost, "/api/auth/session", bytes.NewReader(body)))

	resp := decodeSession(t, w)
	assert.Equal(t, id, resp.ProfileID)
	assert.Equal(t, "Session resumed", resp.Message)
}

func TestCreateSessionReplacesStaleToken(t *testing.T) {
	body, _ := json.Marshal(SessionRequest{Token: "stale"})
	w := httptest.NewRecorder()
	HandleCreateSession(w, httptest.NewRequest(http.MethodPost, "/api/auth/session", bytes.NewReader(body)))

	resp := decodeSession(t, w)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.ProfileID)
}

func TestCreateSessionRejects(t *testing.T) {
	w := httptest.NewRecorder()
	HandleCreateSession(w, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	HandleCreateSession(w, httptest.NewRequest(http.MethodPost, "/api/auth/session", bytes.NewBufferString("not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, decodeSession(t, w).Success)
}

func TestRequireProfileToken(t *testing.T) {
	var seen string
	h := RequireProfileToken(func(w http.ResponseWriter, r *http.Request) {
		seen = ProfileIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/fs/export", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/fs/export?token=bogus", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	id := NewProfileID()
	token, err := GenerateProfileToken(id)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/fs/export?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, seen)
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", GetClientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", GetClientIP(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", GetClientIP(r))
}
