package dating

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
)

const testSecret = "test-secret"

func tokenFor(t *testing.T, userID int64) string {
	t.Helper()
	token, err := utils.GenerateJWT(&utils.JWTClaims{
		UserID:    userID,
		Type:      "access",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
		IssuedAt:  time.Now().Unix(),
	}, testSecret)
	require.NoError(t, err)
	return token
}

func newTestRouter(f *fixture) http.Handler {
	router := chi.NewRouter()
	RegisterRoutes(router, NewHandler(f.service, f.hub), auth.NewMiddleware(testSecret))
	return router
}

func do(t *testing.T, h http.Handler, token, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(""))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMatchingEndpointsRequireAuth(t *testing.T) {
	router := newTestRouter(newFixture())
	rec := do(t, router, "", http.MethodPost, "/api/v1/matching/like/2")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandshakeEndpoints(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	alice, bob := tokenFor(t, 1), tokenFor(t, 2)

	rec := do(t, router, alice, http.MethodPost, "/api/v1/matching/like/2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res LikeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, StatePending, res.State)

	rec = do(t, router, alice, http.MethodGet, "/api/v1/matching/state/2")
	require.Equal(t, http.StatusOK, rec.Code)
	var state StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, StatePending, state.State)

	rec = do(t, router, bob, http.MethodPost, "/api/v1/matching/approve/1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, StateApproved, res.State)

	rec = do(t, router, bob, http.MethodGet, "/api/v1/matching/matches")
	require.Equal(t, http.StatusOK, rec.Code)
	var matches MatchesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	assert.Equal(t, 1, matches.Count)

	rec = do(t, router, bob, http.MethodPost, "/api/v1/matching/reject/1")
	assert.Equal(t, http.StatusConflict, rec.Code, "already matched")
}

func TestHandshakeEndpointErrors(t *testing.T) {
	router := newTestRouter(newFixture())
	alice := tokenFor(t, 1)

	rec := do(t, router, alice, http.MethodPost, "/api/v1/matching/like/1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, alice, http.MethodPost, "/api/v1/matching/like/99")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, alice, http.MethodPost, "/api/v1/matching/like/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, alice, http.MethodPost, "/api/v1/matching/approve/2")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecommendationsEndpoint(t *testing.T) {
	router := newTestRouter(newFixture())
	alice := tokenFor(t, 1)

	rec := do(t, router, alice, http.MethodGet, "/api/v1/matching/recommendations?limit=1&ai=false")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body RecommendationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.False(t, body.UsedModel)
	assert.Equal(t, int64(2), body.Recommendations[0].User.ID)

	rec = do(t, router, alice, http.MethodGet, "/api/v1/matching/recommendations")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.UsedModel)
	assert.Equal(t, 2, body.Count)

	rec = do(t, router, alice, http.MethodGet, "/api/v1/matching/recommendations?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, router, alice, http.MethodGet, "/api/v1/matching/recommendations?ai=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
