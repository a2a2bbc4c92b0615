package learning

import (
	"context"
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

func newTestRouter(t *testing.T, svc *Service) (http.Handler, string) {
	t.Helper()
	router := chi.NewRouter()
	RegisterRoutes(router, NewHandler(svc), auth.NewMiddleware(testSecret))

	token, err := utils.GenerateJWT(&utils.JWTClaims{
		UserID:    1,
		Type:      "access",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
		IssuedAt:  time.Now().Unix(),
	}, testSecret)
	require.NoError(t, err)
	return router, token
}

func do(t *testing.T, h http.Handler, token, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlersRequireAuth(t *testing.T) {
	svc, _ := newService(t, testConfig(), community(2)...)
	router, _ := newTestRouter(t, svc)

	rec := do(t, router, "", http.MethodGet, "/api/v1/ml/stats", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScoreAndPredictEndpoints(t *testing.T) {
	svc, _ := newService(t, testConfig(), community(2)...)
	router, token := newTestRouter(t, svc)

	rec := do(t, router, token, http.MethodGet, "/api/v1/compat/score/1/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var score map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &score))
	assert.Contains(t, score, "score")
	assert.Contains(t, score, "features")

	rec = do(t, router, token, http.MethodGet, "/api/v1/compat/score/1/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, token, http.MethodGet, "/api/v1/compat/score/1/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, token, http.MethodGet, "/api/v1/ml/predict/1/2", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no model has been trained")
}

func TestRecordOutcomeEndpoint(t *testing.T) {
	svc, samples := newService(t, testConfig(), community(2)...)
	router, token := newTestRouter(t, svc)

	rec := do(t, router, token, http.MethodPost, "/api/v1/ml/outcomes",
		`{"target_id": 2, "was_successful_match": true, "interaction_metrics": {"message_count": 12}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sample TrainingSample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sample))
	assert.Equal(t, int64(1), sample.SubjectID, "subject defaults to the caller")
	assert.True(t, sample.WasSuccessfulMatch)
	require.NotNil(t, sample.InteractionMetrics)
	assert.Equal(t, 12, sample.InteractionMetrics.MessageCount)

	n, err := samples.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec = do(t, router, token, http.MethodPost, "/api/v1/ml/outcomes", `{"target_id": 2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "the outcome is required")
}

func TestTrainEndpoints(t *testing.T) {
	svc, samples := newService(t, testConfig())
	router, token := newTestRouter(t, svc)

	rec := do(t, router, token, http.MethodPost, "/api/v1/ml/train", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	seedSamples(t, samples, labelledSamples(20))
	rec = do(t, router, token, http.MethodPost, "/api/v1/ml/train?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res TrainResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Trained)
	assert.Equal(t, 1, res.ModelVersion)

	rec = do(t, router, token, http.MethodDelete, "/api/v1/ml/train", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing is running")

	rec = do(t, router, token, http.MethodGet, "/api/v1/ml/predict/1/2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "users are unknown")

	rec = do(t, router, token, http.MethodGet, "/api/v1/ml/distribution", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d Distribution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, 40, d.TotalSamples)
	assert.Equal(t, 20, d.TotalMatches)
}

func TestPredictWithCorruptModelIsUnavailable(t *testing.T) {
	svc, _ := newService(t, testConfig(), community(2)...)
	_, m := trainedRecord(t)
	m.Weights = m.Weights[:8]
	require.NoError(t, svc.store.Save(context.Background(), m))
	router, token := newTestRouter(t, svc)

	rec := do(t, router, token, http.MethodGet, "/api/v1/ml/predict/1/2", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
