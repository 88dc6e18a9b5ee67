package analyzer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnet/diagnet/pkg/model"
)

func TestAnalyzeMachineHandler(t *testing.T) {
	a := newTestAnalyzer(t, &fixedSource{readings: slice(75, 75, 75, 75, 75, 75, 75, 75, 75, 75, 105, 106)}, fixedLimits{})
	router := mux.NewRouter()
	a.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/analysis/machine/M001?hours=24", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	result := model.AnalysisResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "M001", result.MachineID)
	assert.Equal(t, model.HealthWarning, result.Status)
	assert.Equal(t, 12, result.Statistics.DataPoints)
}

func TestAnalyzeMachineHandlerSourceDown(t *testing.T) {
	a := newTestAnalyzer(t, &fixedSource{err: fmt.Errorf("%w: connection refused", ErrSourceUnavailable)}, fixedLimits{})
	router := mux.NewRouter()
	a.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/analysis/machine/M001", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAnalyzeMachineHandlerBadHours(t *testing.T) {
	a := newTestAnalyzer(t, &fixedSource{}, fixedLimits{})
	router := mux.NewRouter()
	a.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/analysis/machine/M001?hours=-2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
