package analyzer

import (
	"errors"
	"net/http"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/diagnet/diagnet/pkg/util"
)

// RegisterRoutes attaches the analysis endpoint.
func (a *Analyzer) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/analysis/machine/{machineId}", a.AnalyzeMachineHandler).Methods(http.MethodGet)
}

// AnalyzeMachineHandler serves GET /analysis/machine/{id}?hours=h.
func (a *Analyzer) AnalyzeMachineHandler(w http.ResponseWriter, r *http.Request) {
	machineID := mux.Vars(r)["machineId"]
	hours, err := util.ParseIntParam(r, "hours", a.cfg.DefaultHours, 0)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	result, err := a.Analyze(r.Context(), machineID, hours)
	if err != nil {
		level.Error(a.logger).Log("msg", "analysis failed", "machine", machineID, "err", err)
		if errors.Is(err, ErrSourceUnavailable) {
			util.WriteTimeoutOr(w, err, http.StatusBadGateway, "source_unavailable", "reading source unavailable")
			return
		}
		util.WriteTimeoutOr(w, err, http.StatusServiceUnavailable, "analysis_failed", "analysis failed")
		return
	}
	util.WriteJSON(w, http.StatusOK, result)
}
