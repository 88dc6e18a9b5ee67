package ingester

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/diagnet/diagnet/modules/storage"
	"github.com/diagnet/diagnet/pkg/model"
	"github.com/diagnet/diagnet/pkg/util"
	"github.com/diagnet/diagnet/pkg/validation"
)

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000

	defaultTemperatureAlertThreshold = 100.0
	defaultVibrationAlertThreshold   = 0.8
)

// RegisterRoutes attaches the reading write and query endpoints.
func (i *Ingester) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/data", i.CreateReadingHandler).Methods(http.MethodPost)
	r.HandleFunc("/data/recent", i.RecentReadingsHandler).Methods(http.MethodGet)
	r.HandleFunc("/data/range", i.RangeReadingsHandler).Methods(http.MethodGet)
	r.HandleFunc("/data/status/{status}", i.StatusReadingsHandler).Methods(http.MethodGet)
	r.HandleFunc("/data/alerts/temperature", i.TemperatureAlertsHandler).Methods(http.MethodGet)
	r.HandleFunc("/data/alerts/vibration", i.VibrationAlertsHandler).Methods(http.MethodGet)
	r.HandleFunc("/data/machine/{machineId}", i.MachineReadingsHandler).Methods(http.MethodGet)
	r.HandleFunc("/data/machine/{machineId}/recent", i.MachineRecentHandler).Methods(http.MethodGet)
	r.HandleFunc("/data/machine/{machineId}/stats", i.MachineStatsHandler).Methods(http.MethodGet)
}

// CreateReadingHandler ingests one reading synchronously, bypassing the
// buffer so the caller learns the outcome.
func (i *Ingester) CreateReadingHandler(w http.ResponseWriter, r *http.Request) {
	reading := &model.Reading{}
	if err := jsonCodec.NewDecoder(r.Body).Decode(reading); err != nil {
		util.WriteError(w, http.StatusBadRequest, "malformed_payload", "request body is not a valid reading")
		return
	}

	if err := validation.ValidateReading(reading, i.now()); err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_reading", err.Error())
		return
	}
	if err := validation.CheckQuality(reading, i.limits); err != nil {
		util.WriteError(w, http.StatusBadRequest, "quality_check_failed", err.Error())
		return
	}

	reading.IngestedAt = model.TimeOf(i.now())
	if err := i.store.AppendBatch(r.Context(), []model.Reading{*reading}); err != nil {
		if errors.Is(err, storage.ErrStoreRejected) {
			util.WriteError(w, http.StatusBadRequest, "store_rejected", "reading rejected by the store")
			return
		}
		level.Error(i.logger).Log("msg", "synchronous append failed", "machine", reading.MachineID, "err", err)
		util.WriteTimeoutOr(w, err, http.StatusServiceUnavailable, "store_unavailable", "reading store unavailable")
		return
	}

	util.WriteJSON(w, http.StatusCreated, reading)
}

func (i *Ingester) RecentReadingsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := util.ParseIntParam(r, "limit", defaultRecentLimit, maxRecentLimit)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	readings, err := i.store.ScanRecent(r.Context(), limit)
	if err != nil {
		i.writeStoreError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, readings)
}

func (i *Ingester) MachineReadingsHandler(w http.ResponseWriter, r *http.Request) {
	machineID := mux.Vars(r)["machineId"]
	limit, err := util.ParseIntParam(r, "limit", i.cfg.MaxMachineScan, i.cfg.MaxMachineScan)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	readings, err := i.store.ScanMachine(r.Context(), machineID, time.Time{}, limit)
	if err != nil {
		i.writeStoreError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, readings)
}

func (i *Ingester) MachineRecentHandler(w http.ResponseWriter, r *http.Request) {
	machineID := mux.Vars(r)["machineId"]
	hours, err := util.ParseIntParam(r, "hours", 24, 0)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	since := i.now().Add(-time.Duration(hours) * time.Hour)
	readings, err := i.store.ScanMachine(r.Context(), machineID, since, i.cfg.MaxMachineScan)
	if err != nil {
		i.writeStoreError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, readings)
}

func (i *Ingester) RangeReadingsHandler(w http.ResponseWriter, r *http.Request) {
	start, err := util.ParseTimeParam(r, "start")
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	end, err := util.ParseTimeParam(r, "end")
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	if !start.Before(end) {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", "start must be before end")
		return
	}
	limit, err := util.ParseIntParam(r, "limit", i.cfg.MaxMachineScan, i.cfg.MaxMachineScan)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	readings, err := i.store.ScanRange(r.Context(), start, end, limit)
	if err != nil {
		i.writeStoreError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, readings)
}

func (i *Ingester) StatusReadingsHandler(w http.ResponseWriter, r *http.Request) {
	status := model.MachineStatus(mux.Vars(r)["status"])
	if !model.ValidStatus(status) {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", "unknown machine status")
		return
	}
	limit, err := util.ParseIntParam(r, "limit", defaultRecentLimit, maxRecentLimit)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	readings, err := i.store.ScanByStatus(r.Context(), status, limit)
	if err != nil {
		i.writeStoreError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, readings)
}

func (i *Ingester) TemperatureAlertsHandler(w http.ResponseWriter, r *http.Request) {
	i.alertsHandler(w, r, storage.MetricTemperature, defaultTemperatureAlertThreshold)
}

func (i *Ingester) VibrationAlertsHandler(w http.ResponseWriter, r *http.Request) {
	i.alertsHandler(w, r, storage.MetricVibration, defaultVibrationAlertThreshold)
}

func (i *Ingester) alertsHandler(w http.ResponseWriter, r *http.Request, metric storage.Metric, defThreshold float64) {
	threshold, err := util.ParseFloatParam(r, "threshold", defThreshold)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	hours, err := util.ParseIntParam(r, "hours", 24, 0)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	limit, err := util.ParseIntParam(r, "limit", defaultRecentLimit, maxRecentLimit)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	since := i.now().Add(-time.Duration(hours) * time.Hour)
	readings, err := i.store.ScanAboveThreshold(r.Context(), metric, threshold, since, limit)
	if err != nil {
		i.writeStoreError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, readings)
}

// machineStatsResponse is the aggregate summary envelope. Snake case
// field names here predate the camel case reading envelope and stay for
// client compatibility.
type machineStatsResponse struct {
	MachineID          string     `json:"machine_id"`
	AverageTemperature *float64   `json:"average_temperature"`
	TotalReadings      int64      `json:"total_readings"`
	Start              model.Time `json:"start"`
	End                model.Time `json:"end"`
}

func (i *Ingester) MachineStatsHandler(w http.ResponseWriter, r *http.Request) {
	machineID := mux.Vars(r)["machineId"]
	start, err := util.ParseTimeParam(r, "start")
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	end, err := util.ParseTimeParam(r, "end")
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	if !start.Before(end) {
		util.WriteError(w, http.StatusBadRequest, "invalid_parameter", "start must be before end")
		return
	}

	resp := machineStatsResponse{
		MachineID: machineID,
		Start:     model.TimeOf(start),
		End:       model.TimeOf(end),
	}

	inRange, err := i.store.Aggregate(r.Context(), machineID, storage.MetricTemperature, storage.AggregateCount, start, end)
	if err != nil {
		i.writeStoreError(w, r, err)
		return
	}
	if inRange > 0 {
		avg, err := i.store.Aggregate(r.Context(), machineID, storage.MetricTemperature, storage.AggregateAvg, start, end)
		if err != nil {
			i.writeStoreError(w, r, err)
			return
		}
		resp.AverageTemperature = &avg
	}

	total, err := i.store.CountMachine(r.Context(), machineID)
	if err != nil {
		i.writeStoreError(w, r, err)
		return
	}
	resp.TotalReadings = total

	util.WriteJSON(w, http.StatusOK, resp)
}

func (i *Ingester) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	level.Error(i.logger).Log("msg", "store query failed", "path", r.URL.Path, "err", err)
	util.WriteTimeoutOr(w, err, http.StatusServiceUnavailable, "store_unavailable", "reading store unavailable")
}
