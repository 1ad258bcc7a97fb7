package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/lox/aqiforecast/internal/forecast"
)

// IndexData is everything the dashboard page renders.
type IndexData struct {
	Current  *CurrentData
	Forecast *ForecastData
	History  *HistoryData
	Accuracy []AccuracyRow
	Legend   []LegendEntry
	Hours    []int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := IndexData{Legend: legend(), Hours: hoursOfDay()}
	current, fc, err := s.getCurrentData(r.Context())
	if err != nil && !errors.Is(err, errNoObservations) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data.Current, data.Forecast = current, fc

	if data.History, err = s.getHistoryData(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if data.Accuracy, err = s.getAccuracyData(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Printf("template error: %v", err)
	}
}

func (s *Server) handleAPICurrent(w http.ResponseWriter, r *http.Request) {
	data, _, err := s.getCurrentData(r.Context())
	if errors.Is(err, errNoObservations) {
		writeJSONError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleAPIForecast(w http.ResponseWriter, r *http.Request) {
	data, err := s.getForecastData()
	if errors.Is(err, errNoObservations) {
		writeJSONError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	data, err := s.getHistoryData()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleAPIAccuracy(w http.ResponseWriter, r *http.Request) {
	data, err := s.getAccuracyData()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

type HealthStatus struct {
	Status        string     `json:"status"`
	LastObserved  *time.Time `json:"last_observed,omitempty"`
	AgeMinutes    int        `json:"age_minutes"`
	Stale         bool       `json:"stale"`
	Models        []int      `json:"models"`
	MissingModels int        `json:"missing_models"`
	LastIngest    *time.Time `json:"last_ingest,omitempty"`
	IngestErrors  []string   `json:"ingest_errors,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", AgeMinutes: -1}

	obs, err := s.store.GetLatestObservation()
	if err != nil {
		health.Status = "error"
		health.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, health)
		return
	}

	if obs != nil {
		age := s.now().Sub(obs.ObservedAt)
		health.LastObserved = &obs.ObservedAt
		health.AgeMinutes = int(age.Minutes())
		health.Stale = age > staleAfter
	} else {
		health.Stale = true
	}

	if err := s.addIngestStatus(&health); err != nil {
		log.Printf("health: ingest status: %v", err)
	}

	health.Models = s.registry.Available()
	if health.Models == nil {
		health.Models = []int{}
	}
	health.MissingModels = len(forecast.Horizons()) - len(health.Models)

	if health.Stale || len(health.Models) == 0 {
		health.Status = "degraded"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// addIngestStatus reports the last successful fetch and any failures since.
func (s *Server) addIngestStatus(h *HealthStatus) error {
	last, err := s.store.GetLastSuccessfulIngest()
	if err != nil {
		return err
	}
	if last != nil && last.FinishedAt.Valid {
		at := last.FinishedAt.Time.In(s.loc)
		h.LastIngest = &at
	}

	failures, err := s.store.GetRecentIngestErrors(3)
	if err != nil {
		return err
	}
	for _, run := range failures {
		if last != nil && !run.StartedAt.After(last.StartedAt) {
			break
		}
		h.IngestErrors = append(h.IngestErrors, fmt.Sprintf("%s %s: %s", run.Source, run.StartedAt.In(s.loc).Format(time.RFC3339), run.ErrorMessage.String))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
