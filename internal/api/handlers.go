package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lox/solaretp/internal/estimate"
	"github.com/lox/solaretp/internal/models"
	"github.com/lox/solaretp/internal/store"
)

type EstimateResponse struct {
	Available   bool    `json:"available"`
	Date        string  `json:"date"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	RadiationMJ float64 `json:"radiation_mj"`
	ETPmm       float64 `json:"etp_mm"`
	Branch      string  `json:"branch"`
}

// UnavailableResponse is returned when radiation or weather is missing
// for the requested day.
type UnavailableResponse struct {
	Available bool `json:"available"`
}

type RadiationResponse struct {
	Available   bool    `json:"available"`
	Date        string  `json:"date"`
	RadiationMJ float64 `json:"radiation_mj,omitempty"`
	Branch      string  `json:"branch"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type HealthStatus struct {
	Status  string               `json:"status"`
	Sources []store.SourceHealth `json:"sources,omitempty"`
	Errors  []string             `json:"errors,omitempty"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := parseLocation(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	date, err := parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	zipcode := strings.TrimSpace(q.Get("zipcode"))
	if zipcode == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("zipcode is required"))
		return
	}
	country := strings.ToUpper(strings.TrimSpace(q.Get("country")))
	if country == "" {
		country = "US"
	}

	est, err := s.estimates.RadiationAndETP(r.Context(), estimate.Request{
		Latitude:  lat,
		Longitude: lon,
		Zipcode:   zipcode,
		Country:   country,
		Date:      date,
	})
	if err != nil {
		log.Printf("api: estimate %.4f,%.4f %s: %v", lat, lon, date.Format(models.DateLayout), err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if est == nil {
		writeJSON(w, http.StatusOK, UnavailableResponse{Available: false})
		return
	}
	writeJSON(w, http.StatusOK, EstimateResponse{
		Available:   true,
		Date:        est.Date.Format(models.DateLayout),
		Latitude:    est.Latitude,
		Longitude:   est.Longitude,
		RadiationMJ: est.Radiation,
		ETPmm:       est.ETP,
		Branch:      string(est.Branch),
	})
}

func (s *Server) handleRadiation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := parseLocation(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	date, err := parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rad, branch, err := s.radiation.Estimate(r.Context(), lat, lon, date)
	if err != nil {
		log.Printf("api: radiation %.4f,%.4f %s: %v", lat, lon, date.Format(models.DateLayout), err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, RadiationResponse{
		Available:   rad.Valid,
		Date:        date.Format(models.DateLayout),
		RadiationMJ: rad.Float64,
		Branch:      string(branch),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}
	if s.audit != nil {
		sources, err := s.audit.SourceHealth(24 * time.Hour)
		if err != nil {
			health.Status = "degraded"
			health.Errors = append(health.Errors, "audit: "+err.Error())
		}
		for _, src := range sources {
			if src.Runs > 0 && src.Failures == src.Runs {
				health.Status = "degraded"
				health.Errors = append(health.Errors, fmt.Sprintf("%s %s: all %d fetches failed", src.Source, src.Endpoint, src.Runs))
			}
		}
		health.Sources = sources
	}
	writeJSON(w, http.StatusOK, health)
}

func parseLocation(latStr, lonStr string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lat %q", latStr)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lon %q", lonStr)
	}
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("lat %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("lon %v out of range", lon)
	}
	return lat, lon, nil
}

func parseDate(v string) (time.Time, error) {
	date, err := time.Parse(models.DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYYMMDD", v)
	}
	return date, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: status})
}
