package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/lox/solaretp/internal/metrics"
	"github.com/lox/solaretp/internal/models"
	"github.com/lox/solaretp/internal/store"
)

const (
	DefaultNWSURL       = "https://api.weather.gov"
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"

	geoJSON = "application/geo+json"
)

// NWSClient fetches station observations from the US National Weather
// Service for the station nearest a postal code.
type NWSClient struct {
	fetcher
	baseURL      string
	nominatimURL string
}

func NewNWSClient(client *http.Client, baseURL, nominatimURL string) *NWSClient {
	if baseURL == "" {
		baseURL = DefaultNWSURL
	}
	if nominatimURL == "" {
		nominatimURL = DefaultNominatimURL
	}
	return &NWSClient{fetcher: newFetcher(client, "nws"), baseURL: baseURL, nominatimURL: nominatimURL}
}

// SetRecorder enables audit rows for every observation fetch.
func (n *NWSClient) SetRecorder(r RunRecorder) {
	n.recorder = r
}

type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

type pointResponse struct {
	Properties struct {
		ObservationStations string `json:"observationStations"`
	} `json:"properties"`
}

type stationsResponse struct {
	Features []struct {
		Properties struct {
			StationIdentifier string `json:"stationIdentifier"`
		} `json:"properties"`
	} `json:"features"`
}

type quantity struct {
	Value    *float64 `json:"value"`
	UnitCode string   `json:"unitCode"`
}

type ObservationsResponse struct {
	Features []struct {
		Properties struct {
			Station          string   `json:"station"`
			Timestamp        string   `json:"timestamp"`
			Temperature      quantity `json:"temperature"`
			RelativeHumidity quantity `json:"relativeHumidity"`
			WindSpeed        quantity `json:"windSpeed"`
		} `json:"properties"`
	} `json:"features"`
}

// Observations implements estimate.WeatherSource. The window covers the
// whole of the end date.
func (n *NWSClient) Observations(ctx context.Context, zipcode, country string, start, end time.Time) ([]models.Observation, error) {
	lat, lon, err := n.geocode(ctx, zipcode, country)
	if err != nil {
		return nil, err
	}
	stationID, err := n.nearestStation(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("start", models.DateOnly(start).Format(time.RFC3339))
	q.Set("end", models.DateOnly(end).AddDate(0, 0, 1).Add(-time.Second).Format(time.RFC3339))
	u := fmt.Sprintf("%s/stations/%s/observations?%s", n.baseURL, url.PathEscape(stationID), q.Encode())

	req := store.FetchRequest{
		Endpoint:  "stations/observations",
		Location:  country + " " + zipcode,
		StationID: stationID,
		Start:     models.DateOnly(start),
		End:       models.DateOnly(end),
	}

	body, result, err := n.get(ctx, req.Endpoint, u, geoJSON)
	if err != nil {
		n.audit(req, result, err)
		return nil, err
	}

	obs, err := parseObservations(stationID, body, result)
	n.audit(req, result, err)
	if err != nil {
		return nil, err
	}

	metrics.RecordsFetched.WithLabelValues(n.source).Add(float64(len(obs)))
	log.Printf("nws: %s: %d observations for %s %s", stationID, len(obs), country, zipcode)
	return obs, nil
}

func (n *NWSClient) geocode(ctx context.Context, zipcode, country string) (float64, float64, error) {
	q := url.Values{}
	q.Set("postalcode", zipcode)
	q.Set("country", country)
	q.Set("format", "json")
	q.Set("limit", "1")

	body, _, err := n.get(ctx, "geocode", n.nominatimURL+"/search?"+q.Encode(), "application/json")
	if err != nil {
		return 0, 0, fmt.Errorf("geocode %s %s: %w", country, zipcode, err)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return 0, 0, fmt.Errorf("unmarshal geocode: %w", err)
	}
	if len(places) == 0 {
		return 0, 0, fmt.Errorf("geocode %s %s: no match", country, zipcode)
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse lat %q: %w", places[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse lon %q: %w", places[0].Lon, err)
	}
	return lat, lon, nil
}

func (n *NWSClient) nearestStation(ctx context.Context, lat, lon float64) (string, error) {
	body, _, err := n.get(ctx, "points", fmt.Sprintf("%s/points/%.4f,%.4f", n.baseURL, lat, lon), geoJSON)
	if err != nil {
		return "", fmt.Errorf("resolve point: %w", err)
	}
	var point pointResponse
	if err := json.Unmarshal(body, &point); err != nil {
		return "", fmt.Errorf("unmarshal point: %w", err)
	}
	if point.Properties.ObservationStations == "" {
		return "", fmt.Errorf("point %.4f,%.4f has no observation stations", lat, lon)
	}

	body, _, err = n.get(ctx, "points/stations", point.Properties.ObservationStations, geoJSON)
	if err != nil {
		return "", fmt.Errorf("list stations: %w", err)
	}
	var stations stationsResponse
	if err := json.Unmarshal(body, &stations); err != nil {
		return "", fmt.Errorf("unmarshal stations: %w", err)
	}
	if len(stations.Features) == 0 {
		return "", fmt.Errorf("no stations near %.4f,%.4f", lat, lon)
	}
	return stations.Features[0].Properties.StationIdentifier, nil
}

func parseObservations(stationID string, body []byte, result *FetchResult) ([]models.Observation, error) {
	var data ObservationsResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	var parseErrors []string
	flagged := 0
	seen := make(map[int64]bool, len(data.Features))
	obs := make([]models.Observation, 0, len(data.Features))
	for i, f := range data.Features {
		p := f.Properties
		observedAt, err := time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("features[%d].timestamp=%q: %v", i, p.Timestamp, err))
			continue
		}
		if seen[observedAt.Unix()] {
			continue
		}
		seen[observedAt.Unix()] = true

		o := models.Observation{
			StationID:  stationID,
			ObservedAt: observedAt,
			Temp:       temperatureC(p.Temperature),
			Humidity:   nullable(p.RelativeHumidity.Value),
			WindSpeed:  windSpeedMS(p.WindSpeed),
		}
		if flags := ValidateObservation(&o); len(flags) > 0 {
			flagged++
			ClearFlagged(&o, flags)
		}
		obs = append(obs, o)
	}
	sort.Slice(obs, func(i, j int) bool { return obs[i].ObservedAt.Before(obs[j].ObservedAt) })

	result.RecordCount = len(obs)
	result.RecordsMissing = flagged
	if len(parseErrors) > 0 {
		result.ParseErrors = len(parseErrors)
		result.ParseError = fmt.Sprintf("%d parse errors: %v", len(parseErrors), parseErrors[0])
		log.Printf("nws: %s: %s", stationID, result.ParseError)
	}
	if flagged > 0 {
		log.Printf("nws: %s: %d observations failed QC", stationID, flagged)
	}
	return obs, nil
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func temperatureC(q quantity) sql.NullFloat64 {
	v := nullable(q.Value)
	if v.Valid && q.UnitCode == "wmoUnit:degF" {
		v.Float64 = (v.Float64 - 32) * 5 / 9
	}
	return v
}

func windSpeedMS(q quantity) sql.NullFloat64 {
	v := nullable(q.Value)
	if !v.Valid {
		return v
	}
	switch q.UnitCode {
	case "wmoUnit:km_h-1":
		v.Float64 /= 3.6
	case "wmoUnit:m_s-1":
	default:
		log.Printf("nws: unknown wind speed unit %q", q.UnitCode)
		return sql.NullFloat64{}
	}
	return v
}
