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
	"time"

	"github.com/lox/solaretp/internal/metrics"
	"github.com/lox/solaretp/internal/models"
	"github.com/lox/solaretp/internal/store"
)

const (
	DefaultPowerURL = "https://power.larc.nasa.gov"

	powerParameter = "ALLSKY_SFC_SW_DWN"
	powerEndpoint  = "temporal/daily/point"

	// PowerFillValue marks days without a measurement.
	PowerFillValue = -999.0
)

// PowerClient reads all-sky surface shortwave downward irradiance
// (kWh/m²/day) from the NASA POWER daily point API.
type PowerClient struct {
	fetcher
	baseURL string
}

func NewPowerClient(client *http.Client, baseURL string) *PowerClient {
	if baseURL == "" {
		baseURL = DefaultPowerURL
	}
	return &PowerClient{fetcher: newFetcher(client, "power"), baseURL: baseURL}
}

// SetRecorder enables audit rows for every fetch.
func (p *PowerClient) SetRecorder(r RunRecorder) {
	p.recorder = r
}

type PowerResponse struct {
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
	Messages []string `json:"messages"`
}

// DailyRadiation implements radiation.Source. Fill values come back as
// invalid entries.
func (p *PowerClient) DailyRadiation(ctx context.Context, lat, lon float64, start, end time.Time) (models.RadiationSeries, error) {
	q := url.Values{}
	q.Set("parameters", powerParameter)
	q.Set("community", "RE")
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("start", start.Format(models.DateLayout))
	q.Set("end", end.Format(models.DateLayout))
	q.Set("format", "JSON")
	u := fmt.Sprintf("%s/api/%s?%s", p.baseURL, powerEndpoint, q.Encode())
	location := fmt.Sprintf("%.4f,%.4f", lat, lon)
	req := store.FetchRequest{Endpoint: powerEndpoint, Location: location, Start: start, End: end}

	body, result, err := p.get(ctx, powerEndpoint, u, "application/json")
	if err != nil {
		p.audit(req, result, err)
		return nil, err
	}

	series, err := parsePowerJSON(body, result)
	p.audit(req, result, err)
	if err != nil {
		return nil, err
	}

	metrics.RecordsFetched.WithLabelValues(p.source).Add(float64(len(series)))
	if result.ParseErrors > 0 {
		log.Printf("power: %s", result.ParseError)
	}
	log.Printf("power: fetched %d days for %s (%s-%s), %d missing", len(series), location,
		start.Format(models.DateLayout), end.Format(models.DateLayout), result.RecordsMissing)
	return series, nil
}

func parsePowerJSON(body []byte, result *FetchResult) (models.RadiationSeries, error) {
	var data PowerResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	values, ok := data.Properties.Parameter[powerParameter]
	if !ok {
		return nil, fmt.Errorf("response missing parameter %s", powerParameter)
	}

	var parseErrors []string
	series := make(models.RadiationSeries, 0, len(values))
	for key, v := range values {
		date, err := time.Parse(models.DateLayout, key)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("date %q: %v", key, err))
			continue
		}
		day := models.RadiationDay{Date: date}
		if v != PowerFillValue {
			day.Value = sql.NullFloat64{Float64: v, Valid: true}
			if flags := ValidateRadiation(day); len(flags) > 0 {
				parseErrors = append(parseErrors, fmt.Sprintf("date %s: value %v %v", key, v, flags))
				day.Value = sql.NullFloat64{}
			}
		}
		series = append(series, day)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })

	result.describeSeries(series)
	if len(parseErrors) > 0 {
		sort.Strings(parseErrors)
		result.ParseErrors = len(parseErrors)
		result.ParseError = fmt.Sprintf("%d parse errors: %v", len(parseErrors), parseErrors[0])
	}
	return series, nil
}
