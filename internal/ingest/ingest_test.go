package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/solaretp/internal/models"
	"github.com/lox/solaretp/internal/store"
)

func TestValidateObservation(t *testing.T) {
	tests := []struct {
		name      string
		obs       *models.Observation
		wantFlags []string
	}{
		{
			name: "valid observation - no flags",
			obs: &models.Observation{
				Temp:      sql.NullFloat64{Float64: 25.0, Valid: true},
				Humidity:  sql.NullFloat64{Float64: 60, Valid: true},
				WindSpeed: sql.NullFloat64{Float64: 4.5, Valid: true},
			},
			wantFlags: nil,
		},
		{
			name:      "temp too cold",
			obs:       &models.Observation{Temp: sql.NullFloat64{Float64: -70.0, Valid: true}},
			wantFlags: []string{FlagTempOutOfRange},
		},
		{
			name:      "temp too hot",
			obs:       &models.Observation{Temp: sql.NullFloat64{Float64: 61.0, Valid: true}},
			wantFlags: []string{FlagTempOutOfRange},
		},
		{
			name:      "temp at boundary - valid",
			obs:       &models.Observation{Temp: sql.NullFloat64{Float64: 60.0, Valid: true}},
			wantFlags: nil,
		},
		{
			name:      "humidity over 100",
			obs:       &models.Observation{Humidity: sql.NullFloat64{Float64: 101, Valid: true}},
			wantFlags: []string{FlagHumidityInvalid},
		},
		{
			name:      "negative humidity",
			obs:       &models.Observation{Humidity: sql.NullFloat64{Float64: -1, Valid: true}},
			wantFlags: []string{FlagHumidityInvalid},
		},
		{
			name:      "wind speed unlikely",
			obs:       &models.Observation{WindSpeed: sql.NullFloat64{Float64: 80, Valid: true}},
			wantFlags: []string{FlagWindSpeedUnlikely},
		},
		{
			name: "multiple flags",
			obs: &models.Observation{
				Temp:      sql.NullFloat64{Float64: 99, Valid: true},
				Humidity:  sql.NullFloat64{Float64: 150, Valid: true},
				WindSpeed: sql.NullFloat64{Float64: -2, Valid: true},
			},
			wantFlags: []string{FlagTempOutOfRange, FlagHumidityInvalid, FlagWindSpeedUnlikely},
		},
		{
			name:      "null fields - no flags",
			obs:       &models.Observation{},
			wantFlags: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := ValidateObservation(tt.obs)
			if len(flags) != len(tt.wantFlags) {
				t.Fatalf("flags = %v, want %v", flags, tt.wantFlags)
			}
			for i := range flags {
				if flags[i] != tt.wantFlags[i] {
					t.Errorf("flags[%d] = %q, want %q", i, flags[i], tt.wantFlags[i])
				}
			}
		})
	}
}

func TestClearFlagged(t *testing.T) {
	obs := models.Observation{
		Temp:      sql.NullFloat64{Float64: 99, Valid: true},
		Humidity:  sql.NullFloat64{Float64: 50, Valid: true},
		WindSpeed: sql.NullFloat64{Float64: 90, Valid: true},
	}
	ClearFlagged(&obs, ValidateObservation(&obs))

	if obs.Temp.Valid {
		t.Error("Temp should be cleared")
	}
	if !obs.Humidity.Valid || obs.Humidity.Float64 != 50 {
		t.Errorf("Humidity = %+v, want 50", obs.Humidity)
	}
	if obs.WindSpeed.Valid {
		t.Error("WindSpeed should be cleared")
	}
}

func TestValidateRadiation(t *testing.T) {
	tests := []struct {
		value sql.NullFloat64
		want  bool
	}{
		{sql.NullFloat64{Float64: 5.2, Valid: true}, false},
		{sql.NullFloat64{Float64: 0, Valid: true}, false},
		{sql.NullFloat64{Float64: 12.5, Valid: true}, false},
		{sql.NullFloat64{Float64: 13, Valid: true}, true},
		{sql.NullFloat64{Float64: -0.1, Valid: true}, true},
		{sql.NullFloat64{}, false},
	}
	for _, tt := range tests {
		got := len(ValidateRadiation(models.RadiationDay{Value: tt.value})) > 0
		if got != tt.want {
			t.Errorf("ValidateRadiation(%+v) flagged = %v, want %v", tt.value, got, tt.want)
		}
	}
}

const powerJSON = `{
  "properties": {
    "parameter": {
      "ALLSKY_SFC_SW_DWN": {
        "20240503": -999.0,
        "20240501": 5.12,
        "20240502": 4.87,
        "20240504": 14.2
      }
    }
  },
  "messages": []
}`

func TestParsePowerJSON(t *testing.T) {
	result := &FetchResult{}
	series, err := parsePowerJSON([]byte(powerJSON), result)
	if err != nil {
		t.Fatalf("parsePowerJSON: %v", err)
	}
	if len(series) != 4 {
		t.Fatalf("len(series) = %d, want 4", len(series))
	}

	want := []struct {
		date  string
		valid bool
		value float64
	}{
		{"20240501", true, 5.12},
		{"20240502", true, 4.87},
		{"20240503", false, 0},
		{"20240504", false, 0},
	}
	for i, w := range want {
		d := series[i]
		if got := d.Date.Format(models.DateLayout); got != w.date {
			t.Errorf("series[%d].Date = %s, want %s", i, got, w.date)
		}
		if d.Value.Valid != w.valid {
			t.Errorf("series[%d].Value.Valid = %v, want %v", i, d.Value.Valid, w.valid)
		}
		if w.valid && d.Value.Float64 != w.value {
			t.Errorf("series[%d].Value = %v, want %v", i, d.Value.Float64, w.value)
		}
	}

	if result.RecordCount != 4 || result.RecordsMissing != 2 {
		t.Errorf("RecordCount = %d, RecordsMissing = %d, want 4 and 2", result.RecordCount, result.RecordsMissing)
	}
	if got := result.LatestValid.Format(models.DateLayout); got != "20240502" {
		t.Errorf("LatestValid = %s, want 20240502", got)
	}
	if result.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1 (out-of-range value)", result.ParseErrors)
	}
}

func TestParsePowerJSON_MissingParameter(t *testing.T) {
	_, err := parsePowerJSON([]byte(`{"properties":{"parameter":{}}}`), &FetchResult{})
	if err == nil {
		t.Fatal("expected error for missing parameter")
	}
}

func TestParsePowerJSON_Malformed(t *testing.T) {
	_, err := parsePowerJSON([]byte(`{not json`), &FetchResult{})
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
}

const observationsJSON = `{
  "features": [
    {"properties": {
      "timestamp": "2024-05-01T14:00:00+00:00",
      "temperature": {"value": 68, "unitCode": "wmoUnit:degF"},
      "relativeHumidity": {"value": 55.5, "unitCode": "wmoUnit:percent"},
      "windSpeed": {"value": 18, "unitCode": "wmoUnit:km_h-1"}
    }},
    {"properties": {
      "timestamp": "2024-05-01T13:00:00+00:00",
      "temperature": {"value": 19.5, "unitCode": "wmoUnit:degC"},
      "relativeHumidity": {"value": null, "unitCode": "wmoUnit:percent"},
      "windSpeed": {"value": 3, "unitCode": "wmoUnit:m_s-1"}
    }},
    {"properties": {
      "timestamp": "2024-05-01T14:00:00+00:00",
      "temperature": {"value": 1, "unitCode": "wmoUnit:degC"},
      "relativeHumidity": {"value": 1, "unitCode": "wmoUnit:percent"},
      "windSpeed": {"value": 1, "unitCode": "wmoUnit:m_s-1"}
    }},
    {"properties": {
      "timestamp": "2024-05-01T15:00:00+00:00",
      "temperature": {"value": 95, "unitCode": "wmoUnit:degC"},
      "relativeHumidity": {"value": 40, "unitCode": "wmoUnit:percent"},
      "windSpeed": {"value": 2, "unitCode": "wmoUnit:knots"}
    }},
    {"properties": {
      "timestamp": "not-a-time",
      "temperature": {"value": 10, "unitCode": "wmoUnit:degC"}
    }}
  ]
}`

func TestParseObservations(t *testing.T) {
	result := &FetchResult{}
	obs, err := parseObservations("KNYC", []byte(observationsJSON), result)
	if err != nil {
		t.Fatalf("parseObservations: %v", err)
	}
	if len(obs) != 3 {
		t.Fatalf("len(obs) = %d, want 3 (one duplicate, one bad timestamp)", len(obs))
	}
	if result.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", result.ParseErrors)
	}

	// Sorted by time.
	if obs[0].ObservedAt.Hour() != 13 || obs[1].ObservedAt.Hour() != 14 || obs[2].ObservedAt.Hour() != 15 {
		t.Fatalf("observations not sorted: %v %v %v", obs[0].ObservedAt, obs[1].ObservedAt, obs[2].ObservedAt)
	}

	first := obs[0]
	if first.StationID != "KNYC" {
		t.Errorf("StationID = %q, want KNYC", first.StationID)
	}
	if first.Humidity.Valid {
		t.Error("null humidity should stay null")
	}
	if first.WindSpeed.Float64 != 3 {
		t.Errorf("WindSpeed = %v, want 3", first.WindSpeed.Float64)
	}

	second := obs[1]
	if diff := second.Temp.Float64 - 20; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Temp = %v, want 20 (converted from 68F)", second.Temp.Float64)
	}
	if diff := second.WindSpeed.Float64 - 5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("WindSpeed = %v, want 5 m/s (converted from 18 km/h)", second.WindSpeed.Float64)
	}
	if second.Humidity.Float64 != 55.5 {
		t.Errorf("Humidity = %v, want 55.5 (first duplicate wins)", second.Humidity.Float64)
	}

	third := obs[2]
	if third.Temp.Valid {
		t.Error("out-of-range temp should be cleared by QC")
	}
	if third.WindSpeed.Valid {
		t.Error("unknown wind unit should be null")
	}
	if !third.Humidity.Valid || third.Humidity.Float64 != 40 {
		t.Errorf("Humidity = %+v, want 40", third.Humidity)
	}
}

const powerCSV = `-BEGIN HEADER-
NASA/POWER CERES/MERRA2 Native Resolution Daily Data
Dates (month/day/year): 05/01/2024 through 05/04/2024
Location: Latitude  -33.8688   Longitude 151.2093
ALLSKY_SFC_SW_DWN     CERES SYN1deg All Sky Surface Shortwave Downward Irradiance (kW-hr/m^2/day)
-END HEADER-
YEAR,MO,DY,ALLSKY_SFC_SW_DWN
2024,5,2,4.87
2024,5,1,5.12
2024,5,3,-999.0
2024,5,x,3.1
2024,5,4,3.95
`

func TestParsePowerCSV(t *testing.T) {
	result := &FetchResult{}
	series, err := ParsePowerCSV(strings.NewReader(powerCSV), result)
	if err != nil {
		t.Fatalf("ParsePowerCSV: %v", err)
	}
	if len(series) != 4 {
		t.Fatalf("len(series) = %d, want 4", len(series))
	}
	if got := series[0].Date.Format(models.DateLayout); got != "20240501" {
		t.Errorf("first date = %s, want 20240501", got)
	}
	if series[0].Value.Float64 != 5.12 {
		t.Errorf("first value = %v, want 5.12", series[0].Value.Float64)
	}
	if series[2].Value.Valid {
		t.Error("fill value should be invalid")
	}
	if series[3].Value.Float64 != 3.95 {
		t.Errorf("last value = %v, want 3.95", series[3].Value.Float64)
	}
	if result.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", result.ParseErrors)
	}
}

func TestParsePowerCSV_DayOfYear(t *testing.T) {
	in := "YEAR,DOY,ALLSKY_SFC_SW_DWN\n2024,60,6.5\n2024,61,6.1\n"
	series, err := ParsePowerCSV(strings.NewReader(in), nil)
	if err != nil {
		t.Fatalf("ParsePowerCSV: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("len(series) = %d, want 2", len(series))
	}
	// 2024 is a leap year.
	if got := series[0].Date.Format(models.DateLayout); got != "20240229" {
		t.Errorf("date = %s, want 20240229", got)
	}
}

func TestParsePowerCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"unterminated header", "-BEGIN HEADER-\nsomething\n"},
		{"missing value column", "YEAR,MO,DY,T2M\n2024,5,1,20\n"},
		{"missing date columns", "YEAR,ALLSKY_SFC_SW_DWN\n2024,5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePowerCSV(strings.NewReader(tt.in), nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestArchivePath(t *testing.T) {
	a := &ArchiveSource{PathTemplate: "/power/daily/{lat}_{lon}.csv"}
	if got := a.Path(-33.86881, 151.2093); got != "/power/daily/-33.869_151.209.csv" {
		t.Errorf("Path = %q", got)
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestClipRange(t *testing.T) {
	var series models.RadiationSeries
	for d := date(2024, 5, 1); !d.After(date(2024, 5, 10)); d = d.AddDate(0, 0, 1) {
		series = append(series, models.RadiationDay{Date: d})
	}

	tests := []struct {
		name       string
		start, end time.Time
		wantFirst  time.Time
		wantLen    int
	}{
		{"inside", date(2024, 5, 3), date(2024, 5, 5), date(2024, 5, 3), 3},
		{"single day", date(2024, 5, 7), date(2024, 5, 7), date(2024, 5, 7), 1},
		{"overlaps start", date(2024, 4, 20), date(2024, 5, 2), date(2024, 5, 1), 2},
		{"overlaps end", date(2024, 5, 9), date(2024, 6, 1), date(2024, 5, 9), 2},
		{"covers all", date(2024, 1, 1), date(2024, 12, 31), date(2024, 5, 1), 10},
		{"before", date(2024, 4, 1), date(2024, 4, 30), time.Time{}, 0},
		{"after", date(2024, 5, 11), date(2024, 5, 20), time.Time{}, 0},
		{"inverted", date(2024, 5, 5), date(2024, 5, 3), time.Time{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clipRange(series, tt.start, tt.end)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && !got[0].Date.Equal(tt.wantFirst) {
				t.Errorf("first = %s, want %s", got[0].Date.Format(models.DateLayout), tt.wantFirst.Format(models.DateLayout))
			}
		})
	}
}

func archiveFile(body string) func(context.Context, string) (io.ReadCloser, error) {
	return func(ctx context.Context, path string) (io.ReadCloser, error) {
		if path != "/power/-33.869_151.209.csv" {
			return nil, fmt.Errorf("ftp retr %s: 550 not found", path)
		}
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

func TestArchiveSource_DailyRadiation(t *testing.T) {
	rec := &fakeRecorder{}
	a := &ArchiveSource{PathTemplate: "/power/{lat}_{lon}.csv", open: archiveFile(powerCSV)}
	a.SetRecorder(rec)

	series, err := a.DailyRadiation(context.Background(), -33.8688, 151.2093, date(2024, 5, 2), date(2024, 5, 3))
	if err != nil {
		t.Fatalf("DailyRadiation: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("len(series) = %d, want 2", len(series))
	}
	if !series[0].Date.Equal(date(2024, 5, 2)) || series[0].Value.Float64 != 4.87 {
		t.Errorf("series[0] = %+v, want 2024-05-02 4.87", series[0])
	}
	if series[1].Value.Valid {
		t.Errorf("series[1] = %+v, want fill value invalid", series[1])
	}

	if len(rec.runs) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(rec.runs))
	}
	run := rec.runs[0]
	if !run.Success || run.Source != "archive" || run.Endpoint != "ftp/retr" {
		t.Errorf("run = %+v", run)
	}
	if run.Location != "-33.8688,151.2093" || !run.Start.Equal(date(2024, 5, 2)) || !run.End.Equal(date(2024, 5, 3)) {
		t.Errorf("request = %+v", run.FetchRequest)
	}
	if run.RecordsParsed.Int64 != 2 || run.RecordsMissing.Int64 != 1 {
		t.Errorf("records parsed/missing = %d/%d, want 2/1", run.RecordsParsed.Int64, run.RecordsMissing.Int64)
	}
	if !run.LatestValid.Time.Equal(date(2024, 5, 2)) {
		t.Errorf("LatestValid = %v, want 2024-05-02", run.LatestValid)
	}
	if run.ResponseSizeBytes.Int64 != int64(len(powerCSV)) {
		t.Errorf("ResponseSizeBytes = %d, want %d", run.ResponseSizeBytes.Int64, len(powerCSV))
	}
}

func TestArchiveSource_OpenFails(t *testing.T) {
	rec := &fakeRecorder{}
	a := &ArchiveSource{PathTemplate: "/missing/{lat}_{lon}.csv", open: archiveFile(powerCSV)}
	a.SetRecorder(rec)

	_, err := a.DailyRadiation(context.Background(), -33.8688, 151.2093, date(2024, 5, 1), date(2024, 5, 4))
	if err == nil || !strings.Contains(err.Error(), "550") {
		t.Fatalf("err = %v, want 550", err)
	}
	if len(rec.runs) != 1 || rec.runs[0].Success || rec.runs[0].ErrorMessage.String != err.Error() {
		t.Errorf("runs = %+v, want one failed run", rec.runs)
	}
}

func TestArchiveSource_BadFile(t *testing.T) {
	a := &ArchiveSource{PathTemplate: "/power/{lat}_{lon}.csv", open: archiveFile("not,a,power,export\n")}
	_, err := a.DailyRadiation(context.Background(), -33.8688, 151.2093, date(2024, 5, 1), date(2024, 5, 4))
	if err == nil || !strings.HasPrefix(err.Error(), "parse /power/") {
		t.Fatalf("err = %v, want parse error", err)
	}
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []*store.FetchRun
}

func (f *fakeRecorder) StartFetch(req store.FetchRequest) (*store.FetchRun, error) {
	return &store.FetchRun{FetchRequest: req}, nil
}

func (f *fakeRecorder) CompleteFetch(run *store.FetchRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func TestPowerClient_DailyRadiation(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/temporal/daily/point" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, powerJSON)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := NewPowerClient(srv.Client(), srv.URL)
	c.SetRecorder(rec)

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	series, err := c.DailyRadiation(context.Background(), -33.8688, 151.2093, start, start.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("DailyRadiation: %v", err)
	}
	if len(series) != 4 {
		t.Errorf("len(series) = %d, want 4", len(series))
	}

	for _, want := range []string{"parameters=ALLSKY_SFC_SW_DWN", "community=RE", "start=20240501", "end=20240504", "latitude=-33.8688", "longitude=151.2093", "format=JSON"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}

	if len(rec.runs) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(rec.runs))
	}
	run := rec.runs[0]
	if !run.Success || run.Source != "power" || run.HTTPStatus.Int64 != 200 || run.RecordsParsed.Int64 != 4 {
		t.Errorf("run = %+v", run)
	}
	if run.Location != "-33.8688,151.2093" || !run.Start.Equal(start) || !run.End.Equal(start.AddDate(0, 0, 3)) {
		t.Errorf("request = %+v", run.FetchRequest)
	}
	// 20240503 is a fill value and 20240504 fails QC.
	if run.RecordsMissing.Int64 != 2 || !run.LatestValid.Time.Equal(date(2024, 5, 2)) {
		t.Errorf("missing = %d, latest = %v, want 2 and 2024-05-02", run.RecordsMissing.Int64, run.LatestValid)
	}
}

func TestPowerClient_RetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, powerJSON)
	}))
	defer srv.Close()

	c := NewPowerClient(srv.Client(), srv.URL)
	c.newBackOff = fastBackOff

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := c.DailyRadiation(context.Background(), 0, 0, day, day); err != nil {
		t.Fatalf("DailyRadiation: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPowerClient_ClientErrorIsPermanent(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.Error(w, "bad request", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := NewPowerClient(srv.Client(), srv.URL)
	c.newBackOff = fastBackOff
	c.SetRecorder(rec)

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := c.DailyRadiation(context.Background(), 0, 0, day, day); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(rec.runs) != 1 || rec.runs[0].Success || rec.runs[0].HTTPStatus.Int64 != 422 {
		t.Errorf("runs = %+v, want one failed 422 run", rec.runs)
	}
}

func TestPowerClient_GivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewPowerClient(srv.Client(), srv.URL)
	c.newBackOff = fastBackOff

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := c.DailyRadiation(context.Background(), 0, 0, day, day); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func newNWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("postalcode") != "10001" || r.URL.Query().Get("country") != "US" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[{"lat": "40.7506", "lon": "-73.9972"}]`)
	})
	mux.HandleFunc("/points/40.7506,-73.9972", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"properties": {"observationStations": "http://%s/gridpoints/OKX/33,37/stations"}}`, r.Host)
	})
	mux.HandleFunc("/gridpoints/OKX/33,37/stations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"features": [{"properties": {"stationIdentifier": "KNYC"}}, {"properties": {"stationIdentifier": "KLGA"}}]}`)
	})
	mux.HandleFunc("/stations/KNYC/observations", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") != "2024-04-25T00:00:00Z" || r.URL.Query().Get("end") != "2024-05-01T23:59:59Z" {
			http.Error(w, "unexpected window "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, observationsJSON)
	})
	return httptest.NewServer(mux)
}

func TestNWSClient_Observations(t *testing.T) {
	srv := newNWSServer(t)
	defer srv.Close()

	rec := &fakeRecorder{}
	c := NewNWSClient(srv.Client(), srv.URL, srv.URL)
	c.SetRecorder(rec)

	start := time.Date(2024, 4, 25, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	obs, err := c.Observations(context.Background(), "10001", "US", start, end)
	if err != nil {
		t.Fatalf("Observations: %v", err)
	}
	if len(obs) != 3 {
		t.Errorf("len(obs) = %d, want 3", len(obs))
	}
	if obs[0].StationID != "KNYC" {
		t.Errorf("StationID = %q, want KNYC", obs[0].StationID)
	}
	if len(rec.runs) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(rec.runs))
	}
	run := rec.runs[0]
	if !run.Success || run.StationID != "KNYC" || run.Location != "US 10001" {
		t.Errorf("run = %+v, want successful KNYC run for US 10001", run)
	}
	if !run.Start.Equal(start) || !run.End.Equal(end) {
		t.Errorf("range = %s..%s", run.Start.Format(models.DateLayout), run.End.Format(models.DateLayout))
	}
	if run.RecordsMissing.Int64 != 1 {
		t.Errorf("RecordsMissing = %d, want 1 (QC failure)", run.RecordsMissing.Int64)
	}
}

func TestNWSClient_UnknownPostcode(t *testing.T) {
	srv := newNWSServer(t)
	defer srv.Close()

	c := NewNWSClient(srv.Client(), srv.URL, srv.URL)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := c.Observations(context.Background(), "00000", "US", day, day); err == nil {
		t.Fatal("expected geocode error")
	}
}

func TestNWSClient_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	c := NewNWSClient(&http.Client{Timeout: 30 * time.Second}, "", "")
	end := models.DateOnly(time.Now())
	obs, err := c.Observations(context.Background(), "10001", "US", end.AddDate(0, 0, -2), end)
	if err != nil {
		t.Skipf("NWS unavailable: %v", err)
	}
	t.Logf("fetched %d observations", len(obs))
}
