package models

import (
	"database/sql"
	"time"
)

// DateLayout is the YYYYMMDD form used by NASA POWER and on the command line.
const DateLayout = "20060102"

// Observation is a single sub-daily weather sample from a station.
type Observation struct {
	StationID  string
	ObservedAt time.Time
	Temp       sql.NullFloat64 // °C
	Humidity   sql.NullFloat64 // relative humidity, %
	WindSpeed  sql.NullFloat64 // m/s
}

// RadiationDay is one entry of a daily radiation series in kWh/m²/day.
// Value is invalid where the provider had no measurement.
type RadiationDay struct {
	Date  time.Time
	Value sql.NullFloat64
}

// RadiationSeries is ordered by Date ascending with unique dates.
// Contiguity is not guaranteed.
type RadiationSeries []RadiationDay

// Valid returns the entries that carry a measurement, preserving order.
func (s RadiationSeries) Valid() RadiationSeries {
	var out RadiationSeries
	for _, d := range s {
		if d.Value.Valid {
			out = append(out, d)
		}
	}
	return out
}

// Lookup returns the value recorded for date, if any.
func (s RadiationSeries) Lookup(date time.Time) (sql.NullFloat64, bool) {
	key := DateOnly(date)
	for _, d := range s {
		if d.Date.Equal(key) {
			return d.Value, true
		}
	}
	return sql.NullFloat64{}, false
}

// DailyWeatherSummary condenses one calendar day of observations.
type DailyWeatherSummary struct {
	Date          time.Time
	TempMean      float64
	TempMin       float64
	TempMax       float64
	HumidityMean  sql.NullFloat64
	WindSpeedMean sql.NullFloat64
	Samples       int
}

// Branch records which radiation path produced a value.
type Branch string

const (
	BranchHistorical Branch = "historical"
	BranchForecast   Branch = "forecast"
)

// Estimate is the radiation and reference evapotranspiration for one location and day.
type Estimate struct {
	Date      time.Time
	Latitude  float64
	Longitude float64
	Radiation float64 // MJ/m²/day
	ETP       float64 // mm/day
	Branch    Branch
}

// DateOnly truncates t to midnight UTC of its calendar date in t's own location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}
