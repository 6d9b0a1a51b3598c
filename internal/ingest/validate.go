package ingest

import (
	"database/sql"

	"github.com/lox/solaretp/internal/models"
)

const (
	FlagTempOutOfRange    = "temp_out_of_range"
	FlagHumidityInvalid   = "humidity_invalid"
	FlagWindSpeedUnlikely = "wind_speed_unlikely"
	FlagRadiationInvalid  = "radiation_invalid"
)

func ValidateObservation(obs *models.Observation) []string {
	var flags []string

	if obs.Temp.Valid {
		if obs.Temp.Float64 < -60 || obs.Temp.Float64 > 60 {
			flags = append(flags, FlagTempOutOfRange)
		}
	}

	if obs.Humidity.Valid {
		if obs.Humidity.Float64 < 0 || obs.Humidity.Float64 > 100 {
			flags = append(flags, FlagHumidityInvalid)
		}
	}

	if obs.WindSpeed.Valid {
		// m/s; 75 is well above any surface station record
		if obs.WindSpeed.Float64 < 0 || obs.WindSpeed.Float64 > 75 {
			flags = append(flags, FlagWindSpeedUnlikely)
		}
	}

	return flags
}

// ClearFlagged nulls the fields named by flags so they drop out of daily means.
func ClearFlagged(obs *models.Observation, flags []string) {
	for _, f := range flags {
		switch f {
		case FlagTempOutOfRange:
			obs.Temp = sql.NullFloat64{}
		case FlagHumidityInvalid:
			obs.Humidity = sql.NullFloat64{}
		case FlagWindSpeedUnlikely:
			obs.WindSpeed = sql.NullFloat64{}
		}
	}
}

// ValidateRadiation flags daily radiation outside what reaches the surface.
// Top-of-atmosphere insolation peaks near 12.5 kWh/m²/day.
func ValidateRadiation(day models.RadiationDay) []string {
	if day.Value.Valid && (day.Value.Float64 < 0 || day.Value.Float64 > 12.5) {
		return []string{FlagRadiationInvalid}
	}
	return nil
}
