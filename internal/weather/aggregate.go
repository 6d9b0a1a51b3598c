package weather

import (
	"database/sql"
	"math"
	"sort"
	"time"

	"github.com/lox/solaretp/internal/models"
)

type accumulator struct {
	date       time.Time
	tempSum    float64
	tempMin    float64
	tempMax    float64
	tempCount  int
	humSum     float64
	humCount   int
	windSum    float64
	windCount  int
	sampleSeen int
}

// Summarize groups observations by calendar date (in each timestamp's own
// location) and returns one summary per date that has at least one
// temperature sample, ordered by date. Null fields are skipped per field.
func Summarize(obs []models.Observation) []models.DailyWeatherSummary {
	if len(obs) == 0 {
		return nil
	}

	byDate := make(map[time.Time]*accumulator)
	for _, o := range obs {
		date := models.DateOnly(o.ObservedAt)
		acc, ok := byDate[date]
		if !ok {
			acc = &accumulator{date: date, tempMin: math.Inf(1), tempMax: math.Inf(-1)}
			byDate[date] = acc
		}
		acc.sampleSeen++

		if o.Temp.Valid {
			acc.tempSum += o.Temp.Float64
			acc.tempCount++
			acc.tempMin = math.Min(acc.tempMin, o.Temp.Float64)
			acc.tempMax = math.Max(acc.tempMax, o.Temp.Float64)
		}
		if o.Humidity.Valid {
			acc.humSum += o.Humidity.Float64
			acc.humCount++
		}
		if o.WindSpeed.Valid {
			acc.windSum += o.WindSpeed.Float64
			acc.windCount++
		}
	}

	summaries := make([]models.DailyWeatherSummary, 0, len(byDate))
	for _, acc := range byDate {
		if acc.tempCount == 0 {
			continue
		}
		s := models.DailyWeatherSummary{
			Date:     acc.date,
			TempMean: acc.tempSum / float64(acc.tempCount),
			TempMin:  acc.tempMin,
			TempMax:  acc.tempMax,
			Samples:  acc.sampleSeen,
		}
		if acc.humCount > 0 {
			s.HumidityMean = sql.NullFloat64{Float64: acc.humSum / float64(acc.humCount), Valid: true}
		}
		if acc.windCount > 0 {
			s.WindSpeedMean = sql.NullFloat64{Float64: acc.windSum / float64(acc.windCount), Valid: true}
		}
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Date.Before(summaries[j].Date)
	})
	return summaries
}

// SummaryFor returns the summary for date, or false when the series is empty
// or the date has no temperature samples.
func SummaryFor(obs []models.Observation, date time.Time) (models.DailyWeatherSummary, bool) {
	key := models.DateOnly(date)
	for _, s := range Summarize(obs) {
		if s.Date.Equal(key) {
			return s, true
		}
	}
	return models.DailyWeatherSummary{}, false
}
