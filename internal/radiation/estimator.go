package radiation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lox/solaretp/internal/metrics"
	"github.com/lox/solaretp/internal/models"
)

const (
	// KWhToMJ converts kWh/m²/day to MJ/m²/day.
	KWhToMJ = 3.6

	// settleDays is how far behind today the provider is assumed to lag;
	// dates inside it are estimated rather than read.
	settleDays    = 5
	lookbackDays  = 400
	horizonMargin = 5
)

// Source returns daily radiation in kWh/m²/day for [start, end]. Missing
// measurements are invalid entries; dates outside coverage are absent.
type Source interface {
	DailyRadiation(ctx context.Context, lat, lon float64, start, end time.Time) (models.RadiationSeries, error)
}

type Estimator struct {
	source Source
	now    func() time.Time
}

func NewEstimator(source Source) *Estimator {
	return &Estimator{source: source, now: time.Now}
}

// WithClock returns a copy of the estimator that reads "today" from now.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	return &Estimator{source: e.source, now: now}
}

// Convert returns a kWh/m²/day value in MJ/m²/day.
func Convert(kwh float64) float64 {
	return kwh * KWhToMJ
}

// Horizon is the number of days to gap-fill for target as seen from today.
func Horizon(today, target time.Time) int {
	return models.DaysBetween(today, target) + horizonMargin
}

// Estimate returns the radiation for target in MJ/m²/day. An invalid result
// means the value could not be determined; errors are source failures.
func (e *Estimator) Estimate(ctx context.Context, lat, lon float64, target time.Time) (sql.NullFloat64, models.Branch, error) {
	today := models.DateOnly(e.now().UTC())
	target = models.DateOnly(target)

	var (
		kwh    sql.NullFloat64
		branch models.Branch
		err    error
	)
	if !target.Before(today.AddDate(0, 0, -settleDays)) {
		branch = models.BranchForecast
		kwh, err = e.forecast(ctx, lat, lon, today, target)
	} else {
		branch = models.BranchHistorical
		kwh, err = e.historical(ctx, lat, lon, target)
	}
	if err != nil {
		metrics.RadiationEstimates.WithLabelValues(string(branch), "error").Inc()
		return sql.NullFloat64{}, branch, err
	}
	if !kwh.Valid {
		metrics.RadiationEstimates.WithLabelValues(string(branch), "unavailable").Inc()
		log.Printf("radiation: %s unavailable at %.3f,%.3f (%s)", target.Format("2006-01-02"), lat, lon, branch)
		return sql.NullFloat64{}, branch, nil
	}

	metrics.RadiationEstimates.WithLabelValues(string(branch), "ok").Inc()
	return sql.NullFloat64{Float64: Convert(kwh.Float64), Valid: true}, branch, nil
}

func (e *Estimator) historical(ctx context.Context, lat, lon float64, target time.Time) (sql.NullFloat64, error) {
	series, err := e.source.DailyRadiation(ctx, lat, lon, target, target)
	if err != nil {
		return sql.NullFloat64{}, fmt.Errorf("fetch radiation for %s: %w", target.Format(models.DateLayout), err)
	}
	v, _ := series.Lookup(target)
	return v, nil
}

func (e *Estimator) forecast(ctx context.Context, lat, lon float64, today, target time.Time) (sql.NullFloat64, error) {
	start := today.AddDate(0, 0, -lookbackDays)
	series, err := e.source.DailyRadiation(ctx, lat, lon, start, today)
	if err != nil {
		return sql.NullFloat64{}, fmt.Errorf("fetch radiation window %s-%s: %w",
			start.Format(models.DateLayout), today.Format(models.DateLayout), err)
	}
	valid := series.Valid()

	horizon := Horizon(today, target)
	predicted, err := Fill(valid, horizon)
	if errors.Is(err, ErrInsufficientData) {
		log.Printf("radiation: %d valid days in window, cannot gap-fill", len(valid))
		return sql.NullFloat64{}, nil
	}
	if err != nil {
		return sql.NullFloat64{}, err
	}

	// Only predicted days are answered; a target on or before the last
	// valid day is unavailable.
	v, _ := predicted.Lookup(target)
	return v, nil
}
