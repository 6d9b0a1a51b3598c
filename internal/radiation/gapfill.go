package radiation

import (
	"database/sql"
	"errors"

	"gonum.org/v1/gonum/stat"

	"github.com/lox/solaretp/internal/models"
)

const (
	trendWindow = 30
	minTrendPts = 2

	// Empirically tuned, not physical constants.
	analogWeight   = 0.5
	biasCorrection = -0.22

	seasonalLagDays = 365
)

// ErrInsufficientData means fewer than two valid values were available for
// the trend fit.
var ErrInsufficientData = errors.New("insufficient radiation data for regression")

// Fill predicts the days dates following the last valid entry of series.
// Each prediction blends the value recorded 365 days earlier (or the trend
// window mean when absent) with a least-squares trend over the most recent
// valid values, then applies a fixed bias correction. Gaps inside the known
// history are left alone.
func Fill(series models.RadiationSeries, days int) (models.RadiationSeries, error) {
	valid := series.Valid()
	if len(valid) < minTrendPts {
		return nil, ErrInsufficientData
	}
	if days <= 0 {
		return models.RadiationSeries{}, nil
	}

	window := valid
	if len(window) > trendWindow {
		window = window[len(window)-trendWindow:]
	}
	xs := make([]float64, len(window))
	ys := make([]float64, len(window))
	for i, d := range window {
		xs[i] = float64(i)
		ys[i] = d.Value.Float64
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	windowMean := stat.Mean(ys, nil)

	byDate := make(map[int64]float64, len(valid))
	for _, d := range valid {
		byDate[d.Date.Unix()] = d.Value.Float64
	}

	last := valid[len(valid)-1].Date
	predicted := make(models.RadiationSeries, 0, days)
	for i := 0; i < days; i++ {
		date := last.AddDate(0, 0, i+1)

		analog, ok := byDate[date.AddDate(0, 0, -seasonalLagDays).Unix()]
		if !ok {
			analog = windowMean
		}
		trend := alpha + beta*float64(len(window)+i)

		v := analogWeight*analog + (1-analogWeight)*trend + biasCorrection
		predicted = append(predicted, models.RadiationDay{
			Date:  date,
			Value: sql.NullFloat64{Float64: v, Valid: true},
		})
	}
	return predicted, nil
}
