package estimate

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/solaretp/internal/etp"
	"github.com/lox/solaretp/internal/metrics"
	"github.com/lox/solaretp/internal/models"
	"github.com/lox/solaretp/internal/weather"
)

// WeatherSource returns sub-daily observations between start and end,
// sorted by timestamp without duplicates.
type WeatherSource interface {
	Observations(ctx context.Context, zipcode, country string, start, end time.Time) ([]models.Observation, error)
}

// RadiationEstimator returns radiation in MJ/m²/day; an invalid value means
// unavailable.
type RadiationEstimator interface {
	Estimate(ctx context.Context, lat, lon float64, target time.Time) (sql.NullFloat64, models.Branch, error)
}

type Request struct {
	Latitude  float64
	Longitude float64
	Zipcode   string
	Country   string
	Date      time.Time
}

// Service composes radiation estimation, weather aggregation and the ETP
// equation. It holds no per-request state.
type Service struct {
	radiation RadiationEstimator
	weather   WeatherSource
}

func NewService(radiation RadiationEstimator, weather WeatherSource) *Service {
	return &Service{radiation: radiation, weather: weather}
}

// RadiationAndETP returns the estimate for req, or nil without error when
// the radiation or the day's weather is not available. Source failures are
// returned as errors.
func (s *Service) RadiationAndETP(ctx context.Context, req Request) (*models.Estimate, error) {
	date := models.DateOnly(req.Date)

	var (
		rad    sql.NullFloat64
		branch models.Branch
		obs    []models.Observation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rad, branch, err = s.radiation.Estimate(gctx, req.Latitude, req.Longitude, date)
		if err != nil {
			return fmt.Errorf("estimate radiation: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		obs, err = s.weather.Observations(gctx, req.Zipcode, req.Country, date.AddDate(0, 0, -1), date.AddDate(0, 0, 1))
		if err != nil {
			return fmt.Errorf("fetch weather: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.ETPEstimates.WithLabelValues("error").Inc()
		return nil, err
	}

	if len(obs) == 0 || !rad.Valid {
		metrics.ETPEstimates.WithLabelValues("unavailable").Inc()
		log.Printf("estimate: %s unavailable (observations=%d radiation=%t)", date.Format("2006-01-02"), len(obs), rad.Valid)
		return nil, nil
	}

	summary, ok := weather.SummaryFor(obs, date)
	if !ok || !summary.HumidityMean.Valid || !summary.WindSpeedMean.Valid {
		metrics.ETPEstimates.WithLabelValues("unavailable").Inc()
		log.Printf("estimate: no complete weather summary for %s", date.Format("2006-01-02"))
		return nil, nil
	}

	value := etp.Compute(Inputs(summary), rad.Float64)
	metrics.ETPEstimates.WithLabelValues("ok").Inc()

	return &models.Estimate{
		Date:      date,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Radiation: rad.Float64,
		ETP:       value,
		Branch:    branch,
	}, nil
}

// Inputs maps a daily summary onto the ETP equation inputs. Missing humidity
// or wind are passed as zero; callers check validity first.
func Inputs(s models.DailyWeatherSummary) etp.Inputs {
	return etp.Inputs{
		TempMean:      s.TempMean,
		TempMin:       s.TempMin,
		TempMax:       s.TempMax,
		HumidityMean:  s.HumidityMean.Float64,
		WindSpeedMean: s.WindSpeedMean.Float64,
	}
}
