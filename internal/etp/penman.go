// Package etp computes reference evapotranspiration with a Penman-type
// combination equation.
package etp

import "math"

const (
	albedo         = 0.23
	windHeightAdj  = 0.7 // measurement height to 2 m
	altitudeM      = 1.0
	psychrometricK = 0.665e-3

	tetensA = 0.6108
	tetensB = 17.27
	tetensC = 237.3
)

// Inputs are the daily weather statistics the equation needs.
type Inputs struct {
	TempMean      float64 // °C
	TempMin       float64 // °C
	TempMax       float64 // °C
	HumidityMean  float64 // %
	WindSpeedMean float64 // m/s at measurement height
}

// Breakdown holds the intermediate terms of a computation.
type Breakdown struct {
	WindSpeed2m         float64 // m/s
	NetRadiation        float64 // MJ/m²/day
	SatVaporPressure    float64 // kPa
	ActualVaporPressure float64 // kPa
	Slope               float64 // kPa/°C
	Pressure            float64 // kPa
	Psychrometric       float64 // kPa/°C
	ETP                 float64 // mm/day
}

// Compute returns reference ETP in mm/day for radiation in MJ/m²/day.
func Compute(in Inputs, radiation float64) float64 {
	return Explain(in, radiation).ETP
}

// Explain returns the ETP along with every intermediate term.
func Explain(in Inputs, radiation float64) Breakdown {
	t := in.TempMean

	u2 := windHeightAdj * in.WindSpeedMean
	rn := (1 - albedo) * radiation
	es := tetensA * math.Exp((tetensB*t)/(tetensC+t))
	ea := es * in.HumidityMean / 100
	delta := (4098 * es) / math.Pow(tetensC+t, 2)
	p := AtmosphericPressure(altitudeM)
	gamma := psychrometricK * p

	num := 0.408*delta*rn + gamma*(900/(t+273))*u2*(es-ea)
	den := delta + gamma*(1+0.34*u2)

	return Breakdown{
		WindSpeed2m:         u2,
		NetRadiation:        rn,
		SatVaporPressure:    es,
		ActualVaporPressure: ea,
		Slope:               delta,
		Pressure:            p,
		Psychrometric:       gamma,
		ETP:                 num / den,
	}
}

// AtmosphericPressure returns pressure in kPa at altitude z metres.
func AtmosphericPressure(z float64) float64 {
	return 101.3 * math.Pow((293-0.0065*z)/293, 5.26)
}
