package sampler

import "math"

// FeelsLike computes the humidity-corrected perceived temperature in °F,
// rounded to the nearest integer.
//
// Below 80°F a simple linear humidity correction applies. At or above 80°F
// with humidity ≥ 40% the Rothfusz heat-index regression applies; with
// humidity below 40% the perceived temperature equals the actual. Unknown
// humidity yields the actual temperature: no correction without data.
func FeelsLike(tempF float64, humidity *float64) float64 {
	if humidity == nil {
		return math.Round(tempF)
	}
	rh := *humidity

	if tempF < 80 {
		return math.Round(tempF + 0.33*(rh/100)*6.105 - 4.0)
	}
	if rh < 40 {
		return math.Round(tempF)
	}
	return math.Round(rothfusz(tempF, rh))
}

// rothfusz is the NWS heat-index regression.
func rothfusz(t, rh float64) float64 {
	return -42.379 +
		2.04901523*t +
		10.14333127*rh -
		0.22475541*t*rh -
		0.00683783*t*t -
		0.05481717*rh*rh +
		0.00122874*t*t*rh +
		0.00085282*t*rh*rh -
		0.00000199*t*t*rh*rh
}
