package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
)

// Default periods for the launch feature set. Launch tapes are short,
// so the windows are tighter than classic chart settings.
const (
	rsiPeriod      = 14
	emaShortPeriod = 5
	emaLongPeriod  = 20
)

// RSI returns the most recent RSI value over the price series
func RSI(prices []float64, period int) (float64, error) {
	if period < 1 || period > len(prices) {
		return 0, fmt.Errorf("invalid RSI period %d for %d prices", period, len(prices))
	}
	values := collect(momentum.NewRsiWithPeriod[float64](period).Compute(feed(prices)))
	if len(values) == 0 {
		return 0, fmt.Errorf("price series too short for RSI(%d)", period)
	}
	return values[len(values)-1], nil
}

// EMA returns the most recent EMA value over the price series
func EMA(prices []float64, period int) (float64, error) {
	if period < 1 || period > len(prices) {
		return 0, fmt.Errorf("invalid EMA period %d for %d prices", period, len(prices))
	}
	values := collect(trend.NewEmaWithPeriod[float64](period).Compute(feed(prices)))
	if len(values) == 0 {
		return 0, fmt.Errorf("price series too short for EMA(%d)", period)
	}
	return values[len(values)-1], nil
}

// LaunchFeatures derives the momentum features the macro analyzer
// consumes from a trade-price tape. Series too short for a feature
// simply omit it.
func LaunchFeatures(prices []float64) map[string]float64 {
	features := make(map[string]float64)

	if rsi, err := RSI(prices, rsiPeriod); err == nil {
		features["rsi"] = rsi
	}

	short, errShort := EMA(prices, emaShortPeriod)
	long, errLong := EMA(prices, emaLongPeriod)
	if errShort == nil && errLong == nil {
		// Positive spread means the short EMA rides above the long one.
		features["ema_trend"] = short - long
		features["ema"] = short
	}

	return features
}

func feed(prices []float64) chan float64 {
	ch := make(chan float64, len(prices))
	for _, p := range prices {
		ch <- p
	}
	close(ch)
	return ch
}

func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}
