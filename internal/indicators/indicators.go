// Package indicators computes the small set of technical signals the
// admission pipeline's technical gate needs from a candle series: moving
// averages, RSI(14), and the last candle's upper-shadow ratio.
package indicators

// Candle is one OHLC bar, oldest-first ordering expected by every function
// in this package.
type Candle struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// MA returns the simple moving average of the last period closes. Returns
// (0, false) if fewer than period candles are available.
func MA(candles []Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	window := candles[len(candles)-period:]
	sum := 0.0
	for _, c := range window {
		sum += c.Close
	}
	return sum / float64(period), true
}

// RSI computes the Wilder RSI over the given period (14 in practice) from
// the candle series. Returns (0, false) if there aren't at least period+1
// candles.
func RSI(candles []Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	var gainSum, lossSum float64
	for i := len(candles) - period; i < len(candles); i++ {
		delta := candles[i].Close - candles[i-1].Close
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// UpperShadowRatio returns (high - max(open, close)) / (high - low) for a
// single candle, the fraction of the bar's full range occupied by the
// upper wick. Returns 0 if the candle has zero range.
func UpperShadowRatio(c Candle) float64 {
	fullRange := c.High - c.Low
	if fullRange <= 0 {
		return 0
	}
	body := c.Open
	if c.Close > body {
		body = c.Close
	}
	return (c.High - body) / fullRange
}
