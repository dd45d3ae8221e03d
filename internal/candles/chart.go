package candles

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/kiwoom-bot/daytrader/internal/indicators"
)

// Render draws a candle series into a plain OHLC thumbnail for the vision
// gate, the Go stand-in for
// original_source/python/kiwoom/ai_analyst.py's create_chart_image (which
// used mplfinance/PIL). No charting library is carried anywhere in the
// reference stack, so this renders directly on image/png; the output is a
// minimal visual aid, not a faithful mplfinance reproduction.
const (
	chartWidth  = 900
	chartHeight = 420
	candleGap   = 1
)

func Render(series []indicators.Candle, code string) ([]byte, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("candles: no candles to render for %s", code)
	}

	img := image.NewRGBA(image.Rect(0, 0, chartWidth, chartHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	lo, hi := candleRange(series)
	n := len(series)
	width := chartWidth / n
	if width < 1 {
		width = 1
	}

	up := color.RGBA{R: 30, G: 140, B: 60, A: 255}
	down := color.RGBA{R: 200, G: 40, B: 40, A: 255}

	for i, c := range series {
		col := down
		if c.Close >= c.Open {
			col = up
		}
		drawCandle(img, i*width, width, c, lo, hi, col)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func candleRange(series []indicators.Candle) (lo, hi float64) {
	lo, hi = series[0].Low, series[0].High
	for _, c := range series {
		if c.Low < lo {
			lo = c.Low
		}
		if c.High > hi {
			hi = c.High
		}
	}
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

func drawCandle(img *image.RGBA, x, width int, c indicators.Candle, lo, hi float64, col color.RGBA) {
	yFor := func(price float64) int {
		frac := (price - lo) / (hi - lo)
		y := chartHeight - int(frac*float64(chartHeight))
		if y < 0 {
			return 0
		}
		if y >= chartHeight {
			return chartHeight - 1
		}
		return y
	}

	wickX := x + width/2
	top, bottom := yFor(c.High), yFor(c.Low)
	for y := top; y <= bottom; y++ {
		img.Set(wickX, y, col)
	}

	bodyTop := yFor(math.Max(c.Open, c.Close))
	bodyBottom := yFor(math.Min(c.Open, c.Close))
	if bodyBottom <= bodyTop {
		bodyBottom = bodyTop + 1
	}
	left, right := x+candleGap, x+width-candleGap
	if right <= left {
		right = left + 1
	}
	for yy := bodyTop; yy <= bodyBottom; yy++ {
		for xx := left; xx < right && xx < chartWidth; xx++ {
			img.Set(xx, yy, col)
		}
	}
}
