package http

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"cointraq/internal/aggregate"
	"cointraq/internal/core"
)

// Chart geometry is computed here and drawn as inline SVG, so pages need
// neither scripts nor inline styles.
const (
	chartWidth  = 600
	chartHeight = 160
	chartPad    = 4
	shareRow    = 20
)

type bar struct {
	X, Y, W, H float64
	Label      string
}

type barChart struct {
	Width, Height int
	Bars          []bar
	Empty         bool
}

// newBarChart lays out one bar per bucket, scaled to the largest amount.
func newBarChart(series []aggregate.DailyAmount) barChart {
	c := barChart{Width: chartWidth, Height: chartHeight, Empty: len(series) == 0}
	if c.Empty {
		return c
	}
	peak := decimal.Zero
	for _, d := range series {
		peak = decimal.Max(peak, d.Amount)
	}
	slot := float64(chartWidth) / float64(len(series))
	for i, d := range series {
		h := scale(d.Amount, peak, chartHeight-chartPad)
		c.Bars = append(c.Bars, bar{
			X:     float64(i)*slot + slot*0.1,
			Y:     float64(chartHeight) - h,
			W:     slot * 0.8,
			H:     h,
			Label: d.Day() + ": " + core.FormatAmount(d.Amount),
		})
	}
	return c
}

type dot struct {
	X, Y  float64
	Label string
}

type lineChart struct {
	Width, Height int
	Points        string
	Dots          []dot
	Empty         bool
}

// newLineChart plots points left to right in the given order.
func newLineChart(points []aggregate.Point) lineChart {
	c := lineChart{Width: chartWidth, Height: chartHeight, Empty: len(points) == 0}
	if c.Empty {
		return c
	}
	peak := decimal.Zero
	for _, p := range points {
		peak = decimal.Max(peak, p.Amount)
	}
	step := 0.0
	if len(points) > 1 {
		step = float64(chartWidth-2*chartPad) / float64(len(points)-1)
	}
	coords := make([]string, 0, len(points))
	for i, p := range points {
		x := float64(chartPad) + float64(i)*step
		if len(points) == 1 {
			x = chartWidth / 2
		}
		y := float64(chartHeight-chartPad) - scale(p.Amount, peak, chartHeight-2*chartPad)
		coords = append(coords, fmt.Sprintf("%.1f,%.1f", x, y))
		c.Dots = append(c.Dots, dot{X: x, Y: y, Label: p.Date + ": " + core.FormatAmount(p.Amount)})
	}
	c.Points = strings.Join(coords, " ")
	return c
}

type share struct {
	Name    string
	Amount  decimal.Decimal
	Y       int
	Width   float64
	Percent string
	Class   string
}

// newShares turns the overview pie into proportional bars. A negative
// balance is shown by its magnitude and flagged through its class.
func newShares(pie []aggregate.Slice) []share {
	total := decimal.Zero
	for _, sl := range pie {
		total = total.Add(sl.Value.Abs())
	}
	out := make([]share, 0, len(pie))
	for i, sl := range pie {
		sh := share{Name: sl.Name, Amount: sl.Value, Class: strings.ToLower(sl.Name), Y: i * shareRow}
		if sl.Value.IsNegative() {
			sh.Class += " negative"
		}
		if total.IsPositive() {
			pct := sl.Value.Abs().Div(total).Mul(decimal.NewFromInt(100))
			sh.Width = pct.InexactFloat64() * chartWidth / 100
			sh.Percent = pct.StringFixed(1) + "%"
		} else {
			sh.Percent = "0.0%"
		}
		out = append(out, sh)
	}
	return out
}

// scale maps v onto [0, span] relative to peak. Non-zero values stay visible.
func scale(v, peak decimal.Decimal, span float64) float64 {
	if !peak.IsPositive() || !v.IsPositive() {
		return 0
	}
	h := v.Div(peak).InexactFloat64() * span
	return max(h, 2)
}
