package strategy

import (
	"math"
	"sort"

	"barbot-go/internal/signal"
)

// Indicator series are aligned with their input: out[i] uses inputs[0..i] only.
// Positions without enough history hold NaN.

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the simple rolling mean.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// StdDev is the rolling sample standard deviation.
func StdDev(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 1 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		var mean float64
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		var ss float64
		for _, v := range window {
			ss += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// EMA uses alpha = 2/(span+1), seeded with the first value.
func EMA(values []float64, span int) []float64 {
	out := nanSeries(len(values))
	if span <= 0 || len(values) == 0 {
		return out
	}
	return ewm(values, 2/float64(span+1))
}

func ewm(values []float64, alpha float64) []float64 {
	out := nanSeries(len(values))
	if len(values) == 0 {
		return out
	}
	prev := values[0]
	out[0] = prev
	for i := 1; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// Bands holds Bollinger band series.
type Bands struct {
	Mid, Upper, Lower, Width []float64
}

// Bollinger computes SMA ± k standard deviations; Width is (upper-lower)/mid.
func Bollinger(closes []float64, period int, k float64) Bands {
	mid := SMA(closes, period)
	sd := StdDev(closes, period)
	n := len(closes)
	b := Bands{Mid: mid, Upper: nanSeries(n), Lower: nanSeries(n), Width: nanSeries(n)}
	for i := range closes {
		if math.IsNaN(mid[i]) || math.IsNaN(sd[i]) {
			continue
		}
		b.Upper[i] = mid[i] + k*sd[i]
		b.Lower[i] = mid[i] - k*sd[i]
		if mid[i] != 0 {
			b.Width[i] = (b.Upper[i] - b.Lower[i]) / mid[i]
		}
	}
	return b
}

// RSI uses Wilder smoothing (alpha = 1/period).
func RSI(closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if period <= 0 || n < 2 {
		return out
	}
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	alpha := 1 / float64(period)
	g := ewm(gains, alpha)
	l := ewm(losses, alpha)
	for i := period; i < n; i++ {
		if l[i] == 0 {
			out[i] = 100
			continue
		}
		out[i] = 100 - 100/(1+g[i]/l[i])
	}
	return out
}

func trueRange(bars []signal.Bar) []float64 {
	tr := make([]float64, len(bars))
	for i, b := range bars {
		tr[i] = b.High - b.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr[i] = math.Max(tr[i], math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
	}
	return tr
}

// ATR is the rolling mean of the true range.
func ATR(bars []signal.Bar, period int) []float64 {
	return SMA(trueRange(bars), period)
}

// ADX is Wilder's average directional index.
func ADX(bars []signal.Bar, period int) []float64 {
	n := len(bars)
	out := nanSeries(n)
	if period <= 0 || n < 2*period {
		return out
	}
	plus := make([]float64, n)
	minus := make([]float64, n)
	for i := 1; i < n; i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plus[i] = up
		}
		if down > up && down > 0 {
			minus[i] = down
		}
	}
	alpha := 1 / float64(period)
	tr := ewm(trueRange(bars), alpha)
	p := ewm(plus, alpha)
	m := ewm(minus, alpha)
	dx := make([]float64, n)
	for i := range dx {
		if tr[i] == 0 {
			continue
		}
		pdi, mdi := 100*p[i]/tr[i], 100*m[i]/tr[i]
		if s := pdi + mdi; s > 0 {
			dx[i] = 100 * math.Abs(pdi-mdi) / s
		}
	}
	adx := ewm(dx, alpha)
	for i := period; i < n; i++ {
		out[i] = adx[i]
	}
	return out
}

// CMF is the Chaikin money flow over period bars.
func CMF(bars []signal.Bar, period int) []float64 {
	n := len(bars)
	out := nanSeries(n)
	if period <= 0 {
		return out
	}
	mfv := make([]float64, n)
	vol := make([]float64, n)
	for i, b := range bars {
		vol[i] = b.Volume
		if r := b.High - b.Low; r > 0 {
			mfv[i] = ((b.Close - b.Low) - (b.High - b.Close)) / r * b.Volume
		}
	}
	for i := period - 1; i < n; i++ {
		var sm, sv float64
		for j := i - period + 1; j <= i; j++ {
			sm += mfv[j]
			sv += vol[j]
		}
		if sv > 0 {
			out[i] = sm / sv
		}
	}
	return out
}

// Donchian returns the highest high and lowest low of the period bars before i.
func Donchian(bars []signal.Bar, period int) (upper, lower []float64) {
	n := len(bars)
	upper, lower = nanSeries(n), nanSeries(n)
	for i := period; i < n; i++ {
		hi, lo := bars[i-period].High, bars[i-period].Low
		for j := i - period + 1; j < i; j++ {
			hi = math.Max(hi, bars[j].High)
			lo = math.Min(lo, bars[j].Low)
		}
		upper[i], lower[i] = hi, lo
	}
	return upper, lower
}

// percentile uses linear interpolation between closest ranks; NaNs are ignored.
func percentile(values []float64, pct float64) float64 {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return math.NaN()
	}
	sort.Float64s(clean)
	rank := pct / 100 * float64(len(clean)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return clean[lo]
	}
	return clean[lo] + (rank-float64(lo))*(clean[hi]-clean[lo])
}

func lowest(bars []signal.Bar, from, to int) float64 {
	lo := math.Inf(1)
	for i := max(from, 0); i <= to; i++ {
		lo = math.Min(lo, bars[i].Low)
	}
	return lo
}

func highest(bars []signal.Bar, from, to int) float64 {
	hi := math.Inf(-1)
	for i := max(from, 0); i <= to; i++ {
		hi = math.Max(hi, bars[i].High)
	}
	return hi
}
