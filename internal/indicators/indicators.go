// Package indicators implements the deterministic, streaming-friendly
// technical indicator kernels the pipeline persists alongside every candle:
// EMA, SMA, population standard deviation, Wilder-smoothed RSI/ATR/ADX,
// MACD, Bollinger Bands and simple/log returns.
//
// Every kernel is a pure function over aligned float64 vectors of length N,
// returning a length-N vector of the same shape. A "null" (not-yet-warm)
// output is represented as math.NaN(), following the convention used by
// this package's sibling storage layer, which maps NaN to SQL NULL on
// write and returns sql.NullFloat64 on read. Grounded on the teacher's Wilder-smoothing style
// in internal/domain/indicators/technical.go (CalculateRSI/CalculateATR),
// generalized here from single scalar outputs to full aligned vectors with
// exact warm-up semantics, since the spec requires persisting one row per
// bar rather than one scalar snapshot.
package indicators

import "math"

// Null is the sentinel for "not yet warm".
var Null = math.NaN()

// IsNull reports whether v is the null sentinel.
func IsNull(v float64) bool { return math.IsNaN(v) }

func nullVector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = Null
	}
	return v
}

// EMA computes the exponential moving average of values over period bars.
// The seed at i = period-1 is the simple average of values[0:period]; for
// i >= period it advances by out[i] = values[i]*k + out[i-1]*(1-k), with
// k = 2/(period+1) unless alphaOverride is supplied.
func EMA(values []float64, period int, alphaOverride ...float64) []float64 {
	n := len(values)
	out := nullVector(n)
	if period <= 0 || n < period {
		return out
	}

	k := 2.0 / float64(period+1)
	if len(alphaOverride) > 0 {
		k = alphaOverride[0]
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// SMA computes the trailing simple moving average over period bars, using a
// running sum for O(N) total work.
func SMA(values []float64, period int) []float64 {
	n := len(values)
	out := nullVector(n)
	if period <= 0 || n < period {
		return out
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		sum += values[i]
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// Stddev computes the population standard deviation of the trailing window
// [i-period+1, i] around the supplied moving average ma[i], for every index
// where ma[i] is non-null.
func Stddev(values []float64, period int, ma []float64) []float64 {
	n := len(values)
	out := nullVector(n)
	if period <= 0 {
		return out
	}
	for i := 0; i < n && i < len(ma); i++ {
		if i < period-1 || IsNull(ma[i]) {
			continue
		}
		sumSq := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - ma[i]
			sumSq += d * d
		}
		out[i] = math.Sqrt(sumSq / float64(period))
	}
	return out
}

// WilderRSI computes the Wilder-smoothed Relative Strength Index over
// period bars (default 14). The first `period` outputs are null; the first
// valid RSI is emitted once `period` price differences have accumulated.
func WilderRSI(close []float64, period int) []float64 {
	n := len(close)
	out := nullVector(n)
	if period <= 0 || n <= period {
		return out
	}

	gainSum, lossSum := 0.0, 0.0
	for i := 1; i <= period; i++ {
		delta := close[i] - close[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		delta := close[i] - close[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// trueRange returns the true-range vector: tr[0] = high[0]-low[0], and for
// i >= 1 the max of the three standard true-range candidates.
func trueRange(high, low, close []float64) []float64 {
	n := len(high)
	tr := make([]float64, n)
	if n == 0 {
		return tr
	}
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// WilderATR computes the Wilder-smoothed Average True Range over period
// bars (default 14). Seeded at i = period-1 with the simple mean of the
// true range, then advanced via Wilder smoothing.
func WilderATR(high, low, close []float64, period int) []float64 {
	n := len(high)
	out := nullVector(n)
	if period <= 0 || n < period {
		return out
	}
	tr := trueRange(high, low, close)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	out[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

// WilderADX computes the Wilder-smoothed Average Directional Index over
// period bars (default 14), along with the intermediate TR14/+DM14/-DM14
// Wilder sums used to derive +DI/-DI/DX. ADX itself warms up over roughly
// 2*period bars: DX first becomes available once TR14/+DM14/-DM14 have
// accumulated period post-warmup samples, and ADX is then the simple mean
// of the first `period` DX values, smoothed thereafter.
func WilderADX(high, low, close []float64, period int) []float64 {
	n := len(high)
	out := nullVector(n)
	if period <= 0 || n < 2*period {
		return out
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := trueRange(high, low, close)
	for i := 1; i < n; i++ {
		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	trSum, plusSum, minusSum := 0.0, 0.0, 0.0
	for i := 1; i <= period; i++ {
		trSum += tr[i]
		plusSum += plusDM[i]
		minusSum += minusDM[i]
	}

	dx := nullVector(n)
	computeDX := func(i int) {
		if trSum <= 0 {
			dx[i] = 0
			return
		}
		plusDI := 100 * plusSum / trSum
		minusDI := 100 * minusSum / trSum
		sum := plusDI + minusDI
		if sum == 0 {
			dx[i] = 0
			return
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
	}
	computeDX(period)

	for i := period + 1; i < n; i++ {
		trSum = trSum - trSum/float64(period) + tr[i]
		plusSum = plusSum - plusSum/float64(period) + plusDM[i]
		minusSum = minusSum - minusSum/float64(period) + minusDM[i]
		computeDX(i)
	}

	firstADXIdx := 2*period - 1
	if firstADXIdx >= n {
		return out
	}
	sum := 0.0
	for i := period; i <= firstADXIdx; i++ {
		sum += dx[i]
	}
	out[firstADXIdx] = sum / float64(period)

	for i := firstADXIdx + 1; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + dx[i]) / float64(period)
	}
	return out
}

// MACDResult holds the three parallel MACD vectors.
type MACDResult struct {
	MACD   []float64
	Signal []float64
	Hist   []float64
}

// MACD computes the standard 12/26/9 MACD. The signal line seeds its
// 9-period EMA over the MACD line with nulls replaced by zero — a
// documented, non-standard quirk of the reference behavior (see
// DESIGN.md), reproduced here bit-for-bit for parity rather than the more
// conventional "wait for MACD to warm up, then EMA" approach.
func MACD(close []float64) MACDResult {
	fast := EMA(close, 12)
	slow := EMA(close, 26)
	n := len(close)

	macd := nullVector(n)
	macdZeroed := make([]float64, n)
	for i := 0; i < n; i++ {
		if !IsNull(fast[i]) && !IsNull(slow[i]) {
			macd[i] = fast[i] - slow[i]
			macdZeroed[i] = macd[i]
		}
	}

	signal := EMA(macdZeroed, 9)

	hist := nullVector(n)
	for i := 0; i < n; i++ {
		if !IsNull(macd[i]) && !IsNull(signal[i]) {
			hist[i] = macd[i] - signal[i]
		}
	}

	return MACDResult{MACD: macd, Signal: signal, Hist: hist}
}

// BollingerResult holds the mid/upper/lower Bollinger Band vectors.
type BollingerResult struct {
	Mid   []float64
	Upper []float64
	Lower []float64
}

// Bollinger computes 20-period, 2-sigma Bollinger Bands over close.
func Bollinger(close []float64) BollingerResult {
	const period = 20
	const numSigma = 2.0

	mid := SMA(close, period)
	sigma := Stddev(close, period, mid)

	n := len(close)
	upper := nullVector(n)
	lower := nullVector(n)
	for i := 0; i < n; i++ {
		if IsNull(mid[i]) || IsNull(sigma[i]) {
			continue
		}
		upper[i] = mid[i] + numSigma*sigma[i]
		lower[i] = mid[i] - numSigma*sigma[i]
	}
	return BollingerResult{Mid: mid, Upper: upper, Lower: lower}
}

// ReturnsResult holds the percent and log one-bar return vectors.
type ReturnsResult struct {
	Pct []float64
	Log []float64
}

// Returns computes one-bar percent and log returns. Both are null at i=0
// and wherever the prior close is zero.
func Returns(close []float64) ReturnsResult {
	n := len(close)
	pct := nullVector(n)
	logr := nullVector(n)
	for i := 1; i < n; i++ {
		if close[i-1] == 0 {
			continue
		}
		ratio := close[i] / close[i-1]
		pct[i] = ratio - 1
		logr[i] = math.Log(ratio)
	}
	return ReturnsResult{Pct: pct, Log: logr}
}

// OHLCV is one aligned bar of input data for the full indicator suite.
type OHLCV struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Batch holds every indicator vector the storage façade persists, aligned
// 1:1 with the input OHLCV slice by index.
type Batch struct {
	EMA50       []float64
	EMA200      []float64
	RSI14       []float64
	ATR14       []float64
	ADX14       []float64
	VolMA20     []float64
	MACD        []float64
	MACDSignal  []float64
	MACDHist    []float64
	BBSMA20     []float64
	BBUpper     []float64
	BBLower     []float64
	PctReturn1  []float64
	LogReturn1  []float64
}

// WarmupBars is the minimum number of bars before the full indicator suite
// (driven by EMA200) is guaranteed to be warm.
const WarmupBars = 200

// Compute runs every kernel over the aligned OHLCV slice and returns the
// parallel indicator batch. All kernels are deterministic and side-effect
// free: calling Compute twice on the same input is bit-identical.
func Compute(bars []OHLCV) Batch {
	n := len(bars)
	closeV := make([]float64, n)
	highV := make([]float64, n)
	lowV := make([]float64, n)
	volumeV := make([]float64, n)
	for i, b := range bars {
		closeV[i] = b.Close
		highV[i] = b.High
		lowV[i] = b.Low
		volumeV[i] = b.Volume
	}

	macd := MACD(closeV)
	boll := Bollinger(closeV)
	rets := Returns(closeV)

	return Batch{
		EMA50:      EMA(closeV, 50),
		EMA200:     EMA(closeV, 200),
		RSI14:      WilderRSI(closeV, 14),
		ATR14:      WilderATR(highV, lowV, closeV, 14),
		ADX14:      WilderADX(highV, lowV, closeV, 14),
		VolMA20:    SMA(volumeV, 20),
		MACD:       macd.MACD,
		MACDSignal: macd.Signal,
		MACDHist:   macd.Hist,
		BBSMA20:    boll.Mid,
		BBUpper:    boll.Upper,
		BBLower:    boll.Lower,
		PctReturn1: rets.Pct,
		LogReturn1: rets.Log,
	}
}
