package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearRamp(n int) []OHLCV {
	bars := make([]OHLCV, n)
	for i := 0; i < n; i++ {
		c := 100 + 0.1*float64(i)
		bars[i] = OHLCV{
			OpenTime: int64(i) * 3_600_000,
			Open:     c,
			High:     c + 0.05,
			Low:      c - 0.05,
			Close:    c,
			Volume:   1000 + float64(i),
		}
	}
	return bars
}

func TestLinearRampWarmupAndLength(t *testing.T) {
	bars := linearRamp(300)
	batch := Compute(bars)

	require.Len(t, batch.EMA50, 300)
	require.Len(t, batch.EMA200, 300)
	require.Len(t, batch.RSI14, 300)
	require.Len(t, batch.ATR14, 300)
	require.Len(t, batch.ADX14, 300)
	require.Len(t, batch.MACD, 300)
	require.Len(t, batch.BBSMA20, 300)
	require.Len(t, batch.PctReturn1, 300)

	closeV := make([]float64, 300)
	for i, b := range bars {
		closeV[i] = b.Close
	}
	sma50Seed := 0.0
	for i := 0; i < 50; i++ {
		sma50Seed += closeV[i]
	}
	sma50Seed /= 50

	require.False(t, IsNull(batch.EMA50[49]))
	assert.InDelta(t, sma50Seed, batch.EMA50[49], 1e-9)

	// monotonically increasing close with no losses => RSI == 100 once warm.
	for i := 14; i < 300; i++ {
		require.False(t, IsNull(batch.RSI14[i]))
		assert.InDelta(t, 100.0, batch.RSI14[i], 1e-9)
	}
}

func TestEMASeedIsSimpleAverage(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	out := EMA(values, 5)
	for i := 0; i < 4; i++ {
		assert.True(t, IsNull(out[i]))
	}
	assert.InDelta(t, 3.0, out[4], 1e-12) // mean of 1..5
	k := 2.0 / 6.0
	expected := values[5]*k + out[4]*(1-k)
	assert.InDelta(t, expected, out[5], 1e-12)
}

func TestSMARunningSum(t *testing.T) {
	values := []float64{2, 4, 6, 8, 10}
	out := SMA(values, 3)
	assert.True(t, IsNull(out[0]))
	assert.True(t, IsNull(out[1]))
	assert.InDelta(t, 4.0, out[2], 1e-12)
	assert.InDelta(t, 6.0, out[3], 1e-12)
	assert.InDelta(t, 8.0, out[4], 1e-12)
}

func TestWilderRSIAllGainsIsHundred(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = float64(i)
	}
	out := WilderRSI(values, 14)
	for i := 0; i < 14; i++ {
		assert.True(t, IsNull(out[i]))
	}
	for i := 14; i < 30; i++ {
		assert.InDelta(t, 100.0, out[i], 1e-9)
	}
}

func TestWilderRSIAllLossesIsZero(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = float64(30 - i)
	}
	out := WilderRSI(values, 14)
	for i := 14; i < 30; i++ {
		assert.InDelta(t, 0.0, out[i], 1e-9)
	}
}

func TestWilderATRSeed(t *testing.T) {
	n := 30
	high := make([]float64, n)
	low := make([]float64, n)
	close := make([]float64, n)
	for i := 0; i < n; i++ {
		high[i] = 10 + float64(i)
		low[i] = 9 + float64(i)
		close[i] = 9.5 + float64(i)
	}
	out := WilderATR(high, low, close, 14)
	for i := 0; i < 13; i++ {
		assert.True(t, IsNull(out[i]))
	}
	assert.False(t, IsNull(out[13]))
}

func TestBollingerBandSymmetry(t *testing.T) {
	bars := linearRamp(60)
	close := make([]float64, len(bars))
	for i, b := range bars {
		close[i] = b.Close
	}
	boll := Bollinger(close)
	for i := 19; i < len(close); i++ {
		require.False(t, IsNull(boll.Mid[i]))
		upGap := boll.Upper[i] - boll.Mid[i]
		downGap := boll.Mid[i] - boll.Lower[i]
		assert.InDelta(t, upGap, downGap, 1e-9)
	}
}

func TestReturnsRelation(t *testing.T) {
	close := []float64{100, 110, 121, 90.75}
	rets := Returns(close)
	for i := 1; i < len(close); i++ {
		require.False(t, IsNull(rets.Pct[i]))
		require.False(t, IsNull(rets.Log[i]))
		assert.InDelta(t, rets.Pct[i]+1, math.Exp(rets.Log[i]), 1e-12)
	}
	assert.True(t, IsNull(rets.Pct[0]))
}

func TestReturnsNullOnZeroPriorClose(t *testing.T) {
	close := []float64{0, 5}
	rets := Returns(close)
	assert.True(t, IsNull(rets.Pct[1]))
	assert.True(t, IsNull(rets.Log[1]))
}

func TestPositionStabilityOfEMA(t *testing.T) {
	bars := linearRamp(260)
	closeV := make([]float64, len(bars))
	for i, b := range bars {
		closeV[i] = b.Close
	}
	full := EMA(closeV, 50)

	k := 120
	suffix := closeV[k:]
	partial := EMA(suffix, 50)

	warm := k + 50 + 20
	for i := warm; i < len(closeV); i++ {
		assert.InDelta(t, full[i], partial[i-k], 1e-9*math.Abs(full[i])+1e-9)
	}
}

func TestMACDNullUntilSlowEMAWarm(t *testing.T) {
	bars := linearRamp(60)
	closeV := make([]float64, len(bars))
	for i, b := range bars {
		closeV[i] = b.Close
	}
	result := MACD(closeV)
	for i := 0; i < 25; i++ {
		assert.True(t, IsNull(result.MACD[i]))
	}
	assert.False(t, IsNull(result.MACD[25]))
	// signal warms on its own 9-period clock against the zero-seeded line
	assert.False(t, IsNull(result.Signal[8]))
}
