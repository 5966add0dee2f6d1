package verify

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/knowngaps"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/storage"
)

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

const hourMs = int64(3_600_000)

func seedCandlesSkipping(t *testing.T, st *storage.Store, seriesID int64, n int, skip map[int]bool) {
	t.Helper()
	ctx := context.Background()
	rows := make([]storage.Candle, 0, n)
	for i := 0; i < n; i++ {
		if skip[i] {
			continue
		}
		ot := int64(i) * hourMs
		rows = append(rows, storage.Candle{SeriesID: seriesID, OpenTime: ot, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	}
	require.NoError(t, storage.UpsertCandles(ctx, st.DB(), rows))
}

func TestFindGapsSingleMissingBar(t *testing.T) {
	times := []int64{0, hourMs, 3 * hourMs, 4 * hourMs}
	gaps := findGaps(times, hourMs)
	require.Len(t, gaps, 1)
	assert.Equal(t, Gap{Start: 2 * hourMs, End: 2 * hourMs, MissingBars: 1, Duration: "1.0h"}, gaps[0])
}

func TestFindGapsCoalescesMultiBarGap(t *testing.T) {
	times := []int64{0, hourMs, 5 * hourMs}
	gaps := findGaps(times, hourMs)
	require.Len(t, gaps, 1)
	assert.Equal(t, Gap{Start: 2 * hourMs, End: 4 * hourMs, MissingBars: 3, Duration: "3.0h"}, gaps[0])
}

func TestGroupIntoSpansCoalescesConsecutive(t *testing.T) {
	times := []int64{hourMs, 2 * hourMs, 3 * hourMs, 10 * hourMs}
	spans := groupIntoSpans(times, hourMs)
	require.Len(t, spans, 2)
	assert.Equal(t, NullSpan{Start: hourMs, End: 3 * hourMs, Bars: 3, Duration: "3.0h"}, spans[0])
	assert.Equal(t, NullSpan{Start: 10 * hourMs, End: 10 * hourMs, Bars: 1, Duration: "1.0h"}, spans[1])
}

func TestSeriesReportsCleanWhenNoGapsOrNullSpans(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	symID, err := st.EnsureSymbol(ctx, "BTCUSDT", "BTC", "USDT")
	require.NoError(t, err)
	ivID, err := st.EnsureInterval(ctx, "1h", hourMs)
	require.NoError(t, err)
	seriesID, err := st.EnsureSeries(ctx, symID, ivID)
	require.NoError(t, err)

	seedCandlesSkipping(t, st, seriesID, 10, nil)

	gaps, err := knowngaps.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	eng := New(st, gaps)
	report, err := eng.Series(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.True(t, report.Clean)
	assert.Equal(t, 0, report.GapCount)
	assert.Equal(t, "ok", report.IntegrityCheck)
	assert.Equal(t, int64(0), report.FirstOpenTime)
	assert.Equal(t, 9*hourMs, report.LastOpenTime)
}

func TestSeriesReportsEmptyWithNoCandles(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	symID, err := st.EnsureSymbol(ctx, "BTCUSDT", "BTC", "USDT")
	require.NoError(t, err)
	ivID, err := st.EnsureInterval(ctx, "1h", hourMs)
	require.NoError(t, err)
	_, err = st.EnsureSeries(ctx, symID, ivID)
	require.NoError(t, err)

	gaps, err := knowngaps.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	eng := New(st, gaps)
	report, err := eng.Series(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.True(t, report.Empty)
	assert.True(t, report.Clean)
	assert.Equal(t, "ok", report.IntegrityCheck)
	assert.Equal(t, 0, report.CandleCount)
}

func TestSeriesReportsGapsExceptKnownOnes(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	symID, err := st.EnsureSymbol(ctx, "BTCUSDT", "BTC", "USDT")
	require.NoError(t, err)
	ivID, err := st.EnsureInterval(ctx, "1h", hourMs)
	require.NoError(t, err)
	seriesID, err := st.EnsureSeries(ctx, symID, ivID)
	require.NoError(t, err)

	seedCandlesSkipping(t, st, seriesID, 10, map[int]bool{3: true, 7: true})

	dir := t.TempDir()
	path := filepath.Join(dir, "known_gaps.yaml")
	body := `
- symbol: BTCUSDT
  interval: 1h
  start: ` + formatInt64(3*hourMs) + `
  end: ` + formatInt64(3*hourMs) + `
  reason: pre-listing
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	gaps, err := knowngaps.Load(path)
	require.NoError(t, err)

	eng := New(st, gaps)
	report, err := eng.Series(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.False(t, report.Clean)
	assert.Equal(t, 1, report.GapCount, "bar 3 is covered by the known-gap registry; bar 7 is not")
	assert.Equal(t, 1, report.KnownGapsSkipped)
}

func TestSeriesUnknownReturnsError(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	gaps, err := knowngaps.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	eng := New(st, gaps)
	_, err = eng.Series(ctx, "ETHUSDT", "1h")
	require.Error(t, err)
}
