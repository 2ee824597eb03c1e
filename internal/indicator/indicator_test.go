package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"palisade/internal/domain"
)

const eps = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < eps
}

// flatBars builds n identical daily bars.
func flatBars(n int, high, low, close float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol: "TEST",
			Date:   day.AddDate(0, 0, i),
			Open:   close,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: 1000,
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	got, err := SMA(values, 3)
	if err != nil {
		t.Fatalf("SMA returned error: %v", err)
	}
	if !almostEqual(got, 4) {
		t.Errorf("SMA([1..5], 3) = %v, want 4 (mean of last three)", got)
	}

	got, err = SMA(values, 5)
	if err != nil {
		t.Fatalf("SMA returned error: %v", err)
	}
	if !almostEqual(got, 3) {
		t.Errorf("SMA([1..5], 5) = %v, want 3", got)
	}
}

func TestSMAInsufficientData(t *testing.T) {
	_, err := SMA([]float64{1, 2}, 3)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("SMA with 2 values, period 3: err = %v, want ErrInsufficientData", err)
	}

	if _, err := SMA([]float64{1, 2}, 0); err == nil {
		t.Error("SMA accepted non-positive period")
	}
}

func TestEMA(t *testing.T) {
	// Seed = SMA([1,2]) = 1.5, alpha = 2/3:
	//   after 3: 3*2/3 + 1.5*1/3 = 2.5
	//   after 4: 4*2/3 + 2.5*1/3 = 3.5
	//   after 5: 5*2/3 + 3.5*1/3 = 4.5
	got, err := EMA([]float64{1, 2, 3, 4, 5}, 2)
	if err != nil {
		t.Fatalf("EMA returned error: %v", err)
	}
	if !almostEqual(got, 4.5) {
		t.Errorf("EMA([1..5], 2) = %v, want 4.5", got)
	}

	// Exactly period values: EMA equals the seed SMA.
	got, err = EMA([]float64{10, 20}, 2)
	if err != nil {
		t.Fatalf("EMA returned error: %v", err)
	}
	if !almostEqual(got, 15) {
		t.Errorf("EMA([10,20], 2) = %v, want seed SMA 15", got)
	}
}

func TestEMAIdempotent(t *testing.T) {
	values := []float64{5, 7, 6, 8, 9, 11, 10, 12, 13, 12, 14, 15}

	first, err := EMA(values, 10)
	if err != nil {
		t.Fatalf("EMA returned error: %v", err)
	}
	second, err := EMA(values, 10)
	if err != nil {
		t.Fatalf("EMA returned error: %v", err)
	}
	if first != second {
		t.Errorf("EMA not idempotent over fixed history: %v != %v", first, second)
	}
}

func TestEMAInsufficientData(t *testing.T) {
	_, err := EMA([]float64{1, 2, 3}, 10)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("EMA with 3 values, period 10: err = %v, want ErrInsufficientData", err)
	}
}

func TestATRFlatRange(t *testing.T) {
	// Flat bars: TR = high-low = 2 every day, so ATR(14) = 2.
	bars := flatBars(25, 101, 99, 100)

	got, err := ATR(bars, 14)
	if err != nil {
		t.Fatalf("ATR returned error: %v", err)
	}
	if !almostEqual(got, 2) {
		t.Errorf("ATR(14) over flat 101/99 bars = %v, want 2", got)
	}
}

func TestATRGapDominates(t *testing.T) {
	// Second bar gaps below the prior close: TR must use |low - prevClose|.
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{Symbol: "TEST", Date: day, High: 101, Low: 99, Close: 100},
		{Symbol: "TEST", Date: day.AddDate(0, 0, 1), High: 99, Low: 98, Close: 98.5},
	}

	trs := trueRanges(bars)
	if !almostEqual(trs[0], 2) {
		t.Errorf("bar 0 true range = %v, want high-low = 2", trs[0])
	}
	if !almostEqual(trs[1], 2) {
		t.Errorf("bar 1 true range = %v, want |low-prevClose| = 2", trs[1])
	}
}

func TestATRInsufficientData(t *testing.T) {
	// ATR(n) needs n+1 bars.
	bars := flatBars(14, 101, 99, 100)
	_, err := ATR(bars, 14)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("ATR with 14 bars, period 14: err = %v, want ErrInsufficientData", err)
	}

	if _, err := ATR(flatBars(15, 101, 99, 100), 14); err != nil {
		t.Errorf("ATR with 15 bars, period 14 returned error: %v", err)
	}
}

func TestHighestHigh(t *testing.T) {
	bars := flatBars(10, 101, 99, 100)
	bars[2].High = 150 // outside the trailing window for period 5
	bars[7].High = 120

	got, err := HighestHigh(bars, 5)
	if err != nil {
		t.Fatalf("HighestHigh returned error: %v", err)
	}
	if !almostEqual(got, 120) {
		t.Errorf("HighestHigh(5) = %v, want 120 (the 150 bar is outside the window)", got)
	}
}

func TestChandelierExitFlat(t *testing.T) {
	// 25 flat bars, highs 101, lows 99: ATR(22) = 2, highest high = 101,
	// stop = 101 - 3*2 = 95.
	bars := flatBars(25, 101, 99, 100)

	got, err := ChandelierExit(bars, 22, 3.0)
	if err != nil {
		t.Fatalf("ChandelierExit returned error: %v", err)
	}
	if !almostEqual(got, 95) {
		t.Errorf("ChandelierExit(22, 3.0) = %v, want 95", got)
	}
}

func TestChandelierExitDegenerateATR(t *testing.T) {
	// All bars identical with high == low: every true range is zero, so the
	// stop level is undefined rather than equal to the high.
	bars := flatBars(30, 100, 100, 100)

	_, err := ChandelierExit(bars, 22, 3.0)
	if err == nil {
		t.Error("ChandelierExit accepted a zero ATR")
	}
}

func TestChandelierExitInsufficientData(t *testing.T) {
	bars := flatBars(22, 101, 99, 100) // 22 bars: highest high ok, ATR(22) needs 23
	_, err := ChandelierExit(bars, 22, 3.0)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("ChandelierExit with 22 bars: err = %v, want ErrInsufficientData", err)
	}
}

func TestComputeShortHistory(t *testing.T) {
	set := Compute(flatBars(5, 101, 99, 100), Params{
		SMAPeriod:            20,
		EMAPeriod:            10,
		ATRPeriod:            14,
		ChandelierPeriod:     22,
		ChandelierMultiplier: 3.0,
	})

	if set.SMA.IsSome() || set.EMA.IsSome() || set.ATR.IsSome() || set.Chandelier.IsSome() {
		t.Errorf("Compute over 5 bars should leave every indicator undefined, got %+v", set)
	}
}

func TestComputeFullHistory(t *testing.T) {
	set := Compute(flatBars(25, 101, 99, 100), Params{
		SMAPeriod:            20,
		EMAPeriod:            10,
		ATRPeriod:            14,
		ChandelierPeriod:     22,
		ChandelierMultiplier: 3.0,
	})

	if v := set.SMA.TakeOr(0); !almostEqual(v, 100) {
		t.Errorf("SMA = %v, want 100", v)
	}
	if v := set.EMA.TakeOr(0); !almostEqual(v, 100) {
		t.Errorf("EMA = %v, want 100", v)
	}
	if v := set.ATR.TakeOr(0); !almostEqual(v, 2) {
		t.Errorf("ATR = %v, want 2", v)
	}
	if v := set.Chandelier.TakeOr(0); !almostEqual(v, 95) {
		t.Errorf("Chandelier = %v, want 95", v)
	}
}

func TestComputeDeterministic(t *testing.T) {
	bars := flatBars(30, 105, 95, 100)
	for i := range bars {
		bars[i].Close = 100 + float64(i%3)
	}
	p := Params{SMAPeriod: 20, EMAPeriod: 10, ATRPeriod: 14, ChandelierPeriod: 22, ChandelierMultiplier: 3.0}

	a := Compute(bars, p)
	b := Compute(bars, p)

	if a.SMA.TakeOr(-1) != b.SMA.TakeOr(-2) {
		t.Error("SMA differs between identical computations")
	}
	if a.Chandelier.TakeOr(-1) != b.Chandelier.TakeOr(-2) {
		t.Error("Chandelier differs between identical computations")
	}
}

func TestLows(t *testing.T) {
	bars := flatBars(3, 101, 99, 100)
	bars[1].Low = 97

	lows := Lows(bars)
	if len(lows) != 3 || lows[0] != 99 || lows[1] != 97 || lows[2] != 99 {
		t.Errorf("Lows = %v, want [99 97 99]", lows)
	}
}
