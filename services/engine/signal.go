package engine

// Trend classification over a trailing EMA window and band-touch entry signals

import "fmt"

type TrendLabel int

const (
	TrendNone TrendLabel = iota
	TrendDown
	TrendUp
)

func (t TrendLabel) String() string {
	switch t {
	case TrendDown:
		return "downtrend"
	case TrendUp:
		return "uptrend"
	default:
		return "none"
	}
}

type Signal int

const (
	SignalNone Signal = iota
	SignalShort
	SignalLong
)

func (s Signal) String() string {
	switch s {
	case SignalShort:
		return "short"
	case SignalLong:
		return "long"
	default:
		return "none"
	}
}

// Classify labels the trend over rows [max(0, i-lookback), i). The row at i
// is not part of its own window. Any undefined EMA in the window, a mixed
// window or an equality yields TrendNone.
func Classify(rows []IndicatorRow, i, lookback int) TrendLabel {
	if i > len(rows) {
		i = len(rows)
	}
	start := i - lookback
	if start < 0 {
		start = 0
	}
	if start >= i {
		return TrendNone
	}
	down, up := true, true
	for _, r := range rows[start:i] {
		if !r.trendDefined() {
			return TrendNone
		}
		if !(r.EMAFast < r.EMASlow) {
			down = false
		}
		if !(r.EMAFast > r.EMASlow) {
			up = false
		}
		if !down && !up {
			return TrendNone
		}
	}
	if down {
		return TrendDown
	}
	return TrendUp
}

// GenerateSignal combines the trend at i with close vs the bands at i.
// Long is checked before Short; an undefined band compares false.
func GenerateSignal(rows []IndicatorRow, close float64, i, lookback int) Signal {
	if i < 0 || i >= len(rows) {
		return SignalNone
	}
	trend := Classify(rows, i, lookback)
	row := rows[i]
	if trend == TrendUp && close <= row.BBLower {
		return SignalLong
	}
	if trend == TrendDown && close >= row.BBUpper {
		return SignalShort
	}
	return SignalNone
}

// TrailingWindow returns rows [i-lookback, i), failing with
// ErrInsufficientWarmup when the window would start before the data.
func TrailingWindow(rows []IndicatorRow, i, lookback int) ([]IndicatorRow, error) {
	if i > len(rows) || i-lookback < 0 {
		return nil, fmt.Errorf("bar %d lookback %d over %d rows: %w", i, lookback, len(rows), ErrInsufficientWarmup)
	}
	return rows[i-lookback : i], nil
}

func (s Signal) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signal) UnmarshalText(b []byte) error {
	switch string(b) {
	case "long":
		*s = SignalLong
	case "short":
		*s = SignalShort
	case "none", "":
		*s = SignalNone
	default:
		return fmt.Errorf("signal %q: %w", b, ErrInvalidInput)
	}
	return nil
}

func (t TrendLabel) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
