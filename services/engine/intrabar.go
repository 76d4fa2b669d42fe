package engine

// Intrabar exit resolution against a bar's high/low

import "fmt"

// TieBreak decides the fill when stop and target are both inside one bar.
type TieBreak int

const (
	TieStopFirst       TieBreak = iota // adverse fill first
	TieTakeProfitFirst                 // favourable fill first
	TieSyntheticPath                   // open, nearer extremum, farther extremum
)

func (t TieBreak) String() string {
	switch t {
	case TieTakeProfitFirst:
		return "take_profit_first"
	case TieSyntheticPath:
		return "synthetic_path"
	default:
		return "stop_first"
	}
}

// ParseTieBreak accepts the String forms.
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", "stop_first":
		return TieStopFirst, nil
	case "take_profit_first":
		return TieTakeProfitFirst, nil
	case "synthetic_path":
		return TieSyntheticPath, nil
	}
	return TieStopFirst, fmt.Errorf("tie-break %q: %w", s, ErrInvalidInput)
}

// FirstTouchResult indicates which level was hit first
type FirstTouchResult int

const (
	TouchNone FirstTouchResult = iota
	TouchTP
	TouchSL
)

// ResolveFirstTouchLong checks a long position's levels against the bar.
func ResolveFirstTouchLong(bar Candle, tp, sl float64, tie TieBreak) FirstTouchResult {
	hitSL := bar.Low <= sl
	hitTP := bar.High >= tp
	if hitSL && hitTP {
		return resolveBoth(tie, bar.Open-bar.Low < bar.High-bar.Open)
	}
	if hitSL {
		return TouchSL
	}
	if hitTP {
		return TouchTP
	}
	return TouchNone
}

// ResolveFirstTouchShort mirrors the long logic for shorts
func ResolveFirstTouchShort(bar Candle, tp, sl float64, tie TieBreak) FirstTouchResult {
	hitSL := bar.High >= sl
	hitTP := bar.Low <= tp
	if hitSL && hitTP {
		return resolveBoth(tie, bar.High-bar.Open < bar.Open-bar.Low)
	}
	if hitSL {
		return TouchSL
	}
	if hitTP {
		return TouchTP
	}
	return TouchNone
}

// stopNearer is true when the stop side extremum is closer to the open.
func resolveBoth(tie TieBreak, stopNearer bool) FirstTouchResult {
	switch tie {
	case TieTakeProfitFirst:
		return TouchTP
	case TieSyntheticPath:
		if stopNearer {
			return TouchSL
		}
		return TouchTP
	default:
		return TouchSL
	}
}

func (t TieBreak) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TieBreak) UnmarshalText(b []byte) error {
	v, err := ParseTieBreak(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
