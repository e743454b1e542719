// Package pricing implements integer-point price arithmetic.
// All prices are integer points where 100 points = $1.00; decimal strings
// are converted exactly, without intermediate float arithmetic.
package pricing

import (
	"fmt"
	"math"
	"strings"

	"github.com/mselser95/updown-pairs/pkg/types"
)

// PriceToPoints converts a decimal price string (e.g. "0.45") to integer
// points (45). Conversion is exact: digits beyond the second decimal place
// are truncated toward zero, never rounded through a float.
func PriceToPoints(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty price string: %w", types.ErrInvalidPrice)
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
	}

	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("malformed price %q: %w", s, types.ErrInvalidPrice)
	}

	whole := 0
	for i := 0; i < len(intPart); i++ {
		c := intPart[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed price %q: %w", s, types.ErrInvalidPrice)
		}
		whole = whole*10 + int(c-'0')
		if whole > math.MaxInt32/100 {
			return 0, fmt.Errorf("price %q out of range: %w", s, types.ErrInvalidPrice)
		}
	}

	// Only the first two fractional digits carry point value.
	frac := 0
	for i := 0; i < len(fracPart); i++ {
		c := fracPart[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed price %q: %w", s, types.ErrInvalidPrice)
		}
		if i == 0 {
			frac += int(c-'0') * 10
		} else if i == 1 {
			frac += int(c - '0')
		}
	}

	points := whole*100 + frac
	if neg {
		points = -points
	}
	return points, nil
}

// PointsToDollars renders integer points as a dollar string, e.g. 45 →
// "$0.45". Used only for logs and reports.
func PointsToDollars(points int) string {
	sign := ""
	if points < 0 {
		sign = "-"
		points = -points
	}
	return fmt.Sprintf("%s$%d.%02d", sign, points/100, points%100)
}

// FloorToTick floors a raw point value to the nearest tick multiple.
// The raw value may be fractional (midpoint-derived); flooring is true
// floor division, so negative raws floor away from zero.
func FloorToTick(raw float64, tickSizePoints int) (int, error) {
	if tickSizePoints <= 0 {
		return 0, fmt.Errorf("tick size %d: %w", tickSizePoints, types.ErrInvalidTickSize)
	}
	return int(math.Floor(raw/float64(tickSizePoints))) * tickSizePoints, nil
}

// ClampTrigger clamps a trigger level to the valid range [tick, 99].
func ClampTrigger(triggerPoints, tickSizePoints int) int {
	if triggerPoints < tickSizePoints {
		return tickSizePoints
	}
	if triggerPoints > 99 {
		return 99
	}
	return triggerPoints
}

// Midpoint returns (bid+ask)/2 in points. Fractional midpoints are
// preserved; callers decide how to round.
func Midpoint(bidPoints, askPoints int) float64 {
	return float64(bidPoints+askPoints) / 2.0
}
