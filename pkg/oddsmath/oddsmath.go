// Package oddsmath converts between bookmaker price formats and implied
// probabilities. All functions are pure; callers decide what to do with
// invalid prices.
package oddsmath

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrInvalidPrice marks a price that cannot exist in its claimed format,
	// such as an American price between -100 and +100 exclusive.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrUnknownFormat marks an odds format outside american/decimal/fractional.
	ErrUnknownFormat = errors.New("unknown odds format")
)

// Format is a bookmaker price display format.
type Format string

const (
	FormatAmerican   Format = "american"
	FormatDecimal    Format = "decimal"
	FormatFractional Format = "fractional"
)

// ParseFormat validates and normalizes an odds format string.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAmerican, FormatDecimal, FormatFractional:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Upstream returns the format to request from the odds feed. The feed quotes
// american and decimal only, so fractional display is served from decimal
// wire prices.
func (f Format) Upstream() Format {
	if f == FormatFractional {
		return FormatDecimal
	}
	return f
}

// AmericanToDecimal converts an American price to decimal odds.
// Prices with |p| < 100 do not exist in American format.
func AmericanToDecimal(p float64) (float64, error) {
	switch {
	case p >= 100:
		return 1 + p/100, nil
	case p <= -100:
		return 1 + 100/(-p), nil
	default:
		return 0, fmt.Errorf("american price %v: %w", p, ErrInvalidPrice)
	}
}

// DecimalToAmerican converts decimal odds to the nearest integer American
// price, rounding ties away from zero.
func DecimalToAmerican(d float64) (int, error) {
	if !(d > 1) || math.IsInf(d, 1) {
		return 0, fmt.Errorf("decimal price %v: %w", d, ErrInvalidPrice)
	}
	if d >= 2 {
		return int(math.Round((d - 1) * 100)), nil
	}
	return int(math.Round(-100 / (d - 1))), nil
}

// DecimalToImpliedProb returns the probability implicit in decimal odds.
func DecimalToImpliedProb(d float64) (float64, error) {
	if !(d > 1) || math.IsInf(d, 1) {
		return 0, fmt.Errorf("decimal price %v: %w", d, ErrInvalidPrice)
	}
	return 1 / d, nil
}

// AmericanToImpliedProb converts an American price straight to implied
// probability: +150 -> 0.4, -130 -> 0.5652...
func AmericanToImpliedProb(p float64) (float64, error) {
	d, err := AmericanToDecimal(p)
	if err != nil {
		return 0, err
	}
	return DecimalToImpliedProb(d)
}

// ToDecimal converts a wire price quoted in the given format to decimal odds.
// Fractional is never quoted on the wire; its prices arrive as decimal.
func ToDecimal(price float64, f Format) (float64, error) {
	switch f {
	case FormatAmerican:
		return AmericanToDecimal(price)
	case FormatDecimal, FormatFractional:
		if !(price > 1) || math.IsInf(price, 1) {
			return 0, fmt.Errorf("decimal price %v: %w", price, ErrInvalidPrice)
		}
		return price, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// Fraction is an exact rational representation of fractional odds,
// expressing profit per unit stake ("3/2" pays 1.5 on a 1 stake).
type Fraction struct {
	Num int64
	Den int64
}

const (
	fractionTolerance = 1e-9
	fractionMaxDenom  = 10000
	fractionMaxTerms  = 40
)

// FractionFromDecimal converts decimal odds to the shortest fraction matching
// within 1e-9, via continued-fraction convergents. Exact for rational prices.
func FractionFromDecimal(d float64) (Fraction, error) {
	if !(d > 1) || math.IsInf(d, 1) {
		return Fraction{}, fmt.Errorf("decimal price %v: %w", d, ErrInvalidPrice)
	}

	x := d - 1
	var (
		h, hPrev = int64(1), int64(0)
		k, kPrev = int64(0), int64(1)
	)
	r := x
	for i := 0; i < fractionMaxTerms; i++ {
		a := int64(math.Floor(r))
		nh := a*h + hPrev
		nk := a*k + kPrev
		if nk > fractionMaxDenom {
			break
		}
		hPrev, h = h, nh
		kPrev, k = k, nk
		if math.Abs(float64(h)/float64(k)-x) <= fractionTolerance {
			break
		}
		frac := r - math.Floor(r)
		if frac <= 1e-15 {
			break
		}
		r = 1 / frac
	}
	return Fraction{Num: h, Den: k}, nil
}

// Decimal returns the decimal odds the fraction represents.
func (f Fraction) Decimal() float64 {
	return 1 + float64(f.Num)/float64(f.Den)
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// FormatPrice renders decimal odds in the requested display format.
func FormatPrice(d float64, f Format) (string, error) {
	switch f {
	case FormatDecimal:
		if !(d > 1) || math.IsInf(d, 1) {
			return "", fmt.Errorf("decimal price %v: %w", d, ErrInvalidPrice)
		}
		return strconv.FormatFloat(d, 'f', 2, 64), nil
	case FormatAmerican:
		a, err := DecimalToAmerican(d)
		if err != nil {
			return "", err
		}
		if a > 0 {
			return "+" + strconv.Itoa(a), nil
		}
		return strconv.Itoa(a), nil
	case FormatFractional:
		fr, err := FractionFromDecimal(d)
		if err != nil {
			return "", err
		}
		return fr.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// RoundHalfEven rounds x to the given number of decimal places with ties
// going to the even neighbour (banker's rounding).
func RoundHalfEven(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.RoundToEven(x*scale) / scale
}
