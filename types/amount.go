package types

import (
	"fmt"
	"math/big"
	"strings"
)

// MaxTokenDecimals bounds the decimals accepted from a token contract.
const MaxTokenDecimals = 77

// MaxAmount is the largest amount representable in a uint256 contract slot.
var MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseUnits converts a decimal string such as "1.5" into its integer
// representation with the given number of decimals. It fails with
// ErrValidation if the amount is malformed, negative, has more fractional
// digits than decimals allow or does not fit in 256 bits.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	if decimals > MaxTokenDecimals {
		return nil, fmt.Errorf("%w: unsupported token decimals %d", ErrValidation, decimals)
	}
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrValidation)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: negative amount %q", ErrValidation, amount)
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && frac == "" && whole == "" {
		return nil, fmt.Errorf("%w: malformed amount %q", ErrValidation, amount)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%w: amount %q has more than %d decimals", ErrValidation, amount, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: malformed amount %q", ErrValidation, amount)
		}
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed amount %q", ErrValidation, amount)
	}
	if v.Cmp(MaxAmount) > 0 {
		return nil, fmt.Errorf("%w: amount %q overflows uint256", ErrValidation, amount)
	}
	return v, nil
}

// FormatUnits renders an integer amount with the given number of decimals,
// trimming trailing zeros of the fractional part.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	s := new(big.Int).Abs(v).String()
	if decimals > 0 {
		if len(s) <= int(decimals) {
			s = strings.Repeat("0", int(decimals)-len(s)+1) + s
		}
		cut := len(s) - int(decimals)
		whole, frac := s[:cut], strings.TrimRight(s[cut:], "0")
		s = whole
		if frac != "" {
			s += "." + frac
		}
	}
	if neg {
		s = "-" + s
	}
	return s
}
