// internal/chain/units.go
package chain

import (
	"fmt"
	"math/big"
	"strings"
)

// weiPerEther is 10^18.
var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// EtherToWei converts a decimal ether amount to a base-unit wei string.
// The empty string passes through unchanged: amount is an optional field.
func EtherToWei(amount string) (string, error) {
	if amount == "" {
		return "", nil
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	// Signs and non-digit characters are rejected outright; a bare "."
	// carries no digits at all.
	if whole == "" && frac == "" {
		return "", fmt.Errorf("invalid amount %q", amount)
	}
	if !digits(whole) || !digits(frac) {
		return "", fmt.Errorf("invalid amount %q", amount)
	}
	if len(frac) > 18 {
		return "", fmt.Errorf("invalid amount %q: more than 18 decimal places", amount)
	}

	wei := new(big.Int)
	if whole != "" {
		w, ok := new(big.Int).SetString(whole, 10)
		if !ok {
			return "", fmt.Errorf("invalid amount %q", amount)
		}
		wei.Mul(w, weiPerEther)
	}

	if frac != "" {
		// Right-pad the fractional part to 18 digits.
		f, ok := new(big.Int).SetString(frac+strings.Repeat("0", 18-len(frac)), 10)
		if !ok {
			return "", fmt.Errorf("invalid amount %q", amount)
		}
		wei.Add(wei, f)
	}

	return wei.String(), nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
