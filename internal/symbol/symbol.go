// Package symbol handles stock ticker normalization and validation.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches plain US tickers (AAPL, TSLA), class shares (BRK-B),
// and exchange-suffixed tickers (VFV.TO, SHOP.TO).
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}(?:[.-][A-Z0-9]{1,4})?$`)

// ErrInvalid is returned for strings that cannot be a ticker symbol.
var ErrInvalid = errors.New("symbol: invalid ticker symbol")

// Normalize uppercases and validates a ticker symbol.
func Normalize(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return s, nil
}
