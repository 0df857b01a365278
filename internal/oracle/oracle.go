// Package oracle resolves current market prices for stock symbols.
//
// The engine treats every price as input: the oracle is read-only and
// side-effect-free from the engine's perspective, and a failed lookup means
// the symbol is unavailable for that request, nothing more.
package oracle

import (
	"context"
	"errors"

	"github.com/groupfolio/paper-engine/internal/model"
)

// ErrSymbolNotFound is returned when the upstream source does not know the
// symbol, or the lookup timed out. Callers treat both as "unavailable".
var ErrSymbolNotFound = errors.New("oracle: symbol not found")

// Oracle returns the current quote for a symbol.
type Oracle interface {
	Lookup(ctx context.Context, symbol string) (*model.Quote, error)
}
