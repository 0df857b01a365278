package engine

import (
	"errors"
	"fmt"

	"github.com/groupfolio/paper-engine/internal/model"
)

var (
	// ErrInvalidQuantity is returned when a trade quantity is not positive.
	ErrInvalidQuantity = errors.New("engine: quantity must be positive")

	// ErrInvalidPrice is returned when the caller-supplied execution price
	// is not positive. The engine never guesses a price in its place.
	ErrInvalidPrice = errors.New("engine: price must be positive")

	// ErrInsufficientFunds is returned when a buy costs more than the
	// account's cash. No partial fills.
	ErrInsufficientFunds = errors.New("engine: insufficient funds")

	// ErrNoPosition is returned when selling a symbol the account does not hold.
	ErrNoPosition = errors.New("engine: no position in symbol")

	// ErrInsufficientShares is returned when selling more shares than held.
	ErrInsufficientShares = errors.New("engine: insufficient shares")
)

// PartialCommitError reports a real accounting discrepancy: the account
// mutation committed but the ledger append failed. Cash genuinely moved, so
// the trade is not rolled back; the orphaned transaction is carried for
// reconciliation.
type PartialCommitError struct {
	Txn *model.Transaction
	Err error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("engine: partial commit: %s %d %s recorded on account but not in ledger: %v",
		e.Txn.Action, e.Txn.Quantity, e.Txn.Symbol, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }
