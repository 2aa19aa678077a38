package commerce

import (
	"errors"
	"fmt"
)

// Terminal business errors for the purchase protocol. They surface verbatim
// to the caller and are never retried.
var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrNoShippingInfo      = errors.New("shipping information is missing")
	ErrVoucherNotFound     = errors.New("voucher not found")
	ErrVoucherInconsistent = errors.New("voucher marked used but no order references it")
)

// InsufficientBalanceError reports how far short the voucher falls.
type InsufficientBalanceError struct {
	CartTotal     float64
	VoucherAmount float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient voucher balance: cart total $%.2f exceeds voucher amount $%.2f (short $%.2f)",
		e.CartTotal, e.VoucherAmount, e.CartTotal-e.VoucherAmount)
}

type purchaseDecision int

const (
	decideCommit purchaseDecision = iota
	decideAlreadyPlaced
	decideUnknownVoucher
	decideInconsistentVoucher
	decideInsufficientBalance
)

// decidePurchase classifies a purchase attempt from the facts read inside the
// transaction. The ordering is the protocol's central correctness property:
// idempotency first, then the used-flag consistency check, then balance.
// It performs no I/O.
func decidePurchase(voucher *Voucher, existingOrder *Order, cartTotal float64) purchaseDecision {
	if voucher == nil {
		return decideUnknownVoucher
	}
	if existingOrder != nil {
		// Duplicate call with a consumed voucher: succeed as a no-op.
		return decideAlreadyPlaced
	}
	if voucher.IsUsed {
		// Used flag set but the order lookup came back empty. Distinct from
		// "already used": it means a completed order went missing.
		return decideInconsistentVoucher
	}
	if voucher.Amount < cartTotal {
		return decideInsufficientBalance
	}
	return decideCommit
}

// convergedResult reports the winner of a voucher_code race as an
// already-placed no-op. The voucher row carries the authoritative amount; the
// order total is only a fallback when the voucher read failed.
func convergedResult(winner *Order, voucher *Voucher, cartTotal float64) *PurchaseResult {
	amount := winner.TotalAmount
	if voucher != nil {
		amount = voucher.Amount
	}
	return &PurchaseResult{
		AlreadyPlaced: true,
		Order:         winner,
		CartTotal:     cartTotal,
		VoucherAmount: amount,
	}
}
