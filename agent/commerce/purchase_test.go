package commerce

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecidePurchase(t *testing.T) {
	t.Parallel()

	unused := &Voucher{Code: "VOUCHER-TEST", Amount: 2000.00}
	used := &Voucher{Code: "VOUCHER-TEST", Amount: 2000.00, IsUsed: true}
	order := &Order{ID: 11, VoucherCode: "VOUCHER-TEST"}

	tests := []struct {
		name      string
		voucher   *Voucher
		existing  *Order
		cartTotal float64
		want      purchaseDecision
	}{
		{"unknown voucher", nil, nil, 45.98, decideUnknownVoucher},
		{"clean commit", unused, nil, 45.98, decideCommit},
		{"exact balance commits", unused, nil, 2000.00, decideCommit},
		{"existing order wins regardless of flag", used, order, 45.98, decideAlreadyPlaced},
		// Idempotency outranks everything: even an over-budget replay is a no-op.
		{"existing order outranks balance", used, order, 9999.99, decideAlreadyPlaced},
		{"used flag without order is inconsistent", used, nil, 45.98, decideInconsistentVoucher},
		{"insufficient balance", unused, nil, 2000.01, decideInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, decidePurchase(tt.voucher, tt.existing, tt.cartTotal))
		})
	}
}

func TestInsufficientBalanceErrorMessagesDelta(t *testing.T) {
	t.Parallel()

	err := &InsufficientBalanceError{CartTotal: 2100.50, VoucherAmount: 2000.00}
	require.Contains(t, err.Error(), "$2100.50")
	require.Contains(t, err.Error(), "$2000.00")
	require.Contains(t, err.Error(), "$100.50")
}

func TestPurchaseResultRemainingBalance(t *testing.T) {
	t.Parallel()

	result := PurchaseResult{CartTotal: 45.98, VoucherAmount: 2000.00}
	require.InDelta(t, 1954.02, result.RemainingBalance(), 1e-9)
}

func TestConvergedResultUsesVoucherAmount(t *testing.T) {
	t.Parallel()

	winner := &Order{ID: 3, VoucherCode: "VOUCHER-X", TotalAmount: 45.98}
	voucher := &Voucher{Code: "VOUCHER-X", Amount: 2000.00, IsUsed: true}

	result := convergedResult(winner, voucher, 45.98)
	require.True(t, result.AlreadyPlaced)
	require.Equal(t, winner, result.Order)
	require.Equal(t, 2000.00, result.VoucherAmount)
	require.InDelta(t, 1954.02, result.RemainingBalance(), 1e-9)

	// Voucher read failed: fall back to the order total rather than zero.
	fallback := convergedResult(winner, nil, 45.98)
	require.Equal(t, 45.98, fallback.VoucherAmount)
}

func TestNewVoucherCode(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code := newVoucherCode()
		require.True(t, strings.HasPrefix(code, "VOUCHER-"), "code %q missing prefix", code)
		require.Len(t, code, len("VOUCHER-")+16)
		require.Equal(t, strings.ToUpper(code), code)
		require.False(t, seen[code], "duplicate code %q", code)
		seen[code] = true
	}
}

func TestShippingFieldsValidate(t *testing.T) {
	t.Parallel()

	valid := ShippingFields{FullName: "Ada Lovelace", Address: "1 Main St", City: "Springfield", ZipCode: "12345"}
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*ShippingFields){
		"empty name":    func(f *ShippingFields) { f.FullName = " " },
		"empty address": func(f *ShippingFields) { f.Address = "" },
		"empty city":    func(f *ShippingFields) { f.City = "" },
		"empty zip":     func(f *ShippingFields) { f.ZipCode = "" },
		"long zip":      func(f *ShippingFields) { f.ZipCode = strings.Repeat("9", 21) },
	} {
		f := valid
		mutate(&f)
		require.Error(t, f.Validate(), name)
	}
}
