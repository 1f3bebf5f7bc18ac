package cashback

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeCashbackPercentRoundsHalfUp(test *testing.T) {
	test.Parallel()
	// 33.335 * 15% = 5.00025 -> 5.00
	purchase := mustPurchase(test, "33.335")
	config := mustPercentConfig(test, "15", 0)

	if got := ComputeCashback(purchase, config); got != 500 {
		test.Fatalf("expected 500 cents, got %d", got)
	}
}

func TestComputeCashbackPercentRoundsMidpointUp(test *testing.T) {
	test.Parallel()
	// 0.50 * 25% = 0.125 -> 0.13
	purchase := mustPurchase(test, "0.50")
	config := mustPercentConfig(test, "25", 0)

	if got := ComputeCashback(purchase, config); got != 13 {
		test.Fatalf("expected 13 cents, got %d", got)
	}
}

func TestComputeCashbackAppliesPerTransactionCap(test *testing.T) {
	test.Parallel()
	purchase := mustPurchase(test, "33.335")
	config := mustPercentConfig(test, "15", 300)

	if got := ComputeCashback(purchase, config); got != 300 {
		test.Fatalf("expected cap of 300 cents, got %d", got)
	}
}

func TestComputeCashbackZeroCapMeansUncapped(test *testing.T) {
	test.Parallel()
	// A max_cashback_per_transaction of exactly zero disables the cap
	// entirely rather than capping at zero.
	purchase := mustPurchase(test, "1000")
	config := mustPercentConfig(test, "10", 0)

	if got := ComputeCashback(purchase, config); got != 10000 {
		test.Fatalf("expected 10000 cents, got %d", got)
	}
}

func TestComputeCashbackFixedIgnoresPurchaseSize(test *testing.T) {
	test.Parallel()
	config := mustFixedConfig(test, 250, 0)

	for _, raw := range []string{"1.00", "99.99", "10000"} {
		if got := ComputeCashback(mustPurchase(test, raw), config); got != 250 {
			test.Fatalf("purchase %s: expected 250 cents, got %d", raw, got)
		}
	}
}

func TestComputeCashbackFixedClampedByCap(test *testing.T) {
	test.Parallel()
	config := mustFixedConfig(test, 500, 200)

	if got := ComputeCashback(mustPurchase(test, "50"), config); got != 200 {
		test.Fatalf("expected 200 cents, got %d", got)
	}
}

func TestComputePercentCashbackBaseRate(test *testing.T) {
	test.Parallel()
	purchase := mustPurchase(test, "200.00")
	percent := decimal.NewFromInt(5)

	if got := ComputePercentCashback(purchase, percent); got != 1000 {
		test.Fatalf("expected 1000 cents, got %d", got)
	}
}

func TestComputePercentCashbackZeroRate(test *testing.T) {
	test.Parallel()
	if got := ComputePercentCashback(mustPurchase(test, "200.00"), decimal.Zero); got != 0 {
		test.Fatalf("expected 0 cents, got %d", got)
	}
}
