package cashback

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

const accrualTestInstant int64 = 1_700_000_000

func newTestService(test *testing.T, store Store, clock *stubClock, sender CodeSender, code string, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(
		store,
		clock.Now,
		GuardConfig{
			Secret:     []byte("test-secret"),
			CodeLength: 4,
			TTLSeconds: 300,
			Sender:     sender,
		},
		append([]ServiceOption{WithCodeGenerator(stubCodeGenerator{code: code})}, options...)...,
	)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func seedCustomer(test *testing.T, store *stubStore) (CompanyID, CustomerID, Phone) {
	test.Helper()
	companyID := mustCompanyID(test, "comp-1")
	customerID := mustCustomerID(test, "cust-1")
	phone := mustPhone(test, "+79001234589")
	store.addCustomer(companyID, customerID, phone, true)
	return companyID, customerID, phone
}

func TestAccrueCashbackBaseRateFallback(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	companyID, _, phone := seedCustomer(test, store)
	store.basePercents[companyID.String()] = decimal.NewFromInt(5)
	clock := &stubClock{now: accrualTestInstant}
	service := newTestService(test, store, clock, &stubSender{}, "1234")
	employeeID := mustEmployeeID(test, "emp-1")

	result, err := service.AccrueCashback(context.Background(), companyID, phone, mustPurchase(test, "200.00"), nil, employeeID)
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if !result.Accrued {
		test.Fatal("expected accrual to happen")
	}
	if result.Transaction.CashbackAccruedCents != 1000 {
		test.Fatalf("expected 1000 cents accrued, got %d", result.Transaction.CashbackAccruedCents)
	}
	if result.Transaction.BalanceAfterCents != 1000 {
		test.Fatalf("expected balance_after 1000, got %d", result.Transaction.BalanceAfterCents)
	}
	if result.Transaction.Kind != TransactionAccrualPurchase {
		test.Fatalf("unexpected kind %s", result.Transaction.Kind)
	}
	if result.Transaction.PromotionID != nil {
		test.Fatal("base-rate accrual must not reference a promotion")
	}
}

func TestAccrueCashbackZeroRateRecordsNothing(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	companyID, _, phone := seedCustomer(test, store)
	clock := &stubClock{now: accrualTestInstant}
	service := newTestService(test, store, clock, &stubSender{}, "1234")

	result, err := service.AccrueCashback(context.Background(), companyID, phone, mustPurchase(test, "200.00"), nil, mustEmployeeID(test, "emp-1"))
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if result.Accrued {
		test.Fatal("expected a no-op accrual")
	}
	if len(store.transactions) != 0 {
		test.Fatalf("expected no ledger rows, got %d", len(store.transactions))
	}
}

func TestAccrueCashbackPromotionWinsOverBaseRate(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	companyID, customerID, phone := seedCustomer(test, store)
	store.basePercents[companyID.String()] = decimal.NewFromInt(5)
	promotion := activePromotion(test, "promo-1", companyID, 50, mustPercentConfig(test, "10", 0))
	promotion.MaxTotalUses = 10
	store.promotions = append(store.promotions, promotion)
	clock := &stubClock{now: accrualTestInstant}
	service := newTestService(test, store, clock, &stubSender{}, "1234")

	result, err := service.AccrueCashback(context.Background(), companyID, phone, mustPurchase(test, "100.00"), nil, mustEmployeeID(test, "emp-1"))
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if result.Transaction.CashbackAccruedCents != 1000 {
		test.Fatalf("expected promotion cashback 1000 cents, got %d", result.Transaction.CashbackAccruedCents)
	}
	if result.Transaction.PromotionID == nil || *result.Transaction.PromotionID != promotion.ID {
		test.Fatalf("expected promotion reference, got %+v", result.Transaction.PromotionID)
	}
	if promotion.CurrentTotalUses != 1 {
		test.Fatalf("expected usage counter 1, got %d", promotion.CurrentTotalUses)
	}
	if len(store.usages) != 1 {
		test.Fatalf("expected one usage row, got %d", len(store.usages))
	}
	if store.usages[0].TransactionID != result.Transaction.ID {
		test.Fatal("usage row must reference the accrual transaction")
	}
	if store.usages[0].CustomerID != customerID {
		test.Fatal("usage row must reference the customer")
	}
}

func TestAccrueCashbackBalanceAfterTracksRunningTotal(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	companyID, _, phone := seedCustomer(test, store)
	store.basePercents[companyID.String()] = decimal.NewFromInt(5)
	clock := &stubClock{now: accrualTestInstant}
	service := newTestService(test, store, clock, &stubSender{}, "1234")
	employeeID := mustEmployeeID(test, "emp-1")

	var runningTotal int64
	for index := 0; index < 3; index++ {
		result, err := service.AccrueCashback(context.Background(), companyID, phone, mustPurchase(test, "200.00"), nil, employeeID)
		if err != nil {
			test.Fatalf("accrue %d: %v", index, err)
		}
		runningTotal += 1000
		if result.Transaction.BalanceAfterCents.Int64() != runningTotal {
			test.Fatalf("accrue %d: expected balance_after %d, got %d", index, runningTotal, result.Transaction.BalanceAfterCents)
		}
	}
	for index, transaction := range store.transactions {
		expected := int64(index+1) * 1000
		if transaction.BalanceAfterCents.Int64() != expected {
			test.Fatalf("row %d: expected snapshot %d, got %d", index, expected, transaction.BalanceAfterCents)
		}
	}
}

func TestAccrueCashbackCustomerNotFound(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := &stubClock{now: accrualTestInstant}
	service := newTestService(test, store, clock, &stubSender{}, "1234")

	_, err := service.AccrueCashback(context.Background(), mustCompanyID(test, "comp-1"), mustPhone(test, "+79000000000"), mustPurchase(test, "10"), nil, mustEmployeeID(test, "emp-1"))
	if !errors.Is(err, ErrCustomerNotFound) {
		test.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestAccrueCashbackInactiveCustomer(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	companyID := mustCompanyID(test, "comp-1")
	phone := mustPhone(test, "+79001234589")
	store.addCustomer(companyID, mustCustomerID(test, "cust-1"), phone, false)
	clock := &stubClock{now: accrualTestInstant}
	service := newTestService(test, store, clock, &stubSender{}, "1234")

	_, err := service.AccrueCashback(context.Background(), companyID, phone, mustPurchase(test, "10"), nil, mustEmployeeID(test, "emp-1"))
	if !errors.Is(err, ErrAccountInactive) {
		test.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestAccrueCashbackPropagatesPromotionLimitRace(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	companyID, _, phone := seedCustomer(test, store)
	promotion := activePromotion(test, "promo-1", companyID, 50, mustPercentConfig(test, "10", 0))
	store.promotions = append(store.promotions, promotion)
	// A concurrent accrual consumed the last slot between resolution and the
	// guarded counter increment.
	store.incrementError = ErrPromotionLimitExceeded
	clock := &stubClock{now: accrualTestInstant}
	service := newTestService(test, store, clock, &stubSender{}, "1234")

	_, err := service.AccrueCashback(context.Background(), companyID, phone, mustPurchase(test, "100"), nil, mustEmployeeID(test, "emp-1"))
	if !errors.Is(err, ErrPromotionLimitExceeded) {
		test.Fatalf("expected ErrPromotionLimitExceeded, got %v", err)
	}
}

func TestAdjustBalanceDebitFloorsAtZero(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	companyID, customerID, phone := seedCustomer(test, store)
	store.setBalance(test, companyID, customerID, 500)
	clock := &stubClock{now: accrualTestInstant}
	service := newTestService(test, store, clock, &stubSender{}, "1234")
	metadata, _ := NewMetadataJSON(`{"reason":"support correction"}`)

	_, err := service.AdjustBalance(context.Background(), companyID, phone, -600, mustEmployeeID(test, "emp-1"), metadata)
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	transaction, err := service.AdjustBalance(context.Background(), companyID, phone, -500, mustEmployeeID(test, "emp-1"), metadata)
	if err != nil {
		test.Fatalf("adjust: %v", err)
	}
	if transaction.Kind != TransactionManual {
		test.Fatalf("expected manual kind, got %s", transaction.Kind)
	}
	if transaction.BalanceAfterCents != 0 {
		test.Fatalf("expected zero balance after, got %d", transaction.BalanceAfterCents)
	}
	if transaction.CashbackSpentCents != 500 {
		test.Fatalf("expected 500 cents debited, got %d", transaction.CashbackSpentCents)
	}
}

func TestListTransactionsNewestFirst(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	companyID, _, phone := seedCustomer(test, store)
	store.basePercents[companyID.String()] = decimal.NewFromInt(5)
	clock := &stubClock{now: accrualTestInstant}
	service := newTestService(test, store, clock, &stubSender{}, "1234")
	employeeID := mustEmployeeID(test, "emp-1")

	for index := 0; index < 3; index++ {
		clock.now++
		if _, err := service.AccrueCashback(context.Background(), companyID, phone, mustPurchase(test, "200.00"), nil, employeeID); err != nil {
			test.Fatalf("accrue %d: %v", index, err)
		}
	}

	transactions, err := service.ListTransactions(context.Background(), companyID, phone, 2)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(transactions) != 2 {
		test.Fatalf("expected 2 rows, got %d", len(transactions))
	}
	if transactions[0].BalanceAfterCents != 3000 {
		test.Fatalf("expected newest row first, got balance_after %d", transactions[0].BalanceAfterCents)
	}
}
