package cashback

import (
	"context"
	"fmt"
)

const defaultListTransactionsLimit = 50

// Service contains the accrual and redemption domain logic over a Store.
type Service struct {
	store         Store
	nowFn         func() int64
	logger        OperationLogger
	sender        CodeSender
	codeGenerator CodeGenerator
	otpSecret     []byte
	otpCodeLength int
	otpTTLSeconds int64
}

// GuardConfig holds the redemption OTP policy.
type GuardConfig struct {
	Secret     []byte
	CodeLength int
	TTLSeconds int64
	Sender     CodeSender
}

// NewService wires a Service.
func NewService(store Store, now func() int64, guard GuardConfig, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if len(guard.Secret) == 0 {
		return nil, fmt.Errorf("%w: otp secret is required", ErrInvalidServiceConfig)
	}
	if guard.Sender == nil {
		return nil, fmt.Errorf("%w: code sender dependency is nil", ErrInvalidServiceConfig)
	}
	if guard.CodeLength <= 0 {
		guard.CodeLength = DefaultOtpCodeLength
	}
	if guard.TTLSeconds <= 0 {
		guard.TTLSeconds = DefaultOtpTTLSeconds
	}
	service := &Service{
		store:         store,
		nowFn:         now,
		sender:        guard.Sender,
		codeGenerator: cryptoCodeGenerator{},
		otpSecret:     guard.Secret,
		otpCodeLength: guard.CodeLength,
		otpTTLSeconds: guard.TTLSeconds,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// AccrueCashback resolves the winning promotion (or the company base rate),
// computes the reward, and applies it to the customer's balance together with
// the ledger row and promotion usage bookkeeping in one atomic unit. A
// purchase that produces zero cashback is a successful no-op: nothing is
// recorded and the result carries Accrued == false.
func (service *Service) AccrueCashback(ctx context.Context, companyID CompanyID, customerPhone Phone, purchase PurchaseAmount, outletID *OutletID, employeeID EmployeeID) (AccrualResult, error) {
	customer, err := service.lookupActiveCustomer(ctx, companyID, customerPhone)
	if err != nil {
		return AccrualResult{}, err
	}

	var result AccrualResult
	var appliedPromotion *PromotionID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		nowUnixUTC := service.nowFn()
		resolver := NewPromotionResolver(transactionStore)
		selection, err := resolver.Resolve(ctx, companyID, customer.ID, purchase, nowUnixUTC)
		if err != nil {
			return err
		}
		var cashbackCents AmountCents
		if selection.Promotion != nil {
			cashbackCents = selection.CashbackCents
		} else {
			basePercent, err := transactionStore.GetBaseCashbackPercent(ctx, companyID)
			if err != nil {
				return err
			}
			cashbackCents = ComputePercentCashback(purchase, basePercent)
		}
		if cashbackCents == 0 {
			result = AccrualResult{Accrued: false}
			return nil
		}

		account, err := transactionStore.GetOrCreateAccount(ctx, companyID, customer.ID)
		if err != nil {
			return err
		}
		if account.Status != AccountStatusActive {
			return ErrAccountInactive
		}
		locked, err := transactionStore.GetAccountForUpdate(ctx, account.ID)
		if err != nil {
			return err
		}
		balanceAfter := locked.BalanceCents + cashbackCents
		if err := transactionStore.UpdateAccountBalance(ctx, account.ID, balanceAfter); err != nil {
			return err
		}

		var promotionID *PromotionID
		if selection.Promotion != nil {
			reference := selection.Promotion.ID
			promotionID = &reference
		}
		stored, err := transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:            account.ID,
			Kind:                 TransactionAccrualPurchase,
			Status:               TransactionStatusCompleted,
			PurchaseAmountCents:  purchase.Cents(),
			CashbackAccruedCents: cashbackCents,
			BalanceAfterCents:    balanceAfter,
			EmployeeID:           employeeID,
			OutletID:             outletID,
			PromotionID:          promotionID,
			Metadata:             defaultMetadata(),
			CreatedUnixUTC:       nowUnixUTC,
		})
		if err != nil {
			return err
		}
		if selection.Promotion != nil {
			if err := transactionStore.IncrementPromotionUses(ctx, selection.Promotion.ID); err != nil {
				return err
			}
			if err := transactionStore.InsertPromotionUsage(ctx, PromotionUsage{
				PromotionID:    selection.Promotion.ID,
				CustomerID:     customer.ID,
				TransactionID:  stored.ID,
				CreatedUnixUTC: nowUnixUTC,
			}); err != nil {
				return err
			}
		}
		appliedPromotion = promotionID
		result = AccrualResult{Accrued: true, Transaction: stored}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationAccrue,
		CompanyID:   companyID,
		CustomerID:  customer.ID,
		EmployeeID:  employeeID,
		PromotionID: appliedPromotion,
		Kind:        TransactionAccrualPurchase,
		Amount:      result.Transaction.CashbackAccruedCents,
		Error:       operationError,
	})
	if operationError != nil {
		return AccrualResult{}, operationError
	}
	return result, nil
}

// AdjustBalance records a manual compensating movement. Positive deltas credit
// the balance, negative deltas debit it subject to the non-negative floor.
func (service *Service) AdjustBalance(ctx context.Context, companyID CompanyID, customerPhone Phone, deltaCents int64, employeeID EmployeeID, metadata MetadataJSON) (Transaction, error) {
	if deltaCents == 0 {
		return Transaction{}, fmt.Errorf("%w: adjustment delta must not be zero", ErrInvalidAmountCents)
	}
	customer, err := service.lookupActiveCustomer(ctx, companyID, customerPhone)
	if err != nil {
		return Transaction{}, err
	}

	var stored Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetOrCreateAccount(ctx, companyID, customer.ID)
		if err != nil {
			return err
		}
		locked, err := transactionStore.GetAccountForUpdate(ctx, account.ID)
		if err != nil {
			return err
		}
		balanceRaw := locked.BalanceCents.Int64() + deltaCents
		if balanceRaw < 0 {
			return ErrInsufficientBalance
		}
		balanceAfter := AmountCents(balanceRaw)
		if err := transactionStore.UpdateAccountBalance(ctx, account.ID, balanceAfter); err != nil {
			return err
		}
		movement := Transaction{
			AccountID:         account.ID,
			Kind:              TransactionManual,
			Status:            TransactionStatusCompleted,
			BalanceAfterCents: balanceAfter,
			EmployeeID:        employeeID,
			Metadata:          metadata,
			CreatedUnixUTC:    service.nowFn(),
		}
		if deltaCents > 0 {
			movement.CashbackAccruedCents = AmountCents(deltaCents)
		} else {
			movement.CashbackSpentCents = AmountCents(-deltaCents)
		}
		stored, err = transactionStore.InsertTransaction(ctx, movement)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationAdjust,
		CompanyID:  companyID,
		CustomerID: customer.ID,
		EmployeeID: employeeID,
		Kind:       TransactionManual,
		Amount:     stored.BalanceAfterCents,
		Error:      operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return stored, nil
}

// ListTransactions returns the newest ledger rows for a customer.
func (service *Service) ListTransactions(ctx context.Context, companyID CompanyID, customerPhone Phone, limit int) ([]Transaction, error) {
	customer, err := service.lookupActiveCustomer(ctx, companyID, customerPhone)
	if err != nil {
		return nil, err
	}
	account, err := service.store.GetOrCreateAccount(ctx, companyID, customer.ID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListTransactionsLimit
	}
	return service.store.ListTransactions(ctx, account.ID, limit)
}

func (service *Service) lookupActiveCustomer(ctx context.Context, companyID CompanyID, customerPhone Phone) (CustomerAccount, error) {
	customer, err := service.store.FindCustomerByPhone(ctx, companyID, customerPhone)
	if err != nil {
		return CustomerAccount{}, err
	}
	if customer.CompanyID != companyID {
		return CustomerAccount{}, ErrCrossCompanyMismatch
	}
	if !customer.Active {
		return CustomerAccount{}, ErrAccountInactive
	}
	return customer, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func defaultMetadata() MetadataJSON {
	metadata, _ := NewMetadataJSON("")
	return metadata
}
