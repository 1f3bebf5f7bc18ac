package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/perkwise/cashback/pkg/cashback"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintUsageTransaction = "uniq_usage_transaction"
	defaultMetadataJSON        = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintCode       = 19
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectChallenge      = "challenge"
	errorSubjectCompany        = "company"
	errorSubjectCustomer       = "customer"
	errorSubjectPromotion      = "promotion"
	errorSubjectTransaction    = "transaction"
	errorSubjectUsage          = "usage"
	errorCodeCount             = "count"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeIncrement         = "increment"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLookup            = "lookup"
	errorCodeMarkUsed          = "mark_used"
	errorCodeSupersede         = "supersede"
	errorCodeUpdateBalance     = "update_balance"
)

// Store implements cashback.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore cashback.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) FindCustomerByPhone(ctx context.Context, companyID cashback.CompanyID, phone cashback.Phone) (cashback.CustomerAccount, error) {
	var model Customer
	err := store.db.WithContext(ctx).
		Where("company_id = ? AND phone = ?", companyID.String(), phone.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cashback.CustomerAccount{}, wrapStoreError(errorSubjectCustomer, errorCodeLookup, cashback.ErrCustomerNotFound)
		}
		return cashback.CustomerAccount{}, wrapStoreError(errorSubjectCustomer, errorCodeLookup, err)
	}
	customer, err := mapCustomer(model)
	if err != nil {
		return cashback.CustomerAccount{}, wrapStoreError(errorSubjectCustomer, errorCodeInvalid, err)
	}
	return customer, nil
}

func (store *Store) GetBaseCashbackPercent(ctx context.Context, companyID cashback.CompanyID) (decimal.Decimal, error) {
	var model Company
	err := store.db.WithContext(ctx).
		Where("company_id = ?", companyID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, wrapStoreError(errorSubjectCompany, errorCodeLookup, cashback.ErrCustomerNotFound)
		}
		return decimal.Zero, wrapStoreError(errorSubjectCompany, errorCodeLookup, err)
	}
	if !model.BaseRateActive {
		return decimal.Zero, nil
	}
	return model.BaseCashbackPercent, nil
}

func (store *Store) GetOrCreateAccount(ctx context.Context, companyID cashback.CompanyID, customerID cashback.CustomerID) (cashback.BalanceAccount, error) {
	var model BalanceAccount
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "company_id"}, {Name: "customer_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"company_id":  clause.Expr{SQL: "excluded.company_id"},
				"customer_id": clause.Expr{SQL: "excluded.customer_id"},
			}),
		}).
		Attrs(BalanceAccount{Status: string(cashback.AccountStatusActive)}).
		FirstOrCreate(&model, BalanceAccount{CompanyID: companyID.String(), CustomerID: customerID.String()}).Error
	if err != nil {
		return cashback.BalanceAccount{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return cashback.BalanceAccount{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) GetAccountForUpdate(ctx context.Context, accountID cashback.AccountID) (cashback.BalanceAccount, error) {
	var model BalanceAccount
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cashback.BalanceAccount{}, wrapStoreError(errorSubjectAccount, errorCodeGet, cashback.ErrCustomerNotFound)
		}
		return cashback.BalanceAccount{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return cashback.BalanceAccount{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) UpdateAccountBalance(ctx context.Context, accountID cashback.AccountID, balanceCents cashback.AmountCents) error {
	result := store.db.WithContext(ctx).
		Model(&BalanceAccount{}).
		Where("account_id = ?", accountID.String()).
		Update("balance_cents", balanceCents.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateBalance, cashback.ErrCustomerNotFound)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction cashback.Transaction) (cashback.Transaction, error) {
	var outletID *string
	if transaction.OutletID != nil {
		value := transaction.OutletID.String()
		outletID = &value
	}
	var promotionID *string
	if transaction.PromotionID != nil {
		value := transaction.PromotionID.String()
		promotionID = &value
	}
	model := Transaction{
		AccountID:            transaction.AccountID.String(),
		Kind:                 transaction.Kind.String(),
		Status:               string(transaction.Status),
		PurchaseAmountCents:  transaction.PurchaseAmountCents.Int64(),
		CashbackAccruedCents: transaction.CashbackAccruedCents.Int64(),
		CashbackSpentCents:   transaction.CashbackSpentCents.Int64(),
		BalanceAfterCents:    transaction.BalanceAfterCents.Int64(),
		EmployeeID:           transaction.EmployeeID.String(),
		OutletID:             outletID,
		PromotionID:          promotionID,
		Metadata:             datatypesJSON(transaction.Metadata.String()),
		CreatedAt:            time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return cashback.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	stored, err := mapTransaction(model)
	if err != nil {
		return cashback.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return stored, nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID cashback.AccountID, limit int) ([]cashback.Transaction, error) {
	var rows []Transaction
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]cashback.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) ListActivePromotions(ctx context.Context, companyID cashback.CompanyID, atUnixUTC int64) ([]cashback.Promotion, error) {
	at := time.Unix(atUnixUTC, 0).UTC()
	var rows []Promotion
	err := store.db.WithContext(ctx).
		Where("company_id = ? AND status = ?", companyID.String(), cashback.PromotionStatusActive.String()).
		Where("starts_at <= ?", at).
		Where("(ends_at IS NULL OR ends_at >= ?)", at).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPromotion, errorCodeList, err)
	}
	promotions := make([]cashback.Promotion, 0, len(rows))
	for _, row := range rows {
		promotion, err := mapPromotion(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPromotion, errorCodeInvalid, err)
		}
		promotions = append(promotions, promotion)
	}
	return promotions, nil
}

func (store *Store) CountPromotionUses(ctx context.Context, promotionID cashback.PromotionID, customerID cashback.CustomerID) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&PromotionUsage{}).
		Where("promotion_id = ? AND customer_id = ?", promotionID.String(), customerID.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectUsage, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) InsertPromotionUsage(ctx context.Context, usage cashback.PromotionUsage) error {
	model := PromotionUsage{
		PromotionID:   usage.PromotionID.String(),
		CustomerID:    usage.CustomerID.String(),
		TransactionID: usage.TransactionID.String(),
		CreatedAt:     time.Unix(usage.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintUsageTransaction) {
		return wrapStoreError(errorSubjectUsage, errorCodeDuplicate, cashback.ErrPromotionAlreadyUsed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectUsage, errorCodeCreate, err)
	}
	return nil
}

// IncrementPromotionUses bumps the counter under the max_total_uses guard;
// the WHERE clause makes the check-then-act race impossible.
func (store *Store) IncrementPromotionUses(ctx context.Context, promotionID cashback.PromotionID) error {
	result := store.db.WithContext(ctx).
		Model(&Promotion{}).
		Where("promotion_id = ?", promotionID.String()).
		Where("(max_total_uses = 0 OR current_total_uses < max_total_uses)").
		Update("current_total_uses", gorm.Expr("current_total_uses + 1"))
	if result.Error != nil {
		return wrapStoreError(errorSubjectPromotion, errorCodeIncrement, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPromotion, errorCodeIncrement, cashback.ErrPromotionLimitExceeded)
	}
	return nil
}

func (store *Store) GetPendingChallenge(ctx context.Context, accountID cashback.AccountID, purpose cashback.OtpPurpose) (cashback.OtpChallenge, error) {
	var model OtpChallenge
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND purpose = ? AND used = ?", accountID.String(), purpose.String(), false).
		Order("created_at DESC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cashback.OtpChallenge{}, wrapStoreError(errorSubjectChallenge, errorCodeGet, cashback.ErrOtpNotFound)
		}
		return cashback.OtpChallenge{}, wrapStoreError(errorSubjectChallenge, errorCodeGet, err)
	}
	challenge, err := mapChallenge(model)
	if err != nil {
		return cashback.OtpChallenge{}, wrapStoreError(errorSubjectChallenge, errorCodeInvalid, err)
	}
	return challenge, nil
}

func (store *Store) SupersedeChallenges(ctx context.Context, accountID cashback.AccountID, purpose cashback.OtpPurpose) error {
	err := store.db.WithContext(ctx).
		Model(&OtpChallenge{}).
		Where("account_id = ? AND purpose = ? AND used = ?", accountID.String(), purpose.String(), false).
		Update("used", true).Error
	if err != nil {
		return wrapStoreError(errorSubjectChallenge, errorCodeSupersede, err)
	}
	return nil
}

func (store *Store) InsertChallenge(ctx context.Context, challenge cashback.OtpChallenge) (cashback.OtpChallenge, error) {
	model := OtpChallenge{
		AccountID: challenge.AccountID.String(),
		Purpose:   challenge.Purpose.String(),
		CodeHash:  challenge.CodeHash,
		ExpiresAt: time.Unix(challenge.ExpiresAtUnixUTC, 0).UTC(),
		Used:      challenge.Used,
		CreatedAt: time.Unix(challenge.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return cashback.OtpChallenge{}, wrapStoreError(errorSubjectChallenge, errorCodeCreate, err)
	}
	stored, err := mapChallenge(model)
	if err != nil {
		return cashback.OtpChallenge{}, wrapStoreError(errorSubjectChallenge, errorCodeInvalid, err)
	}
	return stored, nil
}

// MarkChallengeUsed flips the single-use flag; the used = false guard makes a
// second confirm observe zero affected rows instead of re-debiting.
func (store *Store) MarkChallengeUsed(ctx context.Context, challengeID cashback.ChallengeID) error {
	result := store.db.WithContext(ctx).
		Model(&OtpChallenge{}).
		Where("challenge_id = ? AND used = ?", challengeID.String(), false).
		Update("used", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectChallenge, errorCodeMarkUsed, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectChallenge, errorCodeMarkUsed, cashback.ErrOtpNotFound)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return cashback.WrapError(errorOperationStore, subject, code, err)
}

func mapCustomer(model Customer) (cashback.CustomerAccount, error) {
	customerID, err := cashback.NewCustomerID(model.CustomerID)
	if err != nil {
		return cashback.CustomerAccount{}, err
	}
	companyID, err := cashback.NewCompanyID(model.CompanyID)
	if err != nil {
		return cashback.CustomerAccount{}, err
	}
	phone, err := cashback.NewPhone(model.Phone)
	if err != nil {
		return cashback.CustomerAccount{}, err
	}
	return cashback.CustomerAccount{
		ID:        customerID,
		CompanyID: companyID,
		Phone:     phone,
		Active:    model.Status == string(cashback.AccountStatusActive),
	}, nil
}

func mapAccount(model BalanceAccount) (cashback.BalanceAccount, error) {
	accountID, err := cashback.NewAccountID(model.AccountID)
	if err != nil {
		return cashback.BalanceAccount{}, err
	}
	companyID, err := cashback.NewCompanyID(model.CompanyID)
	if err != nil {
		return cashback.BalanceAccount{}, err
	}
	customerID, err := cashback.NewCustomerID(model.CustomerID)
	if err != nil {
		return cashback.BalanceAccount{}, err
	}
	balance, err := cashback.NewAmountCents(model.BalanceCents)
	if err != nil {
		return cashback.BalanceAccount{}, err
	}
	return cashback.BalanceAccount{
		ID:           accountID,
		CompanyID:    companyID,
		CustomerID:   customerID,
		BalanceCents: balance,
		Status:       cashback.AccountStatus(model.Status),
	}, nil
}

func mapPromotion(model Promotion) (cashback.Promotion, error) {
	promotionID, err := cashback.NewPromotionID(model.PromotionID)
	if err != nil {
		return cashback.Promotion{}, err
	}
	companyID, err := cashback.NewCompanyID(model.CompanyID)
	if err != nil {
		return cashback.Promotion{}, err
	}
	promotionType, err := cashback.ParsePromotionType(model.Type)
	if err != nil {
		return cashback.Promotion{}, err
	}
	status, err := cashback.ParsePromotionStatus(model.Status)
	if err != nil {
		return cashback.Promotion{}, err
	}
	config := cashback.CashbackConfig{
		Percent:                model.Percent,
		FixedCents:             cashback.AmountCents(model.FixedCents),
		MaxPerTransactionCents: cashback.AmountCents(model.MaxPerTxCents),
	}
	if err := config.Validate(); err != nil {
		return cashback.Promotion{}, err
	}
	return cashback.Promotion{
		ID:                 promotionID,
		CompanyID:          companyID,
		Type:               promotionType,
		Status:             status,
		StartsAtUnixUTC:    model.StartsAt.Unix(),
		EndsAtUnixUTC:      timeOrZero(model.EndsAt),
		Priority:           model.Priority,
		MinPurchaseCents:   cashback.AmountCents(model.MinPurchaseCents),
		MaxUsesPerCustomer: model.MaxUsesPerCustomer,
		MaxTotalUses:       model.MaxTotalUses,
		CurrentTotalUses:   model.CurrentTotalUses,
		Config:             config,
	}, nil
}

func mapTransaction(model Transaction) (cashback.Transaction, error) {
	transactionID, err := cashback.NewTransactionID(model.TransactionID)
	if err != nil {
		return cashback.Transaction{}, err
	}
	accountID, err := cashback.NewAccountID(model.AccountID)
	if err != nil {
		return cashback.Transaction{}, err
	}
	kind, err := cashback.ParseTransactionKind(model.Kind)
	if err != nil {
		return cashback.Transaction{}, err
	}
	employeeID, err := cashback.NewEmployeeID(model.EmployeeID)
	if err != nil {
		return cashback.Transaction{}, err
	}
	var outletID *cashback.OutletID
	if model.OutletID != nil {
		parsed, err := cashback.NewOutletID(*model.OutletID)
		if err != nil {
			return cashback.Transaction{}, err
		}
		outletID = &parsed
	}
	var promotionID *cashback.PromotionID
	if model.PromotionID != nil {
		parsed, err := cashback.NewPromotionID(*model.PromotionID)
		if err != nil {
			return cashback.Transaction{}, err
		}
		promotionID = &parsed
	}
	metadata, err := cashback.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return cashback.Transaction{}, err
	}
	return cashback.Transaction{
		ID:                   transactionID,
		AccountID:            accountID,
		Kind:                 kind,
		Status:               cashback.TransactionStatus(model.Status),
		PurchaseAmountCents:  cashback.AmountCents(model.PurchaseAmountCents),
		CashbackAccruedCents: cashback.AmountCents(model.CashbackAccruedCents),
		CashbackSpentCents:   cashback.AmountCents(model.CashbackSpentCents),
		BalanceAfterCents:    cashback.AmountCents(model.BalanceAfterCents),
		EmployeeID:           employeeID,
		OutletID:             outletID,
		PromotionID:          promotionID,
		Metadata:             metadata,
		CreatedUnixUTC:       model.CreatedAt.Unix(),
	}, nil
}

func mapChallenge(model OtpChallenge) (cashback.OtpChallenge, error) {
	challengeID, err := cashback.NewChallengeID(model.ChallengeID)
	if err != nil {
		return cashback.OtpChallenge{}, err
	}
	accountID, err := cashback.NewAccountID(model.AccountID)
	if err != nil {
		return cashback.OtpChallenge{}, err
	}
	purpose, err := cashback.ParseOtpPurpose(model.Purpose)
	if err != nil {
		return cashback.OtpChallenge{}, err
	}
	return cashback.OtpChallenge{
		ID:               challengeID,
		AccountID:        accountID,
		Purpose:          purpose,
		CodeHash:         model.CodeHash,
		ExpiresAtUnixUTC: model.ExpiresAt.Unix(),
		Used:             model.Used,
		CreatedUnixUTC:   model.CreatedAt.Unix(),
	}, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
