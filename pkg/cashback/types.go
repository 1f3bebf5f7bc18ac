package cashback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountCents is a non-negative integer currency amount in minor units.
type AmountCents int64

// Int64 returns the raw cents value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Decimal converts cents back to a two-decimal major-unit value.
func (amount AmountCents) Decimal() decimal.Decimal {
	return decimal.New(int64(amount), -2)
}

// NewAmountCents validates a non-negative cents amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// CompanyID identifies a tenant company.
type CompanyID struct {
	value string
}

// CustomerID identifies a customer within a company.
type CustomerID struct {
	value string
}

// EmployeeID identifies the acting employee.
type EmployeeID struct {
	value string
}

// OutletID identifies the outlet where a purchase happened.
type OutletID struct {
	value string
}

// AccountID identifies a balance account.
type AccountID struct {
	value string
}

// PromotionID identifies a promotion.
type PromotionID struct {
	value string
}

// TransactionID identifies a ledger row.
type TransactionID struct {
	value string
}

// ChallengeID identifies an OTP challenge row.
type ChallengeID struct {
	value string
}

func newIdentifier(raw string, invalid error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", invalid)
	}
	return trimmed, nil
}

// NewCompanyID validates and normalizes a company id.
func NewCompanyID(raw string) (CompanyID, error) {
	value, err := newIdentifier(raw, ErrInvalidCompanyID)
	if err != nil {
		return CompanyID{}, err
	}
	return CompanyID{value: value}, nil
}

// String returns the normalized identifier.
func (id CompanyID) String() string { return id.value }

// NewCustomerID validates and normalizes a customer id.
func NewCustomerID(raw string) (CustomerID, error) {
	value, err := newIdentifier(raw, ErrInvalidCustomerID)
	if err != nil {
		return CustomerID{}, err
	}
	return CustomerID{value: value}, nil
}

// String returns the normalized identifier.
func (id CustomerID) String() string { return id.value }

// NewEmployeeID validates and normalizes an employee id.
func NewEmployeeID(raw string) (EmployeeID, error) {
	value, err := newIdentifier(raw, ErrInvalidEmployeeID)
	if err != nil {
		return EmployeeID{}, err
	}
	return EmployeeID{value: value}, nil
}

// String returns the normalized identifier.
func (id EmployeeID) String() string { return id.value }

// NewOutletID validates and normalizes an outlet id.
func NewOutletID(raw string) (OutletID, error) {
	value, err := newIdentifier(raw, ErrInvalidOutletID)
	if err != nil {
		return OutletID{}, err
	}
	return OutletID{value: value}, nil
}

// String returns the normalized identifier.
func (id OutletID) String() string { return id.value }

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	value, err := newIdentifier(raw, ErrInvalidAccountID)
	if err != nil {
		return AccountID{}, err
	}
	return AccountID{value: value}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string { return id.value }

// NewPromotionID validates and normalizes a promotion id.
func NewPromotionID(raw string) (PromotionID, error) {
	value, err := newIdentifier(raw, ErrInvalidPromotionID)
	if err != nil {
		return PromotionID{}, err
	}
	return PromotionID{value: value}, nil
}

// String returns the normalized identifier.
func (id PromotionID) String() string { return id.value }

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	value, err := newIdentifier(raw, ErrInvalidTransactionID)
	if err != nil {
		return TransactionID{}, err
	}
	return TransactionID{value: value}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string { return id.value }

// NewChallengeID validates and normalizes a challenge id.
func NewChallengeID(raw string) (ChallengeID, error) {
	value, err := newIdentifier(raw, ErrInvalidChallengeID)
	if err != nil {
		return ChallengeID{}, err
	}
	return ChallengeID{value: value}, nil
}

// String returns the normalized identifier.
func (id ChallengeID) String() string { return id.value }

// Phone is a normalized E.164-style phone number.
type Phone struct {
	value string
}

// NewPhone validates a phone number: optional leading plus, 7-15 digits.
func NewPhone(raw string) (Phone, error) {
	trimmed := strings.TrimSpace(raw)
	digits := strings.TrimPrefix(trimmed, "+")
	if digits == "" {
		return Phone{}, fmt.Errorf("%w: empty value", ErrInvalidPhone)
	}
	if len(digits) < 7 || len(digits) > 15 {
		return Phone{}, fmt.Errorf("%w: must contain 7-15 digits", ErrInvalidPhone)
	}
	for _, character := range digits {
		if character < '0' || character > '9' {
			return Phone{}, fmt.Errorf("%w: must contain digits only", ErrInvalidPhone)
		}
	}
	if strings.HasPrefix(trimmed, "+") {
		return Phone{value: "+" + digits}, nil
	}
	return Phone{value: digits}, nil
}

// String returns the normalized number.
func (phone Phone) String() string { return phone.value }

// Masked hides the middle of the number, keeping a short prefix and suffix.
func (phone Phone) Masked() string {
	value := phone.value
	prefix := ""
	if strings.HasPrefix(value, "+") {
		prefix = "+"
		value = value[1:]
	}
	if len(value) <= maskedPhoneVisiblePrefix+maskedPhoneVisibleSuffix {
		return prefix + strings.Repeat("*", len(value))
	}
	hidden := len(value) - maskedPhoneVisiblePrefix - maskedPhoneVisibleSuffix
	return prefix + value[:maskedPhoneVisiblePrefix] + strings.Repeat("*", hidden) + value[len(value)-maskedPhoneVisibleSuffix:]
}

// PurchaseAmount is a strictly positive purchase value in major units.
type PurchaseAmount struct {
	value decimal.Decimal
}

// NewPurchaseAmount validates a strictly positive purchase amount.
func NewPurchaseAmount(raw decimal.Decimal) (PurchaseAmount, error) {
	if raw.Sign() <= 0 {
		return PurchaseAmount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPurchaseAmount)
	}
	return PurchaseAmount{value: raw}, nil
}

// ParsePurchaseAmount validates a purchase amount given as a decimal string.
func ParsePurchaseAmount(raw string) (PurchaseAmount, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return PurchaseAmount{}, fmt.Errorf("%w: %v", ErrInvalidPurchaseAmount, err)
	}
	return NewPurchaseAmount(parsed)
}

// Decimal returns the exact purchase value.
func (amount PurchaseAmount) Decimal() decimal.Decimal { return amount.value }

// Cents returns the purchase value rounded half-up to minor units.
func (amount PurchaseAmount) Cents() AmountCents {
	return AmountCents(amount.value.Round(2).Shift(2).IntPart())
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string { return metadata.value }

// PromotionType enumerates supported promotion mechanics.
type PromotionType string

const (
	PromotionTypeCashback PromotionType = "cashback"
)

// ParsePromotionType validates a promotion type string.
func ParsePromotionType(raw string) (PromotionType, error) {
	if PromotionType(raw) == PromotionTypeCashback {
		return PromotionTypeCashback, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPromotionType, raw)
}

// String returns the type value.
func (promotionType PromotionType) String() string { return string(promotionType) }

// PromotionStatus defines the promotion lifecycle.
type PromotionStatus string

const (
	PromotionStatusDraft     PromotionStatus = "draft"
	PromotionStatusScheduled PromotionStatus = "scheduled"
	PromotionStatusActive    PromotionStatus = "active"
	PromotionStatusPaused    PromotionStatus = "paused"
	PromotionStatusFinished  PromotionStatus = "finished"
	PromotionStatusArchived  PromotionStatus = "archived"
)

// ParsePromotionStatus validates a promotion status string.
func ParsePromotionStatus(raw string) (PromotionStatus, error) {
	switch PromotionStatus(raw) {
	case PromotionStatusDraft, PromotionStatusScheduled, PromotionStatusActive,
		PromotionStatusPaused, PromotionStatusFinished, PromotionStatusArchived:
		return PromotionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPromotionStatus, raw)
}

// String returns the status value.
func (status PromotionStatus) String() string { return string(status) }

// CashbackConfig holds the reward mechanics embedded in a promotion: either a
// percentage of the purchase or a fixed amount, with an optional per-transaction
// cap. A cap of zero means uncapped.
type CashbackConfig struct {
	Percent                decimal.Decimal
	FixedCents             AmountCents
	MaxPerTransactionCents AmountCents
}

// NewPercentConfig builds a percentage-of-purchase config.
func NewPercentConfig(percent decimal.Decimal, maxPerTransactionCents AmountCents) (CashbackConfig, error) {
	config := CashbackConfig{Percent: percent, MaxPerTransactionCents: maxPerTransactionCents}
	if err := config.Validate(); err != nil {
		return CashbackConfig{}, err
	}
	return config, nil
}

// NewFixedConfig builds a fixed-amount config.
func NewFixedConfig(fixedCents AmountCents, maxPerTransactionCents AmountCents) (CashbackConfig, error) {
	config := CashbackConfig{FixedCents: fixedCents, MaxPerTransactionCents: maxPerTransactionCents}
	if err := config.Validate(); err != nil {
		return CashbackConfig{}, err
	}
	return config, nil
}

// Validate enforces the percentage-xor-fixed shape.
func (config CashbackConfig) Validate() error {
	hasPercent := config.Percent.Sign() > 0
	hasFixed := config.FixedCents > 0
	if hasPercent == hasFixed {
		return fmt.Errorf("%w: exactly one of percent or fixed amount must be set", ErrInvalidCashbackConfig)
	}
	if config.Percent.Sign() < 0 || config.FixedCents < 0 || config.MaxPerTransactionCents < 0 {
		return fmt.Errorf("%w: negative values are not allowed", ErrInvalidCashbackConfig)
	}
	return nil
}

// IsPercent reports whether the config is percentage-based.
func (config CashbackConfig) IsPercent() bool {
	return config.Percent.Sign() > 0
}

// Promotion is a company-scoped, time-bounded cashback rule.
type Promotion struct {
	ID                 PromotionID
	CompanyID          CompanyID
	Type               PromotionType
	Status             PromotionStatus
	StartsAtUnixUTC    int64
	EndsAtUnixUTC      int64 // zero means unbounded
	Priority           int
	MinPurchaseCents   AmountCents // zero means no floor
	MaxUsesPerCustomer int64       // zero means unlimited
	MaxTotalUses       int64       // zero means unlimited
	CurrentTotalUses   int64
	Config             CashbackConfig
}

// ActiveAt reports whether the promotion window covers the given instant.
func (promotion Promotion) ActiveAt(atUnixUTC int64) bool {
	if promotion.Status != PromotionStatusActive {
		return false
	}
	if promotion.StartsAtUnixUTC > atUnixUTC {
		return false
	}
	if promotion.EndsAtUnixUTC != 0 && promotion.EndsAtUnixUTC < atUnixUTC {
		return false
	}
	return true
}

// AccountStatus defines the balance-account lifecycle.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusArchived AccountStatus = "archived"
)

// BalanceAccount is the per customer-company cashback balance.
type BalanceAccount struct {
	ID           AccountID
	CompanyID    CompanyID
	CustomerID   CustomerID
	BalanceCents AmountCents
	Status       AccountStatus
}

// CustomerAccount is the directory view of a customer.
type CustomerAccount struct {
	ID        CustomerID
	CompanyID CompanyID
	Phone     Phone
	Active    bool
}

// TransactionKind enumerates ledger row kinds.
type TransactionKind string

const (
	TransactionAccrualPurchase TransactionKind = "accrual_purchase"
	TransactionSpend           TransactionKind = "spend"
	TransactionRefund          TransactionKind = "refund"
	TransactionManual          TransactionKind = "manual"
	TransactionExpiration      TransactionKind = "expiration"
)

// ParseTransactionKind validates a transaction kind string.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case TransactionAccrualPurchase, TransactionSpend, TransactionRefund,
		TransactionManual, TransactionExpiration:
		return TransactionKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
}

// String returns the kind value.
func (kind TransactionKind) String() string { return string(kind) }

// TransactionStatus marks a ledger row outcome.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
)

// Transaction is a single immutable line in the ledger.
type Transaction struct {
	ID                   TransactionID
	AccountID            AccountID
	Kind                 TransactionKind
	Status               TransactionStatus
	PurchaseAmountCents  AmountCents
	CashbackAccruedCents AmountCents
	CashbackSpentCents   AmountCents
	BalanceAfterCents    AmountCents
	EmployeeID           EmployeeID
	OutletID             *OutletID
	PromotionID          *PromotionID
	Metadata             MetadataJSON
	CreatedUnixUTC       int64
}

// PromotionUsage links a promotion to the single transaction it was applied to.
type PromotionUsage struct {
	PromotionID    PromotionID
	CustomerID     CustomerID
	TransactionID  TransactionID
	CreatedUnixUTC int64
}

// OtpPurpose scopes a challenge to the flow that issued it.
type OtpPurpose string

const (
	OtpPurposeSpend OtpPurpose = "spend"
)

// ParseOtpPurpose validates an OTP purpose string.
func ParseOtpPurpose(raw string) (OtpPurpose, error) {
	if OtpPurpose(raw) == OtpPurposeSpend {
		return OtpPurposeSpend, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOtpPurpose, raw)
}

// String returns the purpose value.
func (purpose OtpPurpose) String() string { return string(purpose) }

// OtpChallenge stores a pending confirmation code. Only the HMAC of the code
// is ever persisted.
type OtpChallenge struct {
	ID               ChallengeID
	AccountID        AccountID
	Purpose          OtpPurpose
	CodeHash         string
	ExpiresAtUnixUTC int64
	Used             bool
	CreatedUnixUTC   int64
}

// SpendQuote is the result of requesting a spend confirmation.
type SpendQuote struct {
	AmountToSpendCents AmountCents
	MaskedPhone        string
}

// AccrualResult reports the outcome of an accrual. Accrued is false when the
// purchase produced zero cashback and nothing was recorded.
type AccrualResult struct {
	Accrued     bool
	Transaction Transaction
}

// PromotionCatalog is the read-only query surface the resolver depends on.
type PromotionCatalog interface {
	ListActivePromotions(ctx context.Context, companyID CompanyID, atUnixUTC int64) ([]Promotion, error)
	CountPromotionUses(ctx context.Context, promotionID PromotionID, customerID CustomerID) (int64, error)
}

// Store is the persistence contract used by Service. Implementations must make
// WithTx atomic: every write issued through the transactional store commits or
// rolls back as one unit.
type Store interface {
	PromotionCatalog

	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	FindCustomerByPhone(ctx context.Context, companyID CompanyID, phone Phone) (CustomerAccount, error)
	GetBaseCashbackPercent(ctx context.Context, companyID CompanyID) (decimal.Decimal, error)

	GetOrCreateAccount(ctx context.Context, companyID CompanyID, customerID CustomerID) (BalanceAccount, error)
	// GetAccountForUpdate reads the balance row under a row lock; callers must
	// be inside WithTx.
	GetAccountForUpdate(ctx context.Context, accountID AccountID) (BalanceAccount, error)
	UpdateAccountBalance(ctx context.Context, accountID AccountID, balanceCents AmountCents) error

	InsertTransaction(ctx context.Context, transaction Transaction) (Transaction, error)
	ListTransactions(ctx context.Context, accountID AccountID, limit int) ([]Transaction, error)

	InsertPromotionUsage(ctx context.Context, usage PromotionUsage) error
	// IncrementPromotionUses bumps current_total_uses, failing with
	// ErrPromotionLimitExceeded instead of exceeding max_total_uses.
	IncrementPromotionUses(ctx context.Context, promotionID PromotionID) error

	GetPendingChallenge(ctx context.Context, accountID AccountID, purpose OtpPurpose) (OtpChallenge, error)
	SupersedeChallenges(ctx context.Context, accountID AccountID, purpose OtpPurpose) error
	InsertChallenge(ctx context.Context, challenge OtpChallenge) (OtpChallenge, error)
	// MarkChallengeUsed flips the single-use flag, failing with ErrOtpNotFound
	// when the challenge was already consumed.
	MarkChallengeUsed(ctx context.Context, challengeID ChallengeID) error
}

// CodeSender delivers a plaintext confirmation code to the customer.
type CodeSender interface {
	SendCode(ctx context.Context, destination Phone, code string) error
}

// CodeGenerator produces random numeric confirmation codes.
type CodeGenerator interface {
	Generate(length int) (string, error)
}
