package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Company represents the companies table. Only the base-rate read surface is
// used here; company CRUD lives elsewhere.
type Company struct {
	CompanyID           string          `gorm:"type:uuid;primaryKey"`
	Name                string          `gorm:"not null"`
	BaseCashbackPercent decimal.Decimal `gorm:"type:numeric(8,4);not null;default:0"`
	BaseRateActive      bool            `gorm:"not null;default:false"`
	Status              string          `gorm:"not null;default:active"`
	CreatedAt           time.Time       `gorm:"not null"`
}

func (Company) TableName() string { return "companies" }

func (company *Company) BeforeCreate(tx *gorm.DB) error {
	if company.CompanyID == "" {
		company.CompanyID = uuid.NewString()
	}
	return nil
}

// Customer mirrors the customers table.
type Customer struct {
	CustomerID string    `gorm:"type:uuid;primaryKey"`
	CompanyID  string    `gorm:"type:uuid;not null;index:idx_customers_company_phone,unique,priority:1"`
	Phone      string    `gorm:"not null;index:idx_customers_company_phone,unique,priority:2"`
	Status     string    `gorm:"not null;default:active"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Customer) TableName() string { return "customers" }

func (customer *Customer) BeforeCreate(tx *gorm.DB) error {
	if customer.CustomerID == "" {
		customer.CustomerID = uuid.NewString()
	}
	return nil
}

// BalanceAccount mirrors the balance_accounts table. The balance column is
// mutated only inside movement transactions.
type BalanceAccount struct {
	AccountID    string    `gorm:"type:uuid;primaryKey"`
	CompanyID    string    `gorm:"type:uuid;not null;index:idx_accounts_company_customer,unique,priority:1"`
	CustomerID   string    `gorm:"type:uuid;not null;index:idx_accounts_company_customer,unique,priority:2"`
	BalanceCents int64     `gorm:"not null;default:0"`
	Status       string    `gorm:"not null;default:active"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (BalanceAccount) TableName() string { return "balance_accounts" }

func (account *BalanceAccount) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// Promotion mirrors the promotions table.
type Promotion struct {
	PromotionID        string          `gorm:"type:uuid;primaryKey"`
	CompanyID          string          `gorm:"type:uuid;not null;index:idx_promotions_company_status,priority:1"`
	Type               string          `gorm:"not null"`
	Status             string          `gorm:"not null;index:idx_promotions_company_status,priority:2"`
	StartsAt           time.Time       `gorm:"not null"`
	EndsAt             *time.Time      `gorm:""`
	Priority           int             `gorm:"not null;default:0"`
	MinPurchaseCents   int64           `gorm:"not null;default:0"`
	MaxUsesPerCustomer int64           `gorm:"not null;default:0"`
	MaxTotalUses       int64           `gorm:"not null;default:0"`
	CurrentTotalUses   int64           `gorm:"not null;default:0"`
	Percent            decimal.Decimal `gorm:"type:numeric(8,4);not null;default:0"`
	FixedCents         int64           `gorm:"not null;default:0"`
	MaxPerTxCents      int64           `gorm:"not null;default:0"`
	CreatedAt          time.Time       `gorm:"not null"`
}

func (Promotion) TableName() string { return "promotions" }

func (promotion *Promotion) BeforeCreate(tx *gorm.DB) error {
	if promotion.PromotionID == "" {
		promotion.PromotionID = uuid.NewString()
	}
	return nil
}

// PromotionUsage mirrors the promotion_usages table. The unique index on
// transaction_id enforces "at most one promotion per transaction".
type PromotionUsage struct {
	UsageID       string    `gorm:"type:uuid;primaryKey"`
	PromotionID   string    `gorm:"type:uuid;not null;index:idx_usages_promotion_customer,priority:1"`
	CustomerID    string    `gorm:"type:uuid;not null;index:idx_usages_promotion_customer,priority:2"`
	TransactionID string    `gorm:"type:uuid;not null;index:uniq_usage_transaction,unique"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (PromotionUsage) TableName() string { return "promotion_usages" }

func (usage *PromotionUsage) BeforeCreate(tx *gorm.DB) error {
	if usage.UsageID == "" {
		usage.UsageID = uuid.NewString()
	}
	return nil
}

// Transaction mirrors the append-only transactions table.
type Transaction struct {
	TransactionID        string         `gorm:"type:uuid;primaryKey"`
	AccountID            string         `gorm:"type:uuid;not null;index:idx_transactions_account_created,priority:1"`
	Kind                 string         `gorm:"not null"`
	Status               string         `gorm:"not null"`
	PurchaseAmountCents  int64          `gorm:"not null;default:0"`
	CashbackAccruedCents int64          `gorm:"not null;default:0"`
	CashbackSpentCents   int64          `gorm:"not null;default:0"`
	BalanceAfterCents    int64          `gorm:"not null"`
	EmployeeID           string         `gorm:"not null"`
	OutletID             *string        `gorm:""`
	PromotionID          *string        `gorm:"type:uuid"`
	Metadata             datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt            time.Time      `gorm:"not null;index:idx_transactions_account_created,priority:2"`
}

func (Transaction) TableName() string { return "transactions" }

func (transaction *Transaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// OtpChallenge mirrors the otp_challenges table.
type OtpChallenge struct {
	ChallengeID string    `gorm:"type:uuid;primaryKey"`
	AccountID   string    `gorm:"type:uuid;not null;index:idx_challenges_account_purpose,priority:1"`
	Purpose     string    `gorm:"not null;index:idx_challenges_account_purpose,priority:2"`
	CodeHash    string    `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null"`
	Used        bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (OtpChallenge) TableName() string { return "otp_challenges" }

func (challenge *OtpChallenge) BeforeCreate(tx *gorm.DB) error {
	if challenge.ChallengeID == "" {
		challenge.ChallengeID = uuid.NewString()
	}
	return nil
}

// Models returns every table mapped by this store, for AutoMigrate.
func Models() []any {
	return []any{
		&Company{},
		&Customer{},
		&BalanceAccount{},
		&Promotion{},
		&PromotionUsage{},
		&Transaction{},
		&OtpChallenge{},
	}
}
