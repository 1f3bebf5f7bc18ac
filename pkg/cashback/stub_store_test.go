package cashback

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

// stubStore is an in-memory Store for exercising the service logic.
type stubStore struct {
	customers    map[string]CustomerAccount
	basePercents map[string]decimal.Decimal
	accounts     map[string]*BalanceAccount
	accountKeys  map[string]string
	promotions   []*Promotion
	usages       []PromotionUsage
	transactions []Transaction
	challenges   []*OtpChallenge
	nextID       int

	findCustomerError      error
	listPromotionsError    error
	countUsesError         error
	insertTransactionError error
	incrementError         error
	updateBalanceError     error
	insertChallengeError   error
}

func newStubStore() *stubStore {
	return &stubStore{
		customers:    map[string]CustomerAccount{},
		basePercents: map[string]decimal.Decimal{},
		accounts:     map[string]*BalanceAccount{},
		accountKeys:  map[string]string{},
	}
}

func (store *stubStore) nextIdentifier(prefix string) string {
	store.nextID++
	return fmt.Sprintf("%s-%d", prefix, store.nextID)
}

func (store *stubStore) addCustomer(companyID CompanyID, customerID CustomerID, phone Phone, active bool) {
	store.customers[companyID.String()+"|"+phone.String()] = CustomerAccount{
		ID:        customerID,
		CompanyID: companyID,
		Phone:     phone,
		Active:    active,
	}
}

func (store *stubStore) setBalance(test *testing.T, companyID CompanyID, customerID CustomerID, balanceCents int64) AccountID {
	test.Helper()
	account, err := store.GetOrCreateAccount(context.Background(), companyID, customerID)
	if err != nil {
		test.Fatalf("get or create account: %v", err)
	}
	store.accounts[account.ID.String()].BalanceCents = AmountCents(balanceCents)
	return account.ID
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) FindCustomerByPhone(ctx context.Context, companyID CompanyID, phone Phone) (CustomerAccount, error) {
	if store.findCustomerError != nil {
		return CustomerAccount{}, store.findCustomerError
	}
	customer, found := store.customers[companyID.String()+"|"+phone.String()]
	if !found {
		return CustomerAccount{}, ErrCustomerNotFound
	}
	return customer, nil
}

func (store *stubStore) GetBaseCashbackPercent(ctx context.Context, companyID CompanyID) (decimal.Decimal, error) {
	return store.basePercents[companyID.String()], nil
}

func (store *stubStore) GetOrCreateAccount(ctx context.Context, companyID CompanyID, customerID CustomerID) (BalanceAccount, error) {
	key := companyID.String() + "|" + customerID.String()
	if accountID, found := store.accountKeys[key]; found {
		return *store.accounts[accountID], nil
	}
	accountID, err := NewAccountID(store.nextIdentifier("acct"))
	if err != nil {
		return BalanceAccount{}, err
	}
	account := &BalanceAccount{
		ID:         accountID,
		CompanyID:  companyID,
		CustomerID: customerID,
		Status:     AccountStatusActive,
	}
	store.accounts[accountID.String()] = account
	store.accountKeys[key] = accountID.String()
	return *account, nil
}

func (store *stubStore) GetAccountForUpdate(ctx context.Context, accountID AccountID) (BalanceAccount, error) {
	account, found := store.accounts[accountID.String()]
	if !found {
		return BalanceAccount{}, ErrCustomerNotFound
	}
	return *account, nil
}

func (store *stubStore) UpdateAccountBalance(ctx context.Context, accountID AccountID, balanceCents AmountCents) error {
	if store.updateBalanceError != nil {
		return store.updateBalanceError
	}
	account, found := store.accounts[accountID.String()]
	if !found {
		return ErrCustomerNotFound
	}
	account.BalanceCents = balanceCents
	return nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction Transaction) (Transaction, error) {
	if store.insertTransactionError != nil {
		return Transaction{}, store.insertTransactionError
	}
	transactionID, err := NewTransactionID(store.nextIdentifier("txn"))
	if err != nil {
		return Transaction{}, err
	}
	transaction.ID = transactionID
	store.transactions = append(store.transactions, transaction)
	return transaction, nil
}

func (store *stubStore) ListTransactions(ctx context.Context, accountID AccountID, limit int) ([]Transaction, error) {
	listed := make([]Transaction, 0, limit)
	for index := len(store.transactions) - 1; index >= 0 && len(listed) < limit; index-- {
		if store.transactions[index].AccountID == accountID {
			listed = append(listed, store.transactions[index])
		}
	}
	return listed, nil
}

func (store *stubStore) ListActivePromotions(ctx context.Context, companyID CompanyID, atUnixUTC int64) ([]Promotion, error) {
	if store.listPromotionsError != nil {
		return nil, store.listPromotionsError
	}
	active := make([]Promotion, 0, len(store.promotions))
	for _, promotion := range store.promotions {
		if promotion.CompanyID == companyID && promotion.ActiveAt(atUnixUTC) {
			active = append(active, *promotion)
		}
	}
	return active, nil
}

func (store *stubStore) CountPromotionUses(ctx context.Context, promotionID PromotionID, customerID CustomerID) (int64, error) {
	if store.countUsesError != nil {
		return 0, store.countUsesError
	}
	var count int64
	for _, usage := range store.usages {
		if usage.PromotionID == promotionID && usage.CustomerID == customerID {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) InsertPromotionUsage(ctx context.Context, usage PromotionUsage) error {
	for _, existing := range store.usages {
		if existing.TransactionID == usage.TransactionID {
			return ErrPromotionAlreadyUsed
		}
	}
	store.usages = append(store.usages, usage)
	return nil
}

func (store *stubStore) IncrementPromotionUses(ctx context.Context, promotionID PromotionID) error {
	if store.incrementError != nil {
		return store.incrementError
	}
	for _, promotion := range store.promotions {
		if promotion.ID == promotionID {
			if promotion.MaxTotalUses > 0 && promotion.CurrentTotalUses >= promotion.MaxTotalUses {
				return ErrPromotionLimitExceeded
			}
			promotion.CurrentTotalUses++
			return nil
		}
	}
	return ErrPromotionLimitExceeded
}

func (store *stubStore) GetPendingChallenge(ctx context.Context, accountID AccountID, purpose OtpPurpose) (OtpChallenge, error) {
	for index := len(store.challenges) - 1; index >= 0; index-- {
		challenge := store.challenges[index]
		if challenge.AccountID == accountID && challenge.Purpose == purpose && !challenge.Used {
			return *challenge, nil
		}
	}
	return OtpChallenge{}, ErrOtpNotFound
}

func (store *stubStore) SupersedeChallenges(ctx context.Context, accountID AccountID, purpose OtpPurpose) error {
	for _, challenge := range store.challenges {
		if challenge.AccountID == accountID && challenge.Purpose == purpose {
			challenge.Used = true
		}
	}
	return nil
}

func (store *stubStore) InsertChallenge(ctx context.Context, challenge OtpChallenge) (OtpChallenge, error) {
	if store.insertChallengeError != nil {
		return OtpChallenge{}, store.insertChallengeError
	}
	challengeID, err := NewChallengeID(store.nextIdentifier("chal"))
	if err != nil {
		return OtpChallenge{}, err
	}
	challenge.ID = challengeID
	stored := challenge
	store.challenges = append(store.challenges, &stored)
	return stored, nil
}

func (store *stubStore) MarkChallengeUsed(ctx context.Context, challengeID ChallengeID) error {
	for _, challenge := range store.challenges {
		if challenge.ID == challengeID {
			if challenge.Used {
				return ErrOtpNotFound
			}
			challenge.Used = true
			return nil
		}
	}
	return ErrOtpNotFound
}

// stubSender records dispatched codes.
type stubSender struct {
	sent []string
	to   []Phone
	err  error
}

func (sender *stubSender) SendCode(ctx context.Context, destination Phone, code string) error {
	if sender.err != nil {
		return sender.err
	}
	sender.sent = append(sender.sent, code)
	sender.to = append(sender.to, destination)
	return nil
}

// stubCodeGenerator returns a fixed code.
type stubCodeGenerator struct {
	code string
}

func (generator stubCodeGenerator) Generate(length int) (string, error) {
	return generator.code, nil
}

// stubClock is a settable unix-seconds clock.
type stubClock struct {
	now int64
}

func (clock *stubClock) Now() int64 {
	return clock.now
}

func mustCompanyID(test *testing.T, raw string) CompanyID {
	test.Helper()
	id, err := NewCompanyID(raw)
	if err != nil {
		test.Fatalf("company id: %v", err)
	}
	return id
}

func mustCustomerID(test *testing.T, raw string) CustomerID {
	test.Helper()
	id, err := NewCustomerID(raw)
	if err != nil {
		test.Fatalf("customer id: %v", err)
	}
	return id
}

func mustEmployeeID(test *testing.T, raw string) EmployeeID {
	test.Helper()
	id, err := NewEmployeeID(raw)
	if err != nil {
		test.Fatalf("employee id: %v", err)
	}
	return id
}

func mustPromotionID(test *testing.T, raw string) PromotionID {
	test.Helper()
	id, err := NewPromotionID(raw)
	if err != nil {
		test.Fatalf("promotion id: %v", err)
	}
	return id
}

func mustPhone(test *testing.T, raw string) Phone {
	test.Helper()
	phone, err := NewPhone(raw)
	if err != nil {
		test.Fatalf("phone: %v", err)
	}
	return phone
}

func mustPurchase(test *testing.T, raw string) PurchaseAmount {
	test.Helper()
	purchase, err := ParsePurchaseAmount(raw)
	if err != nil {
		test.Fatalf("purchase amount: %v", err)
	}
	return purchase
}

func mustPercentConfig(test *testing.T, percent string, capCents int64) CashbackConfig {
	test.Helper()
	parsed, err := decimal.NewFromString(percent)
	if err != nil {
		test.Fatalf("percent: %v", err)
	}
	config, err := NewPercentConfig(parsed, AmountCents(capCents))
	if err != nil {
		test.Fatalf("percent config: %v", err)
	}
	return config
}

func mustFixedConfig(test *testing.T, fixedCents int64, capCents int64) CashbackConfig {
	test.Helper()
	config, err := NewFixedConfig(AmountCents(fixedCents), AmountCents(capCents))
	if err != nil {
		test.Fatalf("fixed config: %v", err)
	}
	return config
}
