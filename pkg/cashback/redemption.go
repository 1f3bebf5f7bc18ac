package cashback

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// RequestSpendOtp opens the two-phase redemption protocol. It quotes the
// spendable amount as min(balance, purchase), supersedes any prior pending
// challenge for the account, stores only the HMAC of a fresh code, and
// dispatches the plaintext through the notification channel. The quote is not
// a commitment: the balance is re-read at confirm time.
func (service *Service) RequestSpendOtp(ctx context.Context, companyID CompanyID, customerPhone Phone, purchase PurchaseAmount, employeeID EmployeeID) (SpendQuote, error) {
	customer, err := service.lookupActiveCustomer(ctx, companyID, customerPhone)
	if err != nil {
		return SpendQuote{}, err
	}

	var quote SpendQuote
	var plaintextCode string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetOrCreateAccount(ctx, companyID, customer.ID)
		if err != nil {
			return err
		}
		if account.Status != AccountStatusActive {
			return ErrAccountInactive
		}
		if account.BalanceCents <= 0 {
			return ErrInsufficientBalance
		}
		amountToSpend := account.BalanceCents
		if purchase.Cents() < amountToSpend {
			amountToSpend = purchase.Cents()
		}
		if err := transactionStore.SupersedeChallenges(ctx, account.ID, OtpPurposeSpend); err != nil {
			return err
		}
		code, err := service.codeGenerator.Generate(service.otpCodeLength)
		if err != nil {
			return fmt.Errorf("generate otp code: %w", err)
		}
		nowUnixUTC := service.nowFn()
		if _, err := transactionStore.InsertChallenge(ctx, OtpChallenge{
			AccountID:        account.ID,
			Purpose:          OtpPurposeSpend,
			CodeHash:         service.hashOtpCode(account.ID, OtpPurposeSpend, code),
			ExpiresAtUnixUTC: nowUnixUTC + service.otpTTLSeconds,
			CreatedUnixUTC:   nowUnixUTC,
		}); err != nil {
			return err
		}
		plaintextCode = code
		quote = SpendQuote{AmountToSpendCents: amountToSpend, MaskedPhone: customer.Phone.Masked()}
		return nil
	})
	if operationError == nil {
		if sendErr := service.sender.SendCode(ctx, customer.Phone, plaintextCode); sendErr != nil {
			operationError = fmt.Errorf("%w: %v", ErrOtpSendingFailed, sendErr)
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationRequestSpend,
		CompanyID:  companyID,
		CustomerID: customer.ID,
		EmployeeID: employeeID,
		Kind:       TransactionSpend,
		Amount:     quote.AmountToSpendCents,
		Error:      operationError,
	})
	if operationError != nil {
		return SpendQuote{}, operationError
	}
	return quote, nil
}

// ConfirmSpend closes the protocol: it verifies the pending challenge, marks
// it used (single-use, never re-debitable), re-reads the balance under a row
// lock, and debits min(current balance, purchase) through the ledger.
func (service *Service) ConfirmSpend(ctx context.Context, companyID CompanyID, customerPhone Phone, otpCode string, purchase PurchaseAmount, employeeID EmployeeID) (Transaction, error) {
	customer, err := service.lookupActiveCustomer(ctx, companyID, customerPhone)
	if err != nil {
		return Transaction{}, err
	}
	otpCode = strings.TrimSpace(otpCode)
	if otpCode == "" {
		return Transaction{}, fmt.Errorf("%w: empty code", ErrInvalidOtp)
	}

	var stored Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetOrCreateAccount(ctx, companyID, customer.ID)
		if err != nil {
			return err
		}
		challenge, err := transactionStore.GetPendingChallenge(ctx, account.ID, OtpPurposeSpend)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		if nowUnixUTC > challenge.ExpiresAtUnixUTC {
			return ErrOtpExpired
		}
		expected := service.hashOtpCode(account.ID, OtpPurposeSpend, otpCode)
		if !hmac.Equal([]byte(expected), []byte(challenge.CodeHash)) {
			return ErrInvalidOtp
		}
		if err := transactionStore.MarkChallengeUsed(ctx, challenge.ID); err != nil {
			return err
		}
		locked, err := transactionStore.GetAccountForUpdate(ctx, account.ID)
		if err != nil {
			return err
		}
		amountToSpend := locked.BalanceCents
		if purchase.Cents() < amountToSpend {
			amountToSpend = purchase.Cents()
		}
		if amountToSpend <= 0 {
			return ErrInsufficientBalance
		}
		balanceAfter := locked.BalanceCents - amountToSpend
		if err := transactionStore.UpdateAccountBalance(ctx, account.ID, balanceAfter); err != nil {
			return err
		}
		stored, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:           account.ID,
			Kind:                TransactionSpend,
			Status:              TransactionStatusCompleted,
			PurchaseAmountCents: purchase.Cents(),
			CashbackSpentCents:  amountToSpend,
			BalanceAfterCents:   balanceAfter,
			EmployeeID:          employeeID,
			Metadata:            defaultMetadata(),
			CreatedUnixUTC:      nowUnixUTC,
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationConfirmSpend,
		CompanyID:  companyID,
		CustomerID: customer.ID,
		EmployeeID: employeeID,
		Kind:       TransactionSpend,
		Amount:     stored.CashbackSpentCents,
		Error:      operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return stored, nil
}

// hashOtpCode binds the HMAC to the account and purpose so a code issued for
// one account can never verify against another.
func (service *Service) hashOtpCode(accountID AccountID, purpose OtpPurpose, code string) string {
	mac := hmac.New(sha256.New, service.otpSecret)
	mac.Write([]byte(accountID.String()))
	mac.Write([]byte{0})
	mac.Write([]byte(purpose.String()))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

type cryptoCodeGenerator struct{}

var decimalDigits = big.NewInt(10)

// Generate returns length random decimal digits from crypto/rand.
func (cryptoCodeGenerator) Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultOtpCodeLength
	}
	var builder strings.Builder
	builder.Grow(length)
	for index := 0; index < length; index++ {
		digit, err := rand.Int(rand.Reader, decimalDigits)
		if err != nil {
			return "", err
		}
		builder.WriteString(digit.String())
	}
	return builder.String(), nil
}
