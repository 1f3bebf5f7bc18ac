package cashback

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the cashback service.
var (
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrAccountInactive        = errors.New("account inactive")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrPromotionLimitExceeded = errors.New("promotion usage limit exceeded")
	ErrPromotionAlreadyUsed   = errors.New("promotion already applied to transaction")
	ErrCrossCompanyMismatch   = errors.New("employee and customer belong to different companies")
	ErrOtpNotFound            = errors.New("otp challenge not found")
	ErrOtpExpired             = errors.New("otp challenge expired")
	ErrInvalidOtp             = errors.New("invalid otp code")
	ErrOtpSendingFailed       = errors.New("otp sending failed")

	ErrInvalidCompanyID       = errors.New("invalid company id")
	ErrInvalidCustomerID      = errors.New("invalid customer id")
	ErrInvalidEmployeeID      = errors.New("invalid employee id")
	ErrInvalidOutletID        = errors.New("invalid outlet id")
	ErrInvalidAccountID       = errors.New("invalid account id")
	ErrInvalidPromotionID     = errors.New("invalid promotion id")
	ErrInvalidTransactionID   = errors.New("invalid transaction id")
	ErrInvalidChallengeID     = errors.New("invalid challenge id")
	ErrInvalidPhone           = errors.New("invalid phone")
	ErrInvalidPurchaseAmount  = errors.New("invalid purchase amount")
	ErrInvalidAmountCents     = errors.New("invalid amount cents")
	ErrInvalidCashbackConfig  = errors.New("invalid cashback config")
	ErrInvalidPromotionType   = errors.New("invalid promotion type")
	ErrInvalidPromotionStatus = errors.New("invalid promotion status")
	ErrInvalidTransactionKind = errors.New("invalid transaction kind")
	ErrInvalidOtpPurpose      = errors.New("invalid otp purpose")
	ErrInvalidMetadataJSON    = errors.New("invalid metadata json")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
	ErrInvalidBalance         = errors.New("invalid balance")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
