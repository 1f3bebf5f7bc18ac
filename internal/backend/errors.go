package backend

import (
	"errors"
	"net/http"

	"github.com/perkwise/cashback/pkg/cashback"
)

const (
	errorCustomerNotFound    = "customer_not_found"
	errorAccountInactive     = "account_inactive"
	errorInvalidPurchase     = "invalid_purchase_amount"
	errorInsufficientBalance = "insufficient_balance"
	errorPromotionLimit      = "promotion_limit_exceeded"
	errorCrossCompany        = "cross_company_mismatch"
	errorOtpNotFound         = "otp_not_found"
	errorOtpExpired          = "otp_expired"
	errorInvalidOtp          = "invalid_otp"
	errorOtpSendingFailed    = "otp_sending_failed"
	errorTransientFailure    = "transient_failure"
)

// mapError translates a domain failure kind into an HTTP status and a stable
// error code. Anything unrecognized is a transient storage failure.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, cashback.ErrCustomerNotFound):
		return http.StatusNotFound, errorCustomerNotFound
	case errors.Is(err, cashback.ErrAccountInactive):
		return http.StatusForbidden, errorAccountInactive
	case errors.Is(err, cashback.ErrCrossCompanyMismatch):
		return http.StatusForbidden, errorCrossCompany
	case errors.Is(err, cashback.ErrInvalidPurchaseAmount):
		return http.StatusBadRequest, errorInvalidPurchase
	case errors.Is(err, cashback.ErrInsufficientBalance):
		return http.StatusConflict, errorInsufficientBalance
	case errors.Is(err, cashback.ErrPromotionLimitExceeded):
		return http.StatusConflict, errorPromotionLimit
	case errors.Is(err, cashback.ErrOtpNotFound):
		return http.StatusNotFound, errorOtpNotFound
	case errors.Is(err, cashback.ErrOtpExpired):
		return http.StatusGone, errorOtpExpired
	case errors.Is(err, cashback.ErrInvalidOtp):
		return http.StatusBadRequest, errorInvalidOtp
	case errors.Is(err, cashback.ErrOtpSendingFailed):
		return http.StatusBadGateway, errorOtpSendingFailed
	}
	return http.StatusInternalServerError, errorTransientFailure
}
