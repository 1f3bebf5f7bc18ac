package cashback

const (
	operationAccrue       = "accrue"
	operationRequestSpend = "request_spend"
	operationConfirmSpend = "confirm_spend"
	operationAdjust       = "adjust"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// DefaultOtpCodeLength is the number of digits in a spend confirmation code.
	DefaultOtpCodeLength = 4
	// DefaultOtpTTLSeconds is how long a spend confirmation code stays valid.
	DefaultOtpTTLSeconds int64 = 300

	maskedPhoneVisiblePrefix = 2
	maskedPhoneVisibleSuffix = 2
)
