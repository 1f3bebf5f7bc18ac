package cashback

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
// Implementations must never receive or log OTP plaintext; the service only
// hands them the fields below.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing cashback operation.
type OperationLog struct {
	Operation   string
	CompanyID   CompanyID
	CustomerID  CustomerID
	EmployeeID  EmployeeID
	PromotionID *PromotionID
	Kind        TransactionKind
	Amount      AmountCents
	Status      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithCodeGenerator overrides the confirmation-code source.
func WithCodeGenerator(generator CodeGenerator) ServiceOption {
	return func(service *Service) {
		service.codeGenerator = generator
	}
}
