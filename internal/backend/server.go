package backend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/perkwise/cashback/pkg/cashback"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// CashbackService is the slice of the domain service the façade needs.
type CashbackService interface {
	AccrueCashback(ctx context.Context, companyID cashback.CompanyID, customerPhone cashback.Phone, purchase cashback.PurchaseAmount, outletID *cashback.OutletID, employeeID cashback.EmployeeID) (cashback.AccrualResult, error)
	RequestSpendOtp(ctx context.Context, companyID cashback.CompanyID, customerPhone cashback.Phone, purchase cashback.PurchaseAmount, employeeID cashback.EmployeeID) (cashback.SpendQuote, error)
	ConfirmSpend(ctx context.Context, companyID cashback.CompanyID, customerPhone cashback.Phone, otpCode string, purchase cashback.PurchaseAmount, employeeID cashback.EmployeeID) (cashback.Transaction, error)
	ListTransactions(ctx context.Context, companyID cashback.CompanyID, customerPhone cashback.Phone, limit int) ([]cashback.Transaction, error)
}

// Run boots the HTTP façade and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config, service CashbackService, logger *zap.Logger) error {
	handler := &httpHandler{
		logger:  logger,
		service: service,
	}
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cashbackd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(sessionMiddleware(cfg))

	api.POST("/cashback/accrue", handler.handleAccrue)
	api.POST("/cashback/spend/request", handler.handleRequestSpend)
	api.POST("/cashback/spend/confirm", handler.handleConfirmSpend)
	api.GET("/cashback/history", handler.handleHistory)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service CashbackService
}

type accrueRequest struct {
	CustomerPhone  string          `json:"customer_phone"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
	OutletID       string          `json:"outlet_id"`
}

type spendRequest struct {
	CustomerPhone  string          `json:"customer_phone"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
}

type confirmRequest struct {
	CustomerPhone  string          `json:"customer_phone"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
	OtpCode        string          `json:"otp_code"`
}

type transactionView struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Status          string `json:"status"`
	PurchaseAmount  string `json:"purchase_amount"`
	CashbackAccrued string `json:"cashback_accrued"`
	CashbackSpent   string `json:"cashback_spent"`
	BalanceAfter    string `json:"balance_after"`
	PromotionID     string `json:"promotion_id,omitempty"`
	CreatedUnixUTC  int64  `json:"created_at"`
}

func (handler *httpHandler) handleAccrue(ctx *gin.Context) {
	var request accrueRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	companyID, employeeID, ok := handler.sessionIdentity(ctx)
	if !ok {
		return
	}
	phone, err := cashback.NewPhone(request.CustomerPhone)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_phone"})
		return
	}
	purchase, err := cashback.NewPurchaseAmount(request.PurchaseAmount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidPurchase})
		return
	}
	var outletID *cashback.OutletID
	if request.OutletID != "" {
		parsed, err := cashback.NewOutletID(request.OutletID)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_outlet_id"})
			return
		}
		outletID = &parsed
	}

	result, err := handler.service.AccrueCashback(ctx.Request.Context(), companyID, phone, purchase, outletID, employeeID)
	if err != nil {
		handler.respondError(ctx, "accrue", err)
		return
	}
	if !result.Accrued {
		ctx.JSON(http.StatusOK, gin.H{"accrued": false})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"accrued": true, "transaction": mapTransactionView(result.Transaction)})
}

func (handler *httpHandler) handleRequestSpend(ctx *gin.Context) {
	var request spendRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	companyID, employeeID, ok := handler.sessionIdentity(ctx)
	if !ok {
		return
	}
	phone, err := cashback.NewPhone(request.CustomerPhone)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_phone"})
		return
	}
	purchase, err := cashback.NewPurchaseAmount(request.PurchaseAmount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidPurchase})
		return
	}

	quote, err := handler.service.RequestSpendOtp(ctx.Request.Context(), companyID, phone, purchase, employeeID)
	if err != nil {
		handler.respondError(ctx, "request_spend", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"amount_to_spend": quote.AmountToSpendCents.Decimal().StringFixed(2),
		"masked_phone":    quote.MaskedPhone,
	})
}

func (handler *httpHandler) handleConfirmSpend(ctx *gin.Context) {
	var request confirmRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	companyID, employeeID, ok := handler.sessionIdentity(ctx)
	if !ok {
		return
	}
	phone, err := cashback.NewPhone(request.CustomerPhone)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_phone"})
		return
	}
	purchase, err := cashback.NewPurchaseAmount(request.PurchaseAmount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidPurchase})
		return
	}

	transaction, err := handler.service.ConfirmSpend(ctx.Request.Context(), companyID, phone, request.OtpCode, purchase, employeeID)
	if err != nil {
		handler.respondError(ctx, "confirm_spend", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction": mapTransactionView(transaction)})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	companyID, _, ok := handler.sessionIdentity(ctx)
	if !ok {
		return
	}
	phone, err := cashback.NewPhone(ctx.Query("customer_phone"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_phone"})
		return
	}
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || !parsed.IsInteger() || parsed.Sign() < 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = int(parsed.IntPart())
	}

	transactions, err := handler.service.ListTransactions(ctx.Request.Context(), companyID, phone, limit)
	if err != nil {
		handler.respondError(ctx, "history", err)
		return
	}
	views := make([]transactionView, 0, len(transactions))
	for _, transaction := range transactions {
		views = append(views, mapTransactionView(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": views})
}

func (handler *httpHandler) sessionIdentity(ctx *gin.Context) (cashback.CompanyID, cashback.EmployeeID, bool) {
	companyID, err := cashback.NewCompanyID(ctx.GetString(contextKeyCompanyID))
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return cashback.CompanyID{}, cashback.EmployeeID{}, false
	}
	employeeID, err := cashback.NewEmployeeID(ctx.GetString(contextKeyEmployeeID))
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return cashback.CompanyID{}, cashback.EmployeeID{}, false
	}
	return companyID, employeeID, true
}

func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	status, code := mapError(err)
	if status == http.StatusInternalServerError {
		handler.logger.Error("operation failed", zap.String("operation", operation), zap.Error(err))
	} else {
		handler.logger.Info("operation rejected", zap.String("operation", operation), zap.String("code", code))
	}
	ctx.JSON(status, gin.H{"error": code})
}

func mapTransactionView(transaction cashback.Transaction) transactionView {
	view := transactionView{
		ID:              transaction.ID.String(),
		Kind:            transaction.Kind.String(),
		Status:          string(transaction.Status),
		PurchaseAmount:  transaction.PurchaseAmountCents.Decimal().StringFixed(2),
		CashbackAccrued: transaction.CashbackAccruedCents.Decimal().StringFixed(2),
		CashbackSpent:   transaction.CashbackSpentCents.Decimal().StringFixed(2),
		BalanceAfter:    transaction.BalanceAfterCents.Decimal().StringFixed(2),
		CreatedUnixUTC:  transaction.CreatedUnixUTC,
	}
	if transaction.PromotionID != nil {
		view.PromotionID = transaction.PromotionID.String()
	}
	return view
}
