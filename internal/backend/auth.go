package backend

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyEmployeeID = "employee_id"
	contextKeyCompanyID  = "company_id"
	bearerPrefix         = "Bearer "
)

type sessionClaims struct {
	EmployeeID string `json:"employee_id"`
	CompanyID  string `json:"company_id"`
	jwt.RegisteredClaims
}

// sessionMiddleware authenticates employee sessions from the session cookie or
// an Authorization bearer token and exposes employee/company ids to handlers.
func sessionMiddleware(cfg Config) gin.HandlerFunc {
	signingKey := []byte(cfg.SessionSigningKey)
	return func(ctx *gin.Context) {
		tokenString := extractToken(ctx, cfg.SessionCookieName)
		if tokenString == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session token"})
			return
		}
		claims := &sessionClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return signingKey, nil
		}, jwt.WithIssuer(cfg.SessionIssuer), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}
		if strings.TrimSpace(claims.EmployeeID) == "" || strings.TrimSpace(claims.CompanyID) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "incomplete session claims"})
			return
		}
		ctx.Set(contextKeyEmployeeID, claims.EmployeeID)
		ctx.Set(contextKeyCompanyID, claims.CompanyID)
		ctx.Next()
	}
}

func extractToken(ctx *gin.Context, cookieName string) string {
	if cookie, err := ctx.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	header := ctx.GetHeader("Authorization")
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimPrefix(header, bearerPrefix)
	}
	return ""
}
