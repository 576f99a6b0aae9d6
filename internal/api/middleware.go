/**
 * @description
 * This file contains custom middleware for the HTTP router. The JWT middleware
 * authenticates the caller, resolves the origin account identity from the
 * token's subject claim, and keeps the raw bearer token available so it can be
 * forwarded to the ledger service as the downstream credential.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: Token parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// authContextKey is a custom type for context keys to avoid collisions.
type authContextKey string

const (
	accountIDKey  authContextKey = "originAccountID"
	credentialKey authContextKey = "credential"
)

// JWTAuthMiddleware creates a middleware that validates HMAC-signed JWT tokens
// issued by the platform's auth service. The `sub` claim carries the origin
// account id; the raw token is retained as the credential forwarded downstream.
func JWTAuthMiddleware(secret, issuer, audience string) func(http.Handler) http.Handler {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusForbidden)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusForbidden)
				return
			}

			parseOptions := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
			if issuer != "" {
				parseOptions = append(parseOptions, jwt.WithIssuer(issuer))
			}
			if audience != "" {
				parseOptions = append(parseOptions, jwt.WithAudience(audience))
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			}, parseOptions...)
			if err != nil || !token.Valid {
				http.Error(w, "Invalid or expired token", http.StatusForbidden)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusForbidden)
				return
			}

			subject, ok := claims["sub"].(string)
			if !ok {
				http.Error(w, "Account id not found in token", http.StatusForbidden)
				return
			}
			accountID, err := uuid.Parse(subject)
			if err != nil {
				http.Error(w, "Invalid account id in token", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), accountIDKey, accountID)
			ctx = context.WithValue(ctx, credentialKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOriginAccountID retrieves the authenticated origin account id from the
// request context.
func GetOriginAccountID(ctx context.Context) (uuid.UUID, bool) {
	accountID, ok := ctx.Value(accountIDKey).(uuid.UUID)
	return accountID, ok
}

// GetCredential retrieves the raw bearer token to forward to the ledger service.
func GetCredential(ctx context.Context) (string, bool) {
	credential, ok := ctx.Value(credentialKey).(string)
	return credential, ok
}
