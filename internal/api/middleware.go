/**
 * @description
 * Authentication middleware for the BeefChain API. Wallet sessions are HS256
 * JWTs issued by the wallet-connect flow; the connected address travels in the
 * "wallet" claim. Server-to-server calls use the shared internal API key.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Token parsing and validation.
 */
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vices1967-beep/beefchain/internal/domain"
)

type contextKey string

const walletContextKey = contextKey("wallet")

// WalletAuthMiddleware validates wallet session tokens and injects the
// canonical wallet address into the request context.
func WalletAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				http.Error(w, "Wallet authentication is not configured", http.StatusServiceUnavailable)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}
			wallet, _ := claims["wallet"].(string)
			if wallet == "" {
				wallet, _ = claims["sub"].(string)
			}
			if _, err := domain.ParseFelt(wallet); err != nil || domain.IsZeroAddress(wallet) {
				http.Error(w, "Wallet address not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), walletContextKey, domain.NormalizeAddress(wallet))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalAuthMiddleware validates the internal API key for server-to-server
// calls. An empty key disables the check.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || provided != requiredKey {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WalletFromContext returns the authenticated wallet address.
func WalletFromContext(ctx context.Context) (string, bool) {
	wallet, ok := ctx.Value(walletContextKey).(string)
	return wallet, ok && wallet != ""
}
