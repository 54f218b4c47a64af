/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler: bearer-token
 * authentication, the internal API key check, and review rate limiting.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: HS256 token verification.
 * - github.com/sirupsen/logrus: Structured logging.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/FilPassOps/FilPass-sub000/internal/app"
	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// actorContextKey is a custom type for the context key to avoid collisions.
type actorContextKey string

const actorKey actorContextKey = "actor"

// ActorClaims is the payload of the bearer tokens issued by the auth service.
type ActorClaims struct {
	UserID     int64       `json:"uid"`
	UserRoleID int64       `json:"urid"`
	Role       domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// ReviewLimiter decides whether an approver role may perform another review.
type ReviewLimiter interface {
	Allow(ctx context.Context, userRoleID int64) (app.RateDecision, error)
}

// AuthMiddleware validates HS256 bearer tokens and stores the caller's
// domain.Actor in the request context.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			actor, err := verifyToken(secret, tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyToken(secret []byte, tokenString string) (domain.Actor, error) {
	claims := &ActorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return domain.Actor{}, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid {
		return domain.Actor{}, fmt.Errorf("auth: invalid token")
	}
	if claims.UserID <= 0 || claims.UserRoleID <= 0 {
		return domain.Actor{}, fmt.Errorf("auth: missing user claims")
	}
	switch claims.Role {
	case domain.RoleUser, domain.RoleApprover, domain.RoleSuperAdmin:
	default:
		return domain.Actor{}, fmt.Errorf("auth: invalid role %q in token", claims.Role)
	}
	return domain.Actor{UserID: claims.UserID, UserRoleID: claims.UserRoleID, Role: claims.Role}, nil
}

// ActorFromContext retrieves the authenticated actor from the request context.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}

// InternalKeyMiddleware guards service-to-service routes with the shared
// X-Internal-API-Key header. An empty key closes the routes entirely.
func InternalKeyMiddleware(key string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(key))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := []byte(strings.TrimSpace(r.Header.Get("X-Internal-API-Key")))
			if len(expected) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid internal API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ReviewRateLimit caps review actions per user role. Limiter failures let
// the request through.
func ReviewRateLimit(limiter ReviewLimiter, log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), actor.UserRoleID)
			if err != nil {
				if log != nil {
					log.WithError(err).WithField("user_role_id", actor.UserRoleID).Warn("review rate limiter unavailable")
				}
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
				writeError(w, http.StatusTooManyRequests, "Too many review actions, please slow down")
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}
