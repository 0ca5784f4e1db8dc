package access

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/chandankrroy/erino-backend/core/csql"
	"github.com/chandankrroy/erino-backend/core/logger"
)

// SessionCookie is the name of the cookie carrying the session token for
// browser clients. API clients use the Authorization header instead.
const SessionCookie = "Erino-JWT"

// TokenClaims are the claims carried by an erino session token.
type TokenClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// NewToken issues a signed HS256 session token for the given user.
func NewToken(secret string, userID int64, email string, validity time.Duration) (string, error) {
	claims := TokenClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// JwtMiddlewareBuilder is a helper builder for JwtMiddleware
type JwtMiddlewareBuilder struct {
	// Secret is the HS256 signing secret shared with the token issuer
	Secret string
	// DB is the postgres database. Must have the users relation created
	// by the account package.
	DB *csql.DB
}

// NewJwtMiddleware returns a middleware handler to validate JWT session token.
//
// Tokens are accepted as "Authorization: Bearer" header or as
// Erino-JWT cookie.
//
// The middleware authenticates the requester and stores an Authorization
// in the request context. A request without token passes through without
// authorization; the resource handlers decide whether that is acceptable.
// An invalid or expired token is answered with http.StatusUnauthorized.
//
// The token owner is verified against the users relation once per token;
// subsequent requests with the same token are answered from an in-process
// cache.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {

	userQuery := fmt.Sprintf("SELECT id, email FROM %s.users WHERE id=$1;", jmb.DB.Schema)
	authCache := NewAuthorizationCache()

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(jmb.Secret), nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := AuthorizationFromContext(r.Context())
			if auth != nil { // we are already authorized
				h.ServeHTTP(w, r)
				return
			}

			rlog := logger.FromContext(r.Context())

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 && bearer != "null" {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				} else {
					tokenString = bearer
				}
			} else if cookie, _ := r.Cookie(SessionCookie); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			claims := TokenClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc)
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			identity := claims.Email

			// now that we have authenticated the requester, we store their identity in the context
			ctx := ContextWithIdentity(r.Context(), identity)
			ctx, rlog = logger.ContextWithLoggerIdentity(ctx, identity)

			// look up the account for the token. We do this by tokenString, and not
			// by user id, so a fresh token enforces a fresh database lookup.
			auth = authCache.Read(tokenString)
			if auth == nil {
				var userID int64
				var email string
				err = jmb.DB.QueryRow(userQuery, claims.UserID).Scan(&userID, &email)
				if err == csql.ErrNoRows {
					http.Error(w, "no account for "+identity, http.StatusUnauthorized)
					return
				}
				if err != nil {
					rlog.WithError(err).Errorf("Error 4723: cannot execute user query `%s`", userQuery)
					http.Error(w, "Error 4723", http.StatusInternalServerError)
					return
				}
				auth = &Authorization{UserID: userID, Email: email}
				authCache.Write(tokenString, auth)
			}

			ctx = ContextWithAuthorization(ctx, auth)
			r = r.WithContext(ctx)
			h.ServeHTTP(w, r)
		})
	}
}
