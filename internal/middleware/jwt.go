package middleware

import (
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/roomchat/internal/logger"
)

// Claims: полезная нагрузка токена, выданного сервисом авторизации.
// Идентификатор пользователя лежит в "id"; если его нет, берётся "sub".
type Claims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

func (c *Claims) userID() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Subject
}

// ParseToken проверяет подпись (HS256) и срок действия токена.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.userID() == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// JWTAuth пропускает запрос дальше только с валидным токеном; иначе 401 до апгрейда соединения.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := bearerToken(r)
			if tok == "" {
				unauthorized(w)
				return
			}
			claims, err := ParseToken(key, tok)
			if err != nil {
				if !errors.Is(err, jwt.ErrTokenExpired) {
					logger.Debugf("jwt rejected token=%s: %v", MaskToken(tok), err)
				}
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.userID())))
		})
	}
}
