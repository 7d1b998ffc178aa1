package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/periskope/periskope/internal/chat"
	"github.com/periskope/periskope/internal/types"
)

const (
	defaultJwtExpiration = time.Hour * 24
	tokenCookieKey       = "token"

	userIdClaim = "user-id"
	emailClaim  = "email"
	nameClaim   = "name"
	expClaim    = "exp"
)

type contextKey string

const sessionKey contextKey = "session"

func WithSession(ctx context.Context, sess chat.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFrom returns the authenticated session placed in the context by the
// auth middleware.
func SessionFrom(ctx context.Context) (chat.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(chat.Session)
	return sess, ok
}

func (s *PeriskopeApp) createJwtForSession(user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: user.Id,
		emailClaim:  user.Email,
		nameClaim:   user.FullName,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *PeriskopeApp) sessionFromToken(tokenString string) (chat.Session, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return chat.Session{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return chat.Session{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return chat.Session{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return chat.Session{}, fmt.Errorf("invalid user id claim")
	}

	sess := chat.Session{UserId: userId}
	if email, ok := claims[emailClaim].(string); ok {
		sess.Email = email
	}
	if name, ok := claims[nameClaim].(string); ok {
		sess.FullName = name
	}

	return sess, nil
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
