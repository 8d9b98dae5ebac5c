// Package middleware содержит HTTP middleware коммерческого сервиса.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avoronin/dealermarket-system/internal/model"
)

type contextKey string

const accountKey contextKey = "account"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 365 * 24 * time.Hour
)

// Identity — аутентифицированная учётная запись запроса.
type Identity struct {
	AccountID int64
	Kind      model.AccountKind
}

// AuthMiddleware выполняет проверку аутентификации по подписанному cookie.
// Cookie несёт идентификатор и тип учётной записи, подписанные HMAC-SHA256.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware требует валидный cookie авторизации и добавляет учётную
// запись в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := a.identityFromRequest(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional добавляет учётную запись в контекст, если cookie присутствует
// и валиден, и пропускает запрос дальше в любом случае. Используется на
// маршрутах корзины, доступных гостям.
func (a *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity, ok := a.identityFromRequest(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), accountKey, identity))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireKind требует аутентификацию учётной записью одного из указанных типов.
func (a *AuthMiddleware) RequireKind(kinds ...model.AccountKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := AccountFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			for _, k := range kinds {
				if identity.Kind == k {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		}))
	}
}

func (a *AuthMiddleware) identityFromRequest(r *http.Request) (Identity, bool) {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return Identity{}, false
	}
	return a.parseCookie(cookie.Value)
}

// SetAuthCookie устанавливает cookie авторизации для учётной записи.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, accountID int64, kind model.AccountKind) {
	value := a.sign(payload(accountID, kind))

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func payload(accountID int64, kind model.AccountKind) string {
	return strconv.FormatInt(accountID, 10) + ":" + string(kind)
}

func (a *AuthMiddleware) sign(p string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(p))
	return p + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (Identity, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 2 {
		return Identity{}, false
	}

	p := parts[0]
	signature := parts[1]

	expected := strings.Split(a.sign(p), ".")
	if len(expected) != 2 || !hmac.Equal([]byte(signature), []byte(expected[1])) {
		return Identity{}, false
	}

	fields := strings.Split(p, ":")
	if len(fields) != 2 {
		return Identity{}, false
	}

	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Identity{}, false
	}

	kind := model.AccountKind(fields[1])
	switch kind {
	case model.AccountKindCustomer, model.AccountKindDealer, model.AccountKindAdmin:
	default:
		return Identity{}, false
	}

	return Identity{AccountID: id, Kind: kind}, true
}

// AccountFromContext извлекает учётную запись из контекста запроса.
func AccountFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(accountKey).(Identity)
	return identity, ok
}
