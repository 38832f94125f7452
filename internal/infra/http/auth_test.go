package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key any) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("не удалось подписать токен: %v", err)
	}
	return token
}

func callProtected(token string) (*httptest.ResponseRecorder, *http.Request) {
	var captured *http.Request
	handler := AuthMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/configs", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, captured
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":   "user-1",
		"email": "u@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256, []byte(testSecret))

	rec, captured := callProtected(token)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if UserID(captured) != "user-1" {
		t.Fatalf("subject должен попасть в контекст")
	}
	if UserEmail(captured) != "u@example.com" {
		t.Fatalf("email должен попасть в контекст")
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	expired := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, jwt.SigningMethodHS256, []byte(testSecret))
	wrongKey := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256, []byte("other-secret"))
	noSubject := signToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256, []byte(testSecret))

	cases := map[string]string{
		"без токена":     "",
		"мусорный токен": "not.a.jwt",
		"просроченный":   expired,
		"чужой ключ":     wrongKey,
		"без subject":    noSubject,
	}
	for name, token := range cases {
		rec, _ := callProtected(token)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: ожидали 401, получили %d", name, rec.Code)
		}
	}
}
