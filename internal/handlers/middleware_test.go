package handlers

import (
	"errors"
	"net/http"
	"testing"

	"weather_station/internal/service"
)

func TestUserIdMiddleware_MissingHeader(t *testing.T) {
	auth := &mockAuth{}
	router := newTestRouter(&service.Service{Authorization: auth, Weather: &mockWeather{}, EventLog: &mockEventLog{}})

	w := performJSON(t, router, http.MethodGet, "/api/v1/weather/snapshot", nil, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if auth.lastVerifyToken != "" {
		t.Errorf("VerifyToken must not run without a header")
	}
}

func TestUserIdMiddleware_MalformedHeader(t *testing.T) {
	auth := &mockAuth{}
	router := newTestRouter(&service.Service{Authorization: auth, Weather: &mockWeather{}, EventLog: &mockEventLog{}})

	h := http.Header{}
	h.Set("Authorization", "Basic dXNlcjpwdw==")
	w := performJSON(t, router, http.MethodGet, "/api/v1/weather/snapshot", nil, h)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-Bearer scheme, got %d", w.Code)
	}
}

func TestUserIdMiddleware_InvalidToken(t *testing.T) {
	auth := &mockAuth{verifyErr: errors.New("expired")}
	router := newTestRouter(&service.Service{Authorization: auth, Weather: &mockWeather{}, EventLog: &mockEventLog{}})

	w := performJSON(t, router, http.MethodGet, "/api/v1/weather/snapshot", nil, authHeader("bad-token"))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if auth.lastVerifyToken != "bad-token" {
		t.Errorf("expected token forwarded to VerifyToken, got %q", auth.lastVerifyToken)
	}
}

func TestUserIdMiddleware_ValidToken(t *testing.T) {
	auth := &mockAuth{verifyID: 9}
	router := newTestRouter(&service.Service{Authorization: auth, Weather: &mockWeather{}, EventLog: &mockEventLog{}})

	w := performJSON(t, router, http.MethodGet, "/api/v1/weather/snapshot", nil, authHeader("good-token"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
