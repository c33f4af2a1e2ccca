package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "u1",
		"name": "alice",
		"exp":  exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestValidTokenSkipsRefreshWhenFresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("refresh endpoint must not be called for a fresh token")
	}))
	defer server.Close()

	supplier := NewSupplier(server.URL, 5*time.Minute, nil)
	fresh := mintToken(t, time.Now().Add(time.Hour))
	supplier.SetTokens(fresh, "r1")

	got, err := supplier.ValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, fresh, got)
}

func TestValidTokenRefreshesInsideLeadWindow(t *testing.T) {
	renewed := mintToken(t, time.Now().Add(time.Hour))
	var gotRefresh string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotRefresh = body["refresh_token"]
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  renewed,
			"refresh_token": "r2",
		})
	}))
	defer server.Close()

	supplier := NewSupplier(server.URL, 5*time.Minute, nil)
	// Expires in two minutes, inside the five minute lead.
	supplier.SetTokens(mintToken(t, time.Now().Add(2*time.Minute)), "r1")

	got, err := supplier.ValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, renewed, got)
	require.Equal(t, "r1", gotRefresh)
}

func TestRefreshRejectionWipesAndSignalsAuthRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var authRequired bool
	supplier := NewSupplier(server.URL, 5*time.Minute, func() { authRequired = true })
	supplier.SetTokens(mintToken(t, time.Now().Add(time.Minute)), "r1")

	_, err := supplier.ValidToken(context.Background())
	require.ErrorIs(t, err, ErrCredential)
	require.True(t, authRequired)

	// Both tokens are gone; the next attempt fails locally.
	_, err = supplier.Refresh(context.Background())
	require.ErrorIs(t, err, ErrCredential)
}

func TestRefreshTransportErrorKeepsTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	var authRequired bool
	supplier := NewSupplier(server.URL, 5*time.Minute, func() { authRequired = true })
	supplier.SetTokens(mintToken(t, time.Now().Add(time.Minute)), "r1")

	_, err := supplier.Refresh(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCredential)
	require.False(t, authRequired)
}

func TestRefreshMalformedResponseIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	var authRequired bool
	supplier := NewSupplier(server.URL, 5*time.Minute, func() { authRequired = true })
	supplier.SetTokens("", "r1")

	_, err := supplier.Refresh(context.Background())
	require.ErrorIs(t, err, ErrCredential)
	require.True(t, authRequired)
}

func TestRefreshWithoutRefreshTokenFailsLocally(t *testing.T) {
	supplier := NewSupplier("http://unused", 5*time.Minute, nil)

	_, err := supplier.Refresh(context.Background())
	require.ErrorIs(t, err, ErrCredential)
}
