package onboarding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestAccountFetchesFromCollaborator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/units/10/account", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"account_ref":"acct-10","transfer_capable":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil, 0)
	account, err := client.Account(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, account.TransferCapable)
	require.Equal(t, "acct-10", account.Ref)
}

func TestAccountUnknownUnitIsNotCapable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil, 0)
	account, err := client.Account(context.Background(), 99)
	require.NoError(t, err)
	require.False(t, account.TransferCapable)
}

func TestAccountServerErrorIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil, 0)
	_, err := client.Account(context.Background(), 10)
	require.Error(t, err)
}

func TestAccountUsesCacheWithinTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() {
		_ = redisClient.Close()
	}()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"account_ref":"acct-10","transfer_capable":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, redisClient, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		account, err := client.Account(ctx, 10)
		require.NoError(t, err)
		require.True(t, account.TransferCapable)
	}
	require.Equal(t, int64(1), calls.Load(), "repeat lookups inside the TTL must hit the cache")

	// TTL expiry forces a fresh lookup.
	mr.FastForward(2 * time.Minute)
	_, err = client.Account(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), calls.Load())
}

func TestAccountMissingRefIsNotCapable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"transfer_capable":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil, 0)
	account, err := client.Account(context.Background(), 10)
	require.NoError(t, err)
	require.False(t, account.TransferCapable)
}
