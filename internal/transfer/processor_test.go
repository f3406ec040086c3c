package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		IdempotencyKey:     IdempotencyKey(1),
		DestinationAccount: "acct-10",
		AmountMinorUnits:   5000,
		Currency:           "EUR",
	}
}

func TestCreateTransferAccepted(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/transfers", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")

		var body Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, int64(5000), body.AmountMinorUnits)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"transfer_reference": "tr-900"})
	}))
	defer server.Close()

	client := NewProcessorClient(server.URL, time.Second)
	result, err := client.CreateTransfer(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, result.Outcome)
	require.Equal(t, "tr-900", result.TransferRef)
	require.Equal(t, IdempotencyKey(1), gotKey)
}

func TestCreateTransferRejectedStatuses(t *testing.T) {
	for _, status := range []int{
		http.StatusBadRequest,
		http.StatusPaymentRequired,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
	} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "account unavailable"})
		}))
		client := NewProcessorClient(server.URL, time.Second)
		result, err := client.CreateTransfer(context.Background(), testRequest())
		server.Close()

		require.NoError(t, err)
		require.Equal(t, OutcomeRejected, result.Outcome, "status %d", status)
		require.Equal(t, "account unavailable", result.Reason)
	}
}

func TestCreateTransferServerErrorIsAmbiguous(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		client := NewProcessorClient(server.URL, time.Second)
		result, err := client.CreateTransfer(context.Background(), testRequest())
		server.Close()

		require.NoError(t, err)
		require.Equal(t, OutcomeAmbiguous, result.Outcome, "status %d", status)
	}
}

func TestCreateTransferTimeoutIsAmbiguous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewProcessorClient(server.URL, 20*time.Millisecond)
	result, err := client.CreateTransfer(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, OutcomeAmbiguous, result.Outcome)
}

func TestCreateTransferAcceptedWithoutReferenceIsAmbiguous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewProcessorClient(server.URL, time.Second)
	result, err := client.CreateTransfer(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, OutcomeAmbiguous, result.Outcome)
}

func TestCreateTransferUnreachableProcessorIsAmbiguous(t *testing.T) {
	client := NewProcessorClient("http://127.0.0.1:1", time.Second)
	result, err := client.CreateTransfer(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, OutcomeAmbiguous, result.Outcome)
}
