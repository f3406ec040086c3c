package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, repo *memoryLedgerRepo) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	handler := NewHandler(logger, newTestService(repo, threeWayRules()))
	router := chi.NewRouter()
	handler.MountRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func eventBody(id string, amount int64) map[string]any {
	return map[string]any{
		"contribution_id":     id,
		"source_type":         "MEMBERSHIP_DUE",
		"amount_minor_units":  amount,
		"currency":            "EUR",
		"originating_unit_id": 1,
		"occurred_at":         "2026-03-10T12:00:00Z",
	}
}

func TestIngestEventCreatesEntries(t *testing.T) {
	repo := newMemoryLedgerRepo()
	server := newTestServer(t, repo)

	resp := postJSON(t, server.URL+"/contributions/events", eventBody("c-1", 10000))
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var parsed struct {
		ContributionID string  `json:"contribution_id"`
		Created        bool    `json:"created"`
		Entries        []Entry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.True(t, parsed.Created)
	require.Len(t, parsed.Entries, 3)
}

func TestIngestEventReplayReturns200(t *testing.T) {
	repo := newMemoryLedgerRepo()
	server := newTestServer(t, repo)

	first := postJSON(t, server.URL+"/contributions/events", eventBody("c-1", 10000))
	_ = first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)

	replay := postJSON(t, server.URL+"/contributions/events", eventBody("c-1", 10000))
	defer func() {
		_ = replay.Body.Close()
	}()
	require.Equal(t, http.StatusOK, replay.StatusCode)

	var parsed struct {
		Created bool    `json:"created"`
		Entries []Entry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(replay.Body).Decode(&parsed))
	require.False(t, parsed.Created)
	require.Len(t, parsed.Entries, 3)
}

func TestIngestEventValidation(t *testing.T) {
	server := newTestServer(t, newMemoryLedgerRepo())

	bad := eventBody("c-1", 10000)
	bad["amount_minor_units"] = -5
	resp := postJSON(t, server.URL+"/contributions/events", bad)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad = eventBody("c-1", 10000)
	bad["source_type"] = "SUBSCRIPTION"
	resp = postJSON(t, server.URL+"/contributions/events", bad)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListEntriesFiltersByRecipient(t *testing.T) {
	repo := newMemoryLedgerRepo()
	server := newTestServer(t, repo)

	resp := postJSON(t, server.URL+"/contributions/events", eventBody("c-1", 10000))
	_ = resp.Body.Close()

	listResp, err := http.Get(server.URL + "/ledger/entries?recipient_unit_id=10")
	require.NoError(t, err)
	defer func() {
		_ = listResp.Body.Close()
	}()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var parsed struct {
		Entries []Entry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&parsed))
	require.Len(t, parsed.Entries, 1)
	require.Equal(t, int64(10), parsed.Entries[0].RecipientUnitID)
}

func TestReverseEndpointGuardsOverReversal(t *testing.T) {
	repo := newMemoryLedgerRepo()
	server := newTestServer(t, repo)

	resp := postJSON(t, server.URL+"/contributions/events", eventBody("c-1", 10000))
	_ = resp.Body.Close()

	entryID := int64(1)
	_, err := repo.MarkTransferred(t.Context(), entryID, "tr-1")
	require.NoError(t, err)

	over := postJSON(t, fmt.Sprintf("%s/ledger/entries/%d/reverse", server.URL, entryID), map[string]any{
		"amount_minor_units": 999999,
		"reason":             "way too much",
	})
	_ = over.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, over.StatusCode)

	ok := postJSON(t, fmt.Sprintf("%s/ledger/entries/%d/reverse", server.URL, entryID), map[string]any{
		"amount_minor_units": 1000,
		"reason":             "partial refund",
	})
	defer func() {
		_ = ok.Body.Close()
	}()
	require.Equal(t, http.StatusCreated, ok.StatusCode)

	var reversal Entry
	require.NoError(t, json.NewDecoder(ok.Body).Decode(&reversal))
	require.Equal(t, int64(-1000), reversal.Amount)
}

func TestRetryEndpointRejectsPendingEntry(t *testing.T) {
	repo := newMemoryLedgerRepo()
	server := newTestServer(t, repo)

	resp := postJSON(t, server.URL+"/contributions/events", eventBody("c-1", 10000))
	_ = resp.Body.Close()

	retry, err := http.Post(server.URL+"/ledger/entries/1/retry", "application/json", nil)
	require.NoError(t, err)
	_ = retry.Body.Close()
	require.Equal(t, http.StatusConflict, retry.StatusCode)
}
