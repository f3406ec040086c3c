// Package onboarding talks to the unit onboarding collaborator, the system of
// record for recipient payment sub-accounts. The ledger only asks one
// question: can this unit receive transfers right now.
package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/commonfund/commonfund/internal/transfer"
)

const defaultCacheTTL = 30 * time.Second

// Client fetches recipient account state over HTTP with a short-lived Redis
// cache in front. The TTL is deliberately small: a stale "capable" answer only
// delays an entry by one sweep, and a stale "not capable" answer is harmless.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *redis.Client
	cacheTTL   time.Duration
}

// NewClient constructs a client. The redis client may be nil; lookups then go
// straight to the collaborator.
func NewClient(baseURL string, timeout time.Duration, cache *redis.Client, cacheTTL time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

type accountResponse struct {
	AccountRef      string `json:"account_ref"`
	TransferCapable bool   `json:"transfer_capable"`
}

// Account returns the unit's payment sub-account. A unit unknown to the
// collaborator is reported as not transfer capable, not as an error.
func (c *Client) Account(ctx context.Context, unitID int64) (transfer.Account, error) {
	key := "onboarding:account:" + strconv.FormatInt(unitID, 10)
	if c.cache != nil {
		payload, err := c.cache.Get(ctx, key).Bytes()
		if err == nil {
			var cached transfer.Account
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached, nil
			}
		}
	}

	account, err := c.fetch(ctx, unitID)
	if err != nil {
		return transfer.Account{}, err
	}

	if c.cache != nil {
		if raw, err := json.Marshal(account); err == nil {
			_ = c.cache.Set(ctx, key, raw, c.cacheTTL).Err()
		}
	}
	return account, nil
}

func (c *Client) fetch(ctx context.Context, unitID int64) (transfer.Account, error) {
	url := fmt.Sprintf("%s/v1/units/%d/account", c.baseURL, unitID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return transfer.Account{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transfer.Account{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return transfer.Account{TransferCapable: false}, nil
	case resp.StatusCode >= 400:
		return transfer.Account{}, fmt.Errorf("onboarding returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transfer.Account{}, err
	}
	var parsed accountResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return transfer.Account{}, err
	}
	if parsed.AccountRef == "" {
		return transfer.Account{TransferCapable: false}, nil
	}
	return transfer.Account{Ref: parsed.AccountRef, TransferCapable: parsed.TransferCapable}, nil
}

// Ping checks the collaborator's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("onboarding returned status %d", resp.StatusCode)
	}
	return nil
}
