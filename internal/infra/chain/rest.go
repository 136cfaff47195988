package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
)

// RESTClient implements StatusClient against the chain's REST API.
// Transport errors and 5xx responses trip the breaker and are retried with
// fibonacci backoff; 404 and semantic statuses pass through untouched.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// NewRESTClient creates a chain status client.
func NewRESTClient(cfg Config) *RESTClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &RESTClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "chain-status",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Not-yet-visible is a normal answer, not a fault.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrTxNotFound)
			},
		}),
	}
}

// GetTransaction looks up a transaction's chain status.
func (c *RESTClient) GetTransaction(ctx context.Context, chainTxID string) (*TxInfo, error) {
	body, err := c.get(ctx, "/tx/"+url.PathEscape(chainTxID))
	if err != nil {
		return nil, err
	}

	var info TxInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse tx response: %w", err)
	}
	return &info, nil
}

// GetTipHeight returns the current chain tip height.
func (c *RESTClient) GetTipHeight(ctx context.Context) (uint64, error) {
	body, err := c.get(ctx, "/info")
	if err != nil {
		return 0, err
	}

	var info struct {
		TipHeight uint64 `json:"tip_height"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return 0, fmt.Errorf("parse info response: %w", err)
	}
	return info.TipHeight, nil
}

// get performs a GET through the breaker, retrying transport-level failures.
func (c *RESTClient) get(ctx context.Context, path string) ([]byte, error) {
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		body, err = c.breaker.Execute(func() ([]byte, error) {
			return c.doGet(ctx, path)
		})
		if err == nil || errors.Is(err, ErrTxNotFound) {
			return err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Breaker is shedding load; retrying immediately is pointless.
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *RESTClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chain api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTxNotFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain api http %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
