package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/metrics"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/parser"
)

var (
	// ErrRateLimited is returned when the endpoint answers 429 on every attempt
	ErrRateLimited = errors.New("rate limited (429)")
	// ErrTransactionNotFound is returned for a null getTransaction result,
	// usually a signature the node has not confirmed yet
	ErrTransactionNotFound = errors.New("transaction not found")
)

const maxBackoff = 10 * time.Second

// statusError is a non-200 answer. 5xx is retried, other codes are not.
type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status code: %d", e.code) }

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	var re *RPCError
	return !errors.As(err, &re)
}

// Client talks JSON-RPC to a Solana node and decodes what the pool
// pollers need: signatures of an account and balance deltas of a
// transaction.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	maxRetries   int
	retryBackoff time.Duration
	logger       *logrus.Logger
	metrics      *metrics.Metrics
}

type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *logrus.Logger
	Metrics      *metrics.Metrics
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:      cfg.BaseURL,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// call performs method and decodes the result member into T. The outcome
// is recorded once, after the JSON-RPC error member has been checked, so a
// 200 carrying an error counts as a failed call.
func call[T any](ctx context.Context, c *Client, method string, params []any) (T, error) {
	var env envelope[T]
	err := c.roundTrip(ctx, method, params, &env)
	if err == nil && env.Error != nil {
		err = env.Error
	}
	c.metrics.RecordRPCCall(method, err)
	return env.Result, err
}

// roundTrip posts the request, retrying transport failures, 5xx and 429
// with exponential backoff
func (c *Client) roundTrip(ctx context.Context, method string, params []any, out any) error {
	data, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	backoff := c.retryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff,
				"method":  method,
				"error":   lastErr,
			}).Debug("retrying RPC call")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		body, err := c.post(ctx, data)
		if err != nil {
			if !retryable(err) {
				return err
			}
			lastErr = err
			continue
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to unmarshal %s response: %w", method, err)
		}
		return nil
	}

	if errors.Is(lastErr, ErrRateLimited) {
		return lastErr
	}
	return fmt.Errorf("%s: max retries exceeded: %w", method, lastErr)
}

func (c *Client) post(ctx context.Context, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// SignaturesForAddress lists signatures touching account, newest first
func (c *Client) SignaturesForAddress(ctx context.Context, account string, q SignatureQuery) ([]SignatureInfo, error) {
	return call[[]SignatureInfo](ctx, c, "getSignaturesForAddress", []any{account, q.params()})
}

// Transaction fetches one confirmed transaction in jsonParsed encoding
func (c *Client) Transaction(ctx context.Context, signature string) (*TransactionResult, error) {
	res, err := call[*TransactionResult](ctx, c, "getTransaction", []any{
		signature,
		map[string]any{
			"encoding":                       "jsonParsed",
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
	}
	return res, nil
}

// RawTransaction fetches sig and converts it for the parsers. The block
// time from the signature listing fills in when the transaction lacks one.
func (c *Client) RawTransaction(ctx context.Context, sig SignatureInfo) (parser.RawTransaction, error) {
	if sig.Err != nil {
		return parser.RawTransaction{}, ErrSkipTransaction
	}
	res, err := c.Transaction(ctx, sig.Signature)
	if err != nil {
		return parser.RawTransaction{}, err
	}
	if res.BlockTime == nil {
		res.BlockTime = sig.BlockTime
	}
	return RawTransaction(sig.Signature, res)
}
