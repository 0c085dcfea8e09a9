package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	DefaultRPCTimeout  = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	defaultBackoffMult = 2.0
)

// RPCClient is a Solana JSON-RPC 2.0 client over HTTP with retries and
// exponential backoff on transport failures. RPC-level errors are returned
// immediately.
type RPCClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// RPCOption configures RPCClient.
type RPCOption func(*RPCClient)

// WithRPCTimeout sets the per-request HTTP timeout.
func WithRPCTimeout(d time.Duration) RPCOption {
	return func(c *RPCClient) { c.client.Timeout = d }
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) RPCOption {
	return func(c *RPCClient) { c.maxRetries = n }
}

// WithRetryDelay sets the initial backoff delay.
func WithRetryDelay(d time.Duration) RPCOption {
	return func(c *RPCClient) { c.retryDelay = d }
}

// NewRPCClient creates a JSON-RPC client for endpoint.
func NewRPCClient(endpoint string, opts ...RPCOption) *RPCClient {
	c := &RPCClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultRPCTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: defaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("solana rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("solana: marshal %s: %w", method, err)
	}

	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("solana: build %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = err
			continue
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}
		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("solana: decode %s result: %w", method, err)
			}
		}
		return nil
	}
	return fmt.Errorf("solana: %s: max retries exceeded: %w", method, lastErr)
}

// GetBalance returns the lamport balance of an account.
func (c *RPCClient) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	var res struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []any{pubkey, map[string]any{"commitment": "confirmed"}}, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

// GetTokenDecimals returns the mint's decimals via getTokenSupply.
func (c *RPCClient) GetTokenDecimals(ctx context.Context, mint string) (uint8, error) {
	var res struct {
		Value struct {
			Decimals uint8 `json:"decimals"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []any{mint}, &res); err != nil {
		return 0, err
	}
	return res.Value.Decimals, nil
}

// GetTokenBalance sums the raw amounts of every token account owner holds for mint.
func (c *RPCClient) GetTokenBalance(ctx context.Context, owner, mint string) (*big.Int, error) {
	var res struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								Amount string `json:"amount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	params := []any{
		owner,
		map[string]any{"mint": mint},
		map[string]any{"encoding": "jsonParsed", "commitment": "confirmed"},
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &res); err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, acc := range res.Value {
		amt, ok := new(big.Int).SetString(acc.Account.Data.Parsed.Info.TokenAmount.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("solana: bad token amount %q", acc.Account.Data.Parsed.Info.TokenAmount.Amount)
		}
		total.Add(total, amt)
	}
	return total, nil
}

// SendTransaction submits a signed, base64-encoded transaction and returns
// its signature. Preflight runs at "confirmed" commitment.
func (c *RPCClient) SendTransaction(ctx context.Context, txBase64 string) (string, error) {
	var sig string
	opts := map[string]any{
		"encoding":            "base64",
		"preflightCommitment": "confirmed",
		"maxRetries":          3,
	}
	if err := c.call(ctx, "sendTransaction", []any{txBase64, opts}, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Failed reports whether the transaction executed with an error.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// Confirmed reports whether the status reached confirmed or finalized.
func (s *SignatureStatus) Confirmed() bool {
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

// GetSignatureStatus returns the status of sig, or nil when the node has not
// seen it yet.
func (c *RPCClient) GetSignatureStatus(ctx context.Context, sig string) (*SignatureStatus, error) {
	var res struct {
		Value []*SignatureStatus `json:"value"`
	}
	params := []any{[]string{sig}, map[string]any{"searchTransactionHistory": true}}
	if err := c.call(ctx, "getSignatureStatuses", params, &res); err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}

// TokenBalance is one pre/post token balance entry of a transaction's meta.
type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

// TransactionMeta is the subset of getTransaction used to read what a
// confirmed transaction actually moved.
type TransactionMeta struct {
	AccountKeys       []string
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// GetTransaction fetches a confirmed transaction's balance metadata. It
// returns nil when the node does not have the transaction yet.
func (c *RPCClient) GetTransaction(ctx context.Context, sig string) (*TransactionMeta, error) {
	var res *struct {
		Transaction struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
		Meta *struct {
			Fee               uint64         `json:"fee"`
			PreBalances       []uint64       `json:"preBalances"`
			PostBalances      []uint64       `json:"postBalances"`
			PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
			PostTokenBalances []TokenBalance `json:"postTokenBalances"`
		} `json:"meta"`
	}
	params := []any{sig, map[string]any{
		"encoding":                       "json",
		"commitment":                     "confirmed",
		"maxSupportedTransactionVersion": 0,
	}}
	if err := c.call(ctx, "getTransaction", params, &res); err != nil {
		return nil, err
	}
	if res == nil || res.Meta == nil {
		return nil, nil
	}
	return &TransactionMeta{
		AccountKeys:       res.Transaction.Message.AccountKeys,
		Fee:               res.Meta.Fee,
		PreBalances:       res.Meta.PreBalances,
		PostBalances:      res.Meta.PostBalances,
		PreTokenBalances:  res.Meta.PreTokenBalances,
		PostTokenBalances: res.Meta.PostTokenBalances,
	}, nil
}

// TokenDelta is the change in owner's balance of mint across the
// transaction, summed over all of owner's token accounts.
func (m *TransactionMeta) TokenDelta(owner, mint string) (*big.Int, error) {
	sum := func(entries []TokenBalance) (*big.Int, bool, error) {
		total, seen := new(big.Int), false
		for _, b := range entries {
			if b.Owner != owner || b.Mint != mint {
				continue
			}
			amt, ok := new(big.Int).SetString(b.UITokenAmount.Amount, 10)
			if !ok {
				return nil, false, fmt.Errorf("solana: bad token amount %q", b.UITokenAmount.Amount)
			}
			total.Add(total, amt)
			seen = true
		}
		return total, seen, nil
	}
	post, seen, err := sum(m.PostTokenBalances)
	if err != nil {
		return nil, err
	}
	if !seen {
		return nil, fmt.Errorf("solana: no %s balance for %s in transaction", mint, owner)
	}
	pre, _, err := sum(m.PreTokenBalances)
	if err != nil {
		return nil, err
	}
	return post.Sub(post, pre), nil
}

// LamportDelta is the change in account's lamports with the fee added back
// when account paid it.
func (m *TransactionMeta) LamportDelta(account string) (*big.Int, error) {
	for i, key := range m.AccountKeys {
		if key != account {
			continue
		}
		if i >= len(m.PreBalances) || i >= len(m.PostBalances) {
			return nil, fmt.Errorf("solana: balances missing for account index %d", i)
		}
		delta := new(big.Int).SetUint64(m.PostBalances[i])
		delta.Sub(delta, new(big.Int).SetUint64(m.PreBalances[i]))
		if i == 0 {
			delta.Add(delta, new(big.Int).SetUint64(m.Fee))
		}
		return delta, nil
	}
	return nil, fmt.Errorf("solana: account %s not in transaction", account)
}
