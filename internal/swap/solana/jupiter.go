package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// DefaultJupiterURL is the Jupiter v6 swap API root.
const DefaultJupiterURL = "https://quote-api.jup.ag/v6"

// JupiterClient talks to the Jupiter aggregator's /quote and /swap endpoints.
type JupiterClient struct {
	baseURL string
	client  *http.Client
}

// NewJupiterClient creates a client for baseURL.
func NewJupiterClient(baseURL string, timeout time.Duration) *JupiterClient {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultJupiterURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &JupiterClient{baseURL: base, client: &http.Client{Timeout: timeout}}
}

// jupiterQuote is the subset of the quote response the provider reads. The
// full payload is kept verbatim for /swap.
type jupiterQuote struct {
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	RoutePlan  []struct {
		SwapInfo struct {
			InputMint  string `json:"inputMint"`
			OutputMint string `json:"outputMint"`
			Label      string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

// path lists the mints the route visits, in order, without repeats.
func (q jupiterQuote) path() []string {
	p := []string{q.InputMint}
	for _, step := range q.RoutePlan {
		if out := step.SwapInfo.OutputMint; out != p[len(p)-1] && out != q.OutputMint {
			p = append(p, out)
		}
	}
	return append(p, q.OutputMint)
}

// Quote fetches a quote. onlyDirect restricts Jupiter to single-hop routes.
func (j *JupiterClient) Quote(ctx context.Context, in, out string, amount *big.Int, slippageBps int, onlyDirect bool) (jupiterQuote, []byte, error) {
	q := url.Values{}
	q.Set("inputMint", in)
	q.Set("outputMint", out)
	q.Set("amount", amount.String())
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("onlyDirectRoutes", strconv.FormatBool(onlyDirect))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return jupiterQuote{}, nil, fmt.Errorf("jupiter: build quote request: %w", err)
	}
	raw, err := j.do(req)
	if err != nil {
		return jupiterQuote{}, nil, fmt.Errorf("jupiter: quote: %w", err)
	}
	var parsed jupiterQuote
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return jupiterQuote{}, nil, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	return parsed, raw, nil
}

// SwapTransaction asks Jupiter to build the transaction for a quote payload.
// It returns the unsigned serialized transaction.
func (j *JupiterClient) SwapTransaction(ctx context.Context, quoteRaw []byte, user string) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"quoteResponse":             json.RawMessage(quoteRaw),
		"userPublicKey":             user,
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: marshal swap request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("jupiter: build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := j.do(req)
	if err != nil {
		return nil, fmt.Errorf("jupiter: swap: %w", err)
	}
	var res struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("jupiter: decode swap: %w", err)
	}
	if res.SwapTransaction == "" {
		return nil, fmt.Errorf("jupiter: swap response missing swapTransaction")
	}
	return decodeBase64(res.SwapTransaction)
}

func (j *JupiterClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := j.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

// withMinOut rewrites the slippage fields of a quote payload so the built
// transaction enforces minOut. Every other field is preserved so the route
// itself is unchanged.
func withMinOut(quoteRaw []byte, expected, minOut *big.Int) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(quoteRaw, &fields); err != nil {
		return nil, fmt.Errorf("jupiter: decode quote payload: %w", err)
	}
	bps := 0
	if expected.Sign() > 0 {
		diff := new(big.Int).Sub(expected, minOut)
		diff.Mul(diff, big.NewInt(10000))
		bps = int(diff.Quo(diff, expected).Int64())
	}
	threshold, _ := json.Marshal(minOut.String())
	slippage, _ := json.Marshal(bps)
	fields["otherAmountThreshold"] = threshold
	fields["slippageBps"] = slippage
	return json.Marshal(fields)
}
