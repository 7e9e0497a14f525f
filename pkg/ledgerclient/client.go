/**
 * @description
 * This package provides a client for the Starknet node that hosts the livestock
 * traceability contract. Reads go through the node's JSON-RPC `starknet_call`;
 * state-changing calls are handed to a relayer that owns the signing account and
 * returns the submitted transaction; finality is polled with
 * `starknet_getTransactionReceipt`.
 *
 * @dependencies
 * - golang.org/x/crypto/sha3: Keccak used to derive entry-point selectors.
 * - golang.org/x/time/rate: Client-side throttling of node requests.
 */
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/time/rate"
)

var (
	// ErrUnavailable wraps transport failures and timeouts talking to the node or relayer.
	ErrUnavailable = errors.New("ledger node unavailable")
	// ErrReverted is returned by WaitForTransaction when the transaction was executed and reverted.
	ErrReverted = errors.New("transaction reverted")
	// ErrMalformed is returned when the node or relayer answers with a body that cannot be decoded.
	ErrMalformed = errors.New("malformed ledger response")
)

const (
	defaultPollInterval = 2 * time.Second
	txHashNotFoundCode  = 29
)

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client talks to the node and the relayer on behalf of one contract.
type Client struct {
	rpcURL          string
	relayerURL      string
	relayerAPIKey   string
	contractAddress string
	httpClient      *http.Client
	limiter         *rate.Limiter
	pollInterval    time.Duration
	requestID       atomic.Uint64
}

// NewClient creates a ledger client. A non-positive requestsPerSecond disables throttling.
func NewClient(rpcURL, relayerURL, relayerAPIKey, contractAddress string, requestsPerSecond float64) *Client {
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		rpcURL:          strings.TrimRight(strings.TrimSpace(rpcURL), "/"),
		relayerURL:      strings.TrimRight(strings.TrimSpace(relayerURL), "/"),
		relayerAPIKey:   strings.TrimSpace(relayerAPIKey),
		contractAddress: strings.TrimSpace(contractAddress),
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		limiter:         rate.NewLimiter(limit, burst),
		pollInterval:    defaultPollInterval,
	}
}

// SetPollInterval overrides the receipt polling interval.
func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// Selector returns the Starknet entry-point selector for name: keccak256 truncated to 250 bits.
func Selector(name string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	n := new(big.Int).SetBytes(h.Sum(nil))
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))
	n.And(n, mask)
	return "0x" + n.Text(16)
}

// toFelt converts a decimal or 0x-hex argument into the hex form the node expects.
func toFelt(arg string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(arg))
	n := new(big.Int)
	if strings.HasPrefix(value, "0x") {
		if value == "0x" {
			return "0x0", nil
		}
		if _, ok := n.SetString(value[2:], 16); !ok {
			return "", fmt.Errorf("invalid hex calldata %q", arg)
		}
	} else if _, ok := n.SetString(value, 10); !ok || n.Sign() < 0 {
		return "", fmt.Errorf("invalid calldata %q", arg)
	}
	return "0x" + n.Text(16), nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type functionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

// Call executes a read-only contract entry point and returns the raw felts.
func (c *Client) Call(ctx context.Context, entrypoint string, calldata []string) ([]string, error) {
	felts := make([]string, 0, len(calldata))
	for _, arg := range calldata {
		felt, err := toFelt(arg)
		if err != nil {
			return nil, err
		}
		felts = append(felts, felt)
	}

	params := map[string]interface{}{
		"request": functionCall{
			ContractAddress:    c.contractAddress,
			EntryPointSelector: Selector(entrypoint),
			Calldata:           felts,
		},
		"block_id": "latest",
	}

	var result []string
	if err := c.rpc(ctx, "starknet_call", params, &result); err != nil {
		return nil, fmt.Errorf("call %s: %w", entrypoint, err)
	}
	return result, nil
}

type receipt struct {
	ExecutionStatus string `json:"execution_status"`
	FinalityStatus  string `json:"finality_status"`
	RevertReason    string `json:"revert_reason"`
}

// WaitForTransaction polls the receipt until the transaction is accepted or reverted.
// Unknown hashes keep polling; any other RPC error is returned so callers can degrade.
func (c *Client) WaitForTransaction(ctx context.Context, txHash string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var r receipt
		err := c.rpc(ctx, "starknet_getTransactionReceipt", map[string]string{"transaction_hash": txHash}, &r)
		if err == nil {
			if strings.EqualFold(r.ExecutionStatus, "REVERTED") {
				return fmt.Errorf("%w: %s", ErrReverted, r.RevertReason)
			}
			switch strings.ToUpper(r.FinalityStatus) {
			case "ACCEPTED_ON_L2", "ACCEPTED_ON_L1":
				return nil
			}
		} else {
			var rpcErr *RPCError
			if !errors.As(err, &rpcErr) || rpcErr.Code != txHashNotFoundCode {
				return fmt.Errorf("receipt %s: %w", txHash, err)
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("receipt %s: %w: %v", txHash, ErrUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}

type invokeRequest struct {
	ContractAddress string   `json:"contract_address"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata"`
}

// Invoke submits a state-changing call through the relayer and returns its response
// object untouched; relayers disagree on the name of the hash field.
func (c *Client) Invoke(ctx context.Context, entrypoint string, calldata []string) (map[string]interface{}, error) {
	if c.relayerURL == "" {
		return nil, fmt.Errorf("relayer url is empty")
	}
	body, err := json.Marshal(invokeRequest{
		ContractAddress: c.contractAddress,
		Entrypoint:      entrypoint,
		Calldata:        calldata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invoke request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayerURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.relayerAPIKey != "" {
		req.Header.Set("X-API-Key", c.relayerAPIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: invoke %s: %v", ErrUnavailable, entrypoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read invoke response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("relayer returned status %d for %s: %s", resp.StatusCode, entrypoint, strings.TrimSpace(string(raw)))
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode invoke response: %v", ErrMalformed, err)
	}
	return out, nil
}

func (c *Client) rpc(ctx context.Context, method string, params interface{}, out interface{}) error {
	if c.rpcURL == "" {
		return fmt.Errorf("rpc url is empty")
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: node returned status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%w: decode rpc response: %v", ErrMalformed, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("%w: decode rpc result: %v", ErrMalformed, err)
	}
	return nil
}
