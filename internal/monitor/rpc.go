package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/b0x-token/data-mirror/internal/util"
)

// RPCClient speaks the minimal Ethereum JSON-RPC surface the monitor needs:
// current block number, block timestamps, and raw storage slots.
type RPCClient struct {
	URL        string
	HTTP       *http.Client
	RetryCount int
	RetryDelay time.Duration

	nextID int64
}

func NewRPCClient(url string, retryCount int, retryDelay time.Duration) *RPCClient {
	if retryCount <= 0 {
		retryCount = 5
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &RPCClient{
		URL:        url,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		RetryCount: retryCount,
		RetryDelay: retryDelay,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	c.nextID++
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", method, resp.Status)
	}
	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	return json.Unmarshal(decoded.Result, result)
}

// BlockNumber returns the current chain head number.
func (c *RPCClient) BlockNumber(ctx context.Context) (int64, error) {
	var hexNum string
	err := util.Retry(ctx, c.RetryCount, c.RetryDelay, func() error {
		return c.call(ctx, "eth_blockNumber", []any{}, &hexNum)
	})
	if err != nil {
		return 0, err
	}
	return parseHexInt(hexNum)
}

// BlockTimestamp returns the unix timestamp of a block.
func (c *RPCClient) BlockTimestamp(ctx context.Context, number int64) (int64, error) {
	var block struct {
		Timestamp string `json:"timestamp"`
	}
	err := util.Retry(ctx, c.RetryCount, c.RetryDelay, func() error {
		return c.call(ctx, "eth_getBlockByNumber", []any{hexInt(number), false}, &block)
	})
	if err != nil {
		return 0, err
	}
	if block.Timestamp == "" {
		return 0, fmt.Errorf("block %d not found", number)
	}
	return parseHexInt(block.Timestamp)
}

// StorageAt reads a raw storage slot at a given block.
func (c *RPCClient) StorageAt(ctx context.Context, address, slot string, block int64) (*big.Int, error) {
	var word string
	err := util.Retry(ctx, c.RetryCount, c.RetryDelay, func() error {
		return c.call(ctx, "eth_getStorageAt", []any{address, slot, hexInt(block)}, &word)
	})
	if err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(strings.TrimPrefix(word, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid storage word %q", word)
	}
	return value, nil
}

func hexInt(n int64) string {
	return fmt.Sprintf("0x%x", n)
}

func parseHexInt(s string) (int64, error) {
	value, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex quantity %q", s)
	}
	return value.Int64(), nil
}
