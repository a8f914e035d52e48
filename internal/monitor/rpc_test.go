package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newRPCStub answers the JSON-RPC methods the monitor uses with canned
// responses keyed by method name.
func newRPCStub(t *testing.T, answers map[string]any) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int64  `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		answer, ok := answers[req.Method]
		if !ok {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not supported"}}`, req.ID)
			return
		}
		result, _ := json.Marshal(answer)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
	}))
}

func stubClient(url string) *RPCClient {
	return NewRPCClient(url, 1, time.Millisecond)
}

func TestBlockNumber(t *testing.T) {
	srv := newRPCStub(t, map[string]any{"eth_blockNumber": "0x1b4"})
	defer srv.Close()

	got, err := stubClient(srv.URL).BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if got != 436 {
		t.Fatalf("unexpected block number %d", got)
	}
}

func TestBlockTimestamp(t *testing.T) {
	srv := newRPCStub(t, map[string]any{
		"eth_getBlockByNumber": map[string]string{"timestamp": "0x66300ab0"},
	})
	defer srv.Close()

	got, err := stubClient(srv.URL).BlockTimestamp(context.Background(), 436)
	if err != nil {
		t.Fatalf("BlockTimestamp: %v", err)
	}
	if got != 0x66300ab0 {
		t.Fatalf("unexpected timestamp %d", got)
	}
}

func TestBlockTimestampMissingBlock(t *testing.T) {
	srv := newRPCStub(t, map[string]any{
		"eth_getBlockByNumber": map[string]string{},
	})
	defer srv.Close()

	if _, err := stubClient(srv.URL).BlockTimestamp(context.Background(), 9999); err == nil {
		t.Fatal("expected error for missing block")
	}
}

func TestStorageAt(t *testing.T) {
	srv := newRPCStub(t, map[string]any{
		"eth_getStorageAt": "0x0000000000000000000000000000000000000000000000000000000000bb8",
	})
	defer srv.Close()

	got, err := stubClient(srv.URL).StorageAt(context.Background(), "0xabc", "0x1", 436)
	if err != nil {
		t.Fatalf("StorageAt: %v", err)
	}
	if got.Int64() != 0xbb8 {
		t.Fatalf("unexpected storage word %s", got)
	}
}

func TestRPCErrorSurface(t *testing.T) {
	srv := newRPCStub(t, map[string]any{})
	defer srv.Close()

	if _, err := stubClient(srv.URL).BlockNumber(context.Background()); err == nil {
		t.Fatal("expected rpc error to propagate")
	}
}
