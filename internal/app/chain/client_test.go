package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newRPCServer(t *testing.T, handler func(method string, params []json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     uint64            `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestRPCClientCurrentBlockNumber(t *testing.T) {
	server := newRPCServer(t, func(method string, _ []json.RawMessage) (any, *rpcError) {
		if method != "eth_blockNumber" {
			t.Errorf("unexpected method %s", method)
		}
		return "0x4d2", nil
	})
	defer server.Close()

	client := NewRPCClient(RPCConfig{Endpoint: server.URL, RequestsPerSecond: 1000})
	head, err := client.CurrentBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("current block number: %v", err)
	}
	if head != 1234 {
		t.Fatalf("got %d, want 1234", head)
	}
}

func TestRPCClientTransferEvents(t *testing.T) {
	server := newRPCServer(t, func(method string, params []json.RawMessage) (any, *rpcError) {
		if method != "eth_getLogs" {
			t.Errorf("unexpected method %s", method)
		}
		var filter struct {
			Address   string `json:"address"`
			FromBlock string `json:"fromBlock"`
			ToBlock   string `json:"toBlock"`
			Topics    []any  `json:"topics"`
		}
		if err := json.Unmarshal(params[0], &filter); err != nil {
			t.Errorf("unmarshal filter: %v", err)
		}
		if filter.Address != "0xtoken" || filter.FromBlock != "0x65" || filter.ToBlock != "0x6e" {
			t.Errorf("unexpected filter %+v", filter)
		}
		if len(filter.Topics) != 3 || filter.Topics[0] != transferTopic || filter.Topics[1] != nil {
			t.Errorf("unexpected topics %+v", filter.Topics)
		}
		return []rpcLog{{
			TransactionHash: "0xaaa",
			BlockNumber:     "0x66",
			Topics: []string{
				transferTopic,
				AddressTopic("0x1111111111111111111111111111111111111111"),
				AddressTopic("0x2222222222222222222222222222222222222222"),
			},
			Data: "0x1388",
		}}, nil
	})
	defer server.Close()

	client := NewRPCClient(RPCConfig{Endpoint: server.URL, RequestsPerSecond: 1000})
	events, err := client.TransferEvents(context.Background(), "0xtoken", 101, 110, "0x2222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("transfer events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].TxHash != "0xaaa" || events[0].BlockNo != 0x66 {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestRPCClientTransactionInput(t *testing.T) {
	server := newRPCServer(t, func(method string, _ []json.RawMessage) (any, *rpcError) {
		if method != "eth_getTransactionByHash" {
			t.Errorf("unexpected method %s", method)
		}
		return rpcTransaction{Input: "0xa9059cbb"}, nil
	})
	defer server.Close()

	client := NewRPCClient(RPCConfig{Endpoint: server.URL, RequestsPerSecond: 1000})
	input, err := client.TransactionInput(context.Background(), "0xaaa")
	if err != nil {
		t.Fatalf("transaction input: %v", err)
	}
	if len(input) != 4 {
		t.Fatalf("expected 4 selector bytes, got %d", len(input))
	}
}

func TestRPCClientSurfacesNodeErrors(t *testing.T) {
	server := newRPCServer(t, func(string, []json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "header not found"}
	})
	defer server.Close()

	client := NewRPCClient(RPCConfig{Endpoint: server.URL, RequestsPerSecond: 1000})
	if _, err := client.CurrentBlockNumber(context.Background()); err == nil {
		t.Fatal("expected rpc error")
	}
}
