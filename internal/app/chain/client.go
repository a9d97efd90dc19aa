// Package chain provides the ledger client used by the reconciliation loop to
// observe token transfers. The production implementation speaks Ethereum
// JSON-RPC; tests substitute the Client interface.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// TransferEvent is one observed token transfer to a tracked recipient.
type TransferEvent struct {
	TxHash  string
	From    string
	To      string
	Value   *big.Int
	BlockNo uint64
}

// Client reads transfer events and transaction call data from the ledger.
type Client interface {
	CurrentBlockNumber(ctx context.Context) (uint64, error)
	TransferEvents(ctx context.Context, contract string, fromBlock, toBlock uint64, recipient string) ([]TransferEvent, error)
	TransactionInput(ctx context.Context, txHash string) ([]byte, error)
}

// transferTopic is keccak256("Transfer(address,address,uint256)").
const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// RPCClient implements Client over Ethereum JSON-RPC.
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	nextID     uint64
}

var _ Client = (*RPCClient)(nil)

// RPCConfig configures the JSON-RPC client.
type RPCConfig struct {
	Endpoint          string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewRPCClient builds a rate-limited JSON-RPC client.
func NewRPCClient(cfg RPCConfig) *RPCClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &RPCClient{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      atomic.AddUint64(&c.nextID, 1),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: node returned status %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	return json.Unmarshal(envelope.Result, result)
}

// CurrentBlockNumber returns the chain head block number.
func (c *RPCClient) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	var hexNo string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &hexNo); err != nil {
		return 0, err
	}
	return parseHexUint(hexNo)
}

type rpcLog struct {
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     string   `json:"blockNumber"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
}

// TransferEvents queries Transfer logs for the token contract restricted to
// the recipient address within [fromBlock, toBlock].
func (c *RPCClient) TransferEvents(ctx context.Context, contract string, fromBlock, toBlock uint64, recipient string) ([]TransferEvent, error) {
	filter := map[string]any{
		"address":   contract,
		"fromBlock": fmt.Sprintf("0x%x", fromBlock),
		"toBlock":   fmt.Sprintf("0x%x", toBlock),
		"topics":    []any{transferTopic, nil, AddressTopic(recipient)},
	}

	var logs []rpcLog
	if err := c.call(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
		return nil, err
	}

	events := make([]TransferEvent, 0, len(logs))
	for _, lg := range logs {
		event, err := decodeTransferLog(lg)
		if err != nil {
			return nil, fmt.Errorf("decode transfer log %s: %w", lg.TransactionHash, err)
		}
		events = append(events, event)
	}
	return events, nil
}

type rpcTransaction struct {
	Input string `json:"input"`
}

// TransactionInput fetches the raw call data of a transaction.
func (c *RPCClient) TransactionInput(ctx context.Context, txHash string) ([]byte, error) {
	var tx *rpcTransaction
	if err := c.call(ctx, "eth_getTransactionByHash", []any{txHash}, &tx); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s not found", txHash)
	}
	return decodeHexBytes(tx.Input)
}
