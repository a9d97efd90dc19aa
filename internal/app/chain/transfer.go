package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

// transferCallDataLen is the length of a standard ERC20 transfer(address,uint256)
// call: 4-byte selector plus two 32-byte arguments. Anything past this offset
// is platform payload carrying the order identifier.
const transferCallDataLen = 4 + 32 + 32

func decodeHexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	value, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex quantity %q", s)
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("hex quantity %q overflows uint64", s)
	}
	return value.Uint64(), nil
}

// AddressTopic left-pads a 20-byte address to the 32-byte topic encoding.
func AddressTopic(address string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(address), "0x"))
	return "0x" + strings.Repeat("0", 64-len(trimmed)) + trimmed
}

// topicAddress recovers the 20-byte address from a 32-byte topic.
func topicAddress(topic string) (string, error) {
	raw, err := decodeHexBytes(topic)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("topic is %d bytes, want 32", len(raw))
	}
	return "0x" + hex.EncodeToString(raw[12:]), nil
}

func decodeTransferLog(lg rpcLog) (TransferEvent, error) {
	if len(lg.Topics) < 3 {
		return TransferEvent{}, fmt.Errorf("transfer log has %d topics, want 3", len(lg.Topics))
	}
	from, err := topicAddress(lg.Topics[1])
	if err != nil {
		return TransferEvent{}, fmt.Errorf("parse from: %w", err)
	}
	to, err := topicAddress(lg.Topics[2])
	if err != nil {
		return TransferEvent{}, fmt.Errorf("parse to: %w", err)
	}
	data, err := decodeHexBytes(lg.Data)
	if err != nil {
		return TransferEvent{}, fmt.Errorf("parse value: %w", err)
	}
	blockNo, err := parseHexUint(lg.BlockNumber)
	if err != nil {
		return TransferEvent{}, fmt.Errorf("parse block number: %w", err)
	}
	return TransferEvent{
		TxHash:  lg.TransactionHash,
		From:    from,
		To:      to,
		Value:   new(big.Int).SetBytes(data),
		BlockNo: blockNo,
	}, nil
}

// ExtractOrderID recovers the order identifier a client appended past the
// standard transfer call arguments. Returns "" when the call data carries no
// payload or the payload is not a printable identifier.
func ExtractOrderID(input []byte) string {
	if len(input) <= transferCallDataLen {
		return ""
	}
	tail := input[transferCallDataLen:]
	tail = trimZeroPadding(tail)
	id := strings.TrimSpace(string(tail))
	for _, r := range id {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return ""
		}
	}
	return id
}

func trimZeroPadding(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}
