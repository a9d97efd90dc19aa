package chain

import (
	"bytes"
	"math/big"
	"testing"
)

func TestExtractOrderID(t *testing.T) {
	plain := append(make([]byte, transferCallDataLen), []byte("order-123")...)
	if got := ExtractOrderID(plain); got != "order-123" {
		t.Fatalf("got %q, want order-123", got)
	}

	padded := append(make([]byte, transferCallDataLen), []byte("order-456\x00\x00\x00")...)
	if got := ExtractOrderID(padded); got != "order-456" {
		t.Fatalf("got %q, want order-456", got)
	}

	// A bare transfer carries no payload.
	if got := ExtractOrderID(make([]byte, transferCallDataLen)); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
	if got := ExtractOrderID(nil); got != "" {
		t.Fatalf("got %q, want empty", got)
	}

	// Binary garbage past the arguments is not an order id.
	garbage := append(make([]byte, transferCallDataLen), 0x01, 0x02, 0xff)
	if got := ExtractOrderID(garbage); got != "" {
		t.Fatalf("got %q, want empty for non-printable payload", got)
	}
}

func TestAddressTopic(t *testing.T) {
	got := AddressTopic("0xAbCd000000000000000000000000000000001234")
	want := "0x000000000000000000000000abcd000000000000000000000000000000001234"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestTopicAddressRoundTrip(t *testing.T) {
	address := "0xabcd000000000000000000000000000000001234"
	got, err := topicAddress(AddressTopic(address))
	if err != nil {
		t.Fatalf("topic address: %v", err)
	}
	if got != address {
		t.Fatalf("got %s, want %s", got, address)
	}

	if _, err := topicAddress("0x1234"); err == nil {
		t.Fatal("expected error for short topic")
	}
}

func TestDecodeTransferLog(t *testing.T) {
	lg := rpcLog{
		TransactionHash: "0xdeadbeef",
		BlockNumber:     "0x69",
		Topics: []string{
			transferTopic,
			AddressTopic("0x1111111111111111111111111111111111111111"),
			AddressTopic("0x2222222222222222222222222222222222222222"),
		},
		Data: "0x1388",
	}

	event, err := decodeTransferLog(lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.TxHash != "0xdeadbeef" {
		t.Fatalf("unexpected hash %s", event.TxHash)
	}
	if event.From != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("unexpected from %s", event.From)
	}
	if event.To != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("unexpected to %s", event.To)
	}
	if event.Value.Cmp(big.NewInt(0x1388)) != 0 {
		t.Fatalf("unexpected value %s", event.Value)
	}
	if event.BlockNo != 0x69 {
		t.Fatalf("unexpected block %d", event.BlockNo)
	}

	if _, err := decodeTransferLog(rpcLog{Topics: []string{transferTopic}}); err == nil {
		t.Fatal("expected error for missing topics")
	}
}

func TestParseHexUint(t *testing.T) {
	if got, err := parseHexUint("0x10"); err != nil || got != 16 {
		t.Fatalf("got %d, %v", got, err)
	}
	if _, err := parseHexUint(""); err == nil {
		t.Fatal("expected error for empty quantity")
	}
	if _, err := parseHexUint("0xzz"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
}

func TestDecodeHexBytes(t *testing.T) {
	got, err := decodeHexBytes("0xdead")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, []byte{0xde, 0xad}) {
		t.Fatalf("got %x", got)
	}

	empty, err := decodeHexBytes("0x")
	if err != nil || empty != nil {
		t.Fatalf("got %v, %v for empty input", empty, err)
	}
}
