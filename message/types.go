package message

import "fmt"

// Type is a per-service message code. Request codes have the high bit clear;
// the matching reply is the same code with ReplyFlag set.
type Type uint8

const (
	TypeSubmitTransaction Type = 0x01
	TypeCreateContract    Type = 0x02
	TypeInjectRaw         Type = 0x03
	TypeFlushTransactions Type = 0x04
	TypeCallTransaction   Type = 0x05
	TypeBalanceAt         Type = 0x06
	TypeCountAt           Type = 0x07
	TypeStateAt           Type = 0x08
	TypeCodeAt            Type = 0x09
	TypeStorageAt         Type = 0x0a
	TypeMessages          Type = 0x0b
	TypePeers             Type = 0x0c
	TypePeerCount         Type = 0x0d

	TypeConnectToPeer Type = 0x10
	TypePing          Type = 0x11

	ReplyFlag Type = 0x80
	TypeError Type = 0xff // Reply carrying a RemoteError instead of a result
)

var typeNames = map[Type]string{
	TypeSubmitTransaction: "SubmitTransaction",
	TypeCreateContract:    "CreateContract",
	TypeInjectRaw:         "InjectRaw",
	TypeFlushTransactions: "FlushTransactions",
	TypeCallTransaction:   "CallTransaction",
	TypeBalanceAt:         "BalanceAt",
	TypeCountAt:           "CountAt",
	TypeStateAt:           "StateAt",
	TypeCodeAt:            "CodeAt",
	TypeStorageAt:         "StorageAt",
	TypeMessages:          "Messages",
	TypePeers:             "Peers",
	TypePeerCount:         "PeerCount",
	TypeConnectToPeer:     "ConnectToPeer",
	TypePing:              "Ping",
}

// minPayloadSizes holds the length of the smallest canonical (RLP) encoding of
// each request's argument struct. Replies are always at least an empty list.
var minPayloadSizes = map[Type]int{
	TypeSubmitTransaction: 60, // [secret(33) value dest(21) data gas gasPrice], long list header
	TypeCreateContract:    38, // [secret(33) endowment init gas gasPrice]
	TypeInjectRaw:         2,  // [rlp]
	TypeFlushTransactions: 1,  // []
	TypeCallTransaction:   60, // same shape as SubmitTransaction
	TypeBalanceAt:         23, // [address(21) block]
	TypeCountAt:           23,
	TypeStateAt:           24, // [address(21) key block]
	TypeCodeAt:            23,
	TypeStorageAt:         23,
	TypeMessages:          5, // [[from] [to] earliest latest]
	TypePeers:             1,
	TypePeerCount:         1,
	TypeConnectToPeer:     3, // [host port]
	TypePing:              2, // [nonce]
	TypeError:             3, // [code message]
}

// IsReply reports whether t is a reply code (including TypeError).
func (t Type) IsReply() bool {
	return t&ReplyFlag != 0
}

// Request returns the request code a reply code answers.
func (t Type) Request() Type {
	return t &^ ReplyFlag
}

// ReplyType returns the reply code for request code t.
func ReplyType(t Type) Type {
	return t | ReplyFlag
}

// Known reports whether t belongs to the closed set of codes.
func (t Type) Known() bool {
	if t == TypeError {
		return true
	}
	_, ok := typeNames[t.Request()]
	return ok
}

// MinPayloadSize returns the smallest payload a frame of type t may carry.
// Unknown codes have no lower bound; the receiving binding rejects them.
func MinPayloadSize(t Type) int {
	if size, ok := minPayloadSizes[t]; ok {
		return size
	}
	if t.IsReply() && t.Request().Known() {
		return 1
	}
	return 0
}

func (t Type) String() string {
	if t == TypeError {
		return "Error"
	}
	name, ok := typeNames[t.Request()]
	if !ok {
		return fmt.Sprintf("type(0x%02x)", uint8(t))
	}
	if t.IsReply() {
		return name + "Reply"
	}
	return name
}
