// Package ethrpc binds the eth operations to webthree-rpc messages: payload
// structs, the server-side receivers and the client-side adapter.
//
// Payloads are structs so every message encodes as an RLP list; the field
// order is the wire order.
package ethrpc

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"webthree-rpc/eth"
)

type TransactArgs struct {
	Secret   common.Hash
	Value    *big.Int
	Dest     common.Address
	Data     []byte
	Gas      uint64
	GasPrice *big.Int
}

type CreateArgs struct {
	Secret    common.Hash
	Endowment *big.Int
	Init      []byte
	Gas       uint64
	GasPrice  *big.Int
}

type InjectArgs struct {
	RLP []byte
}

type AccountArgs struct {
	Address common.Address
	Block   uint64
}

type StateArgs struct {
	Address common.Address
	Key     *big.Int
	Block   uint64
}

type ConnectArgs struct {
	Host string
	Port uint16
}

type PingArgs struct {
	Nonce uint64
}

// Empty is the payload of requests without arguments and of plain
// acknowledgements.
type Empty struct{}

type AddressReply struct {
	Address common.Address
}

type BytesReply struct {
	Data []byte
}

type BigReply struct {
	Value *big.Int
}

type CountReply struct {
	Count uint64
}

type StorageReply struct {
	Slots []eth.StorageSlot
}

type MessagesReply struct {
	Messages []eth.PastMessage
}

type PeersReply struct {
	Peers []eth.PeerInfo
}

type PingReply struct {
	Nonce uint64
}
