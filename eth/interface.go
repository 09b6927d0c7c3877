// Package eth defines the Ethereum client operations served over
// webthree-rpc, and an in-memory backend implementing them.
package eth

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BlockNumber selects the state a query reads: a sealed block index, Latest
// or Pending.
type BlockNumber = uint64

const (
	Latest  BlockNumber = math.MaxUint64     // most recent sealed block
	Pending BlockNumber = math.MaxUint64 - 1 // latest block plus unflushed transactions
)

const DefaultGas = 10000

// DefaultGasPrice is 10 szabo.
var DefaultGasPrice = big.NewInt(10_000_000_000_000)

type StorageSlot struct {
	Key   *big.Int
	Value *big.Int
}

// MessageFilter selects past messages. Empty address lists match any
// address; a zero Latest means up to the head.
type MessageFilter struct {
	From     []common.Address
	To       []common.Address
	Earliest uint64
	Latest   uint64
}

// PastMessage is one executed transaction or contract creation.
type PastMessage struct {
	Block   uint64
	TxHash  common.Hash
	From    common.Address
	To      common.Address
	Value   *big.Int
	Input   []byte
	Output  []byte
	Created bool // To is a contract created by this message
}

type PeerInfo struct {
	ID        string
	Host      string
	Port      uint16
	Connected uint64 // unix seconds
}

// Interface is the Ethereum client contract. Implementations must be safe
// for concurrent use.
type Interface interface {
	// Transact signs a transfer with secret and queues it.
	Transact(ctx context.Context, secret common.Hash, value *big.Int, dest common.Address, data []byte, gas uint64, gasPrice *big.Int) error
	// CreateContract queues a contract creation and returns the new address.
	CreateContract(ctx context.Context, secret common.Hash, endowment *big.Int, init []byte, gas uint64, gasPrice *big.Int) (common.Address, error)
	// Inject queues a signed, encoded transaction.
	Inject(ctx context.Context, rlp []byte) error
	// FlushTransactions seals the queued transactions into a block.
	FlushTransactions(ctx context.Context) error
	// Call executes without changing state and returns the output.
	Call(ctx context.Context, secret common.Hash, value *big.Int, dest common.Address, data []byte, gas uint64, gasPrice *big.Int) ([]byte, error)

	BalanceAt(ctx context.Context, addr common.Address, block BlockNumber) (*big.Int, error)
	CountAt(ctx context.Context, addr common.Address, block BlockNumber) (uint64, error)
	StateAt(ctx context.Context, addr common.Address, key *big.Int, block BlockNumber) (*big.Int, error)
	CodeAt(ctx context.Context, addr common.Address, block BlockNumber) ([]byte, error)
	// StorageAt returns every non-zero slot, ordered by key.
	StorageAt(ctx context.Context, addr common.Address, block BlockNumber) ([]StorageSlot, error)

	Messages(ctx context.Context, filter MessageFilter) ([]PastMessage, error)
	Peers(ctx context.Context) ([]PeerInfo, error)
	PeerCount(ctx context.Context) (uint64, error)
}

// PeerConnector asks the node to dial a peer.
type PeerConnector interface {
	ConnectToPeer(ctx context.Context, host string, port uint16) error
}
