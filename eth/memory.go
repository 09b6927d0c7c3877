package eth

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
)

// NativeContract is Go code standing in for contract bytecode at an address.
type NativeContract func(from common.Address, value *big.Int, input []byte) ([]byte, error)

// Memory is an in-memory chain. Transactions apply to a pending state at
// once; FlushTransactions seals that state as the next block. Gas is
// recorded but not metered, and contract code only runs when a
// NativeContract is registered for its address.
type Memory struct {
	mu        sync.RWMutex
	chainID   *big.Int
	signer    types.Signer
	blocks    []state // blocks[0] is genesis
	pending   state
	queued    int // transactions applied to pending since the last seal
	messages  []PastMessage
	contracts map[common.Address]NativeContract
	peers     map[string]PeerInfo
	now       func() time.Time
}

var (
	_ Interface     = (*Memory)(nil)
	_ PeerConnector = (*Memory)(nil)
)

func NewMemory(chainID *big.Int, alloc types.GenesisAlloc) *Memory {
	if chainID == nil {
		chainID = big.NewInt(1)
	}
	genesis := stateFromAlloc(alloc)
	return &Memory{
		chainID:   chainID,
		signer:    types.LatestSignerForChainID(chainID),
		blocks:    []state{genesis},
		pending:   genesis.copy(),
		contracts: make(map[common.Address]NativeContract),
		peers:     make(map[string]PeerInfo),
		now:       time.Now,
	}
}

func (m *Memory) ChainID() *big.Int {
	return new(big.Int).Set(m.chainID)
}

// Signer returns the signer Inject uses to recover senders.
func (m *Memory) Signer() types.Signer {
	return m.signer
}

// RegisterContract installs fn as the code at addr.
func (m *Memory) RegisterContract(addr common.Address, fn NativeContract) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[addr] = fn
}

// Head returns the number of the latest sealed block.
func (m *Memory) Head() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.blocks) - 1)
}

func senderOf(secret common.Hash) (common.Address, error) {
	key, err := crypto.ToECDSA(secret[:])
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func (m *Memory) Transact(ctx context.Context, secret common.Hash, value *big.Int, dest common.Address, data []byte, gas uint64, gasPrice *big.Int) error {
	from, err := senderOf(secret)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	nonce := m.pending.get(from, false).nonce
	return m.applyLocked(from, nonce, &dest, value, data, txHash(from, nonce, m.chainID))
}

func (m *Memory) CreateContract(ctx context.Context, secret common.Hash, endowment *big.Int, init []byte, gas uint64, gasPrice *big.Int) (common.Address, error) {
	from, err := senderOf(secret)
	if err != nil {
		return common.Address{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	nonce := m.pending.get(from, false).nonce
	addr := crypto.CreateAddress(from, nonce)
	if err := m.applyLocked(from, nonce, nil, endowment, init, txHash(from, nonce, m.chainID)); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// Inject decodes a signed transaction (legacy RLP or typed envelope),
// recovers its sender and queues it.
func (m *Memory) Inject(ctx context.Context, raw []byte) error {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	from, err := types.Sender(m.signer, tx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if next := m.pending.get(from, false).nonce; tx.Nonce() < next {
		return fmt.Errorf("%w: have %d, next %d", ErrNonceTooLow, tx.Nonce(), next)
	}
	return m.applyLocked(from, tx.Nonce(), tx.To(), tx.Value(), tx.Data(), tx.Hash())
}

// applyLocked runs one message against the pending state. A nil to creates a
// contract whose code is data.
func (m *Memory) applyLocked(from common.Address, nonce uint64, to *common.Address, value *big.Int, data []byte, hash common.Hash) error {
	if value == nil {
		value = new(big.Int)
	}
	next := m.pending.copy()

	msg := PastMessage{
		Block:  uint64(len(m.blocks)),
		TxHash: hash,
		From:   from,
		Value:  new(big.Int).Set(value),
		Input:  common.CopyBytes(data),
	}
	if to == nil {
		msg.To = crypto.CreateAddress(from, nonce)
		msg.Created = true
		if existing := next.get(msg.To, false); len(existing.code) > 0 {
			return fmt.Errorf("%w: contract address %s in use", ErrInvalidTransaction, msg.To)
		}
	} else {
		msg.To = *to
	}

	if err := next.transfer(from, msg.To, value); err != nil {
		return fmt.Errorf("%w: %s", err, from)
	}
	if msg.Created {
		next.get(msg.To, true).code = common.CopyBytes(data)
	} else if fn, ok := m.contracts[msg.To]; ok {
		out, err := fn(from, value, data)
		if err != nil {
			return err
		}
		msg.Output = out
	}
	next.get(from, true).nonce = nonce + 1

	m.pending = next
	m.queued++
	m.messages = append(m.messages, msg)
	log.Debug().Str("from", from.Hex()).Str("to", msg.To.Hex()).Str("value", value.String()).Msg("transaction queued")
	return nil
}

func txHash(from common.Address, nonce uint64, chainID *big.Int) common.Hash {
	return crypto.Keccak256Hash(from.Bytes(), new(big.Int).SetUint64(nonce).Bytes(), chainID.Bytes())
}

func (m *Memory) FlushTransactions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, m.pending)
	m.pending = m.pending.copy()
	log.Debug().Int("transactions", m.queued).Int("block", len(m.blocks)-1).Msg("block sealed")
	m.queued = 0
	return nil
}

func (m *Memory) Call(ctx context.Context, secret common.Hash, value *big.Int, dest common.Address, data []byte, gas uint64, gasPrice *big.Int) ([]byte, error) {
	from, err := senderOf(secret)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	fn, native := m.contracts[dest]
	acc := m.pending.get(dest, false)
	balance := new(big.Int).Set(m.pending.get(from, false).balance)
	m.mu.RUnlock()

	if value != nil && balance.Cmp(value) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientFunds, from)
	}
	if native {
		return fn(from, value, data)
	}
	if len(acc.code) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrExecutionUnsupported, dest)
	}
	return nil, nil
}

// stateAt resolves a block selector. Callers hold m.mu.
func (m *Memory) stateAt(block BlockNumber) (state, error) {
	switch block {
	case Pending:
		return m.pending, nil
	case Latest:
		return m.blocks[len(m.blocks)-1], nil
	}
	if block >= uint64(len(m.blocks)) {
		return nil, fmt.Errorf("%w: %d (head %d)", ErrUnknownBlock, block, len(m.blocks)-1)
	}
	return m.blocks[block], nil
}

func (m *Memory) BalanceAt(ctx context.Context, addr common.Address, block BlockNumber) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.stateAt(block)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(s.get(addr, false).balance), nil
}

func (m *Memory) CountAt(ctx context.Context, addr common.Address, block BlockNumber) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.stateAt(block)
	if err != nil {
		return 0, err
	}
	return s.get(addr, false).nonce, nil
}

func (m *Memory) StateAt(ctx context.Context, addr common.Address, key *big.Int, block BlockNumber) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.stateAt(block)
	if err != nil {
		return nil, err
	}
	if key == nil {
		key = new(big.Int)
	}
	return s.get(addr, false).storage[common.BigToHash(key)].Big(), nil
}

func (m *Memory) CodeAt(ctx context.Context, addr common.Address, block BlockNumber) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.stateAt(block)
	if err != nil {
		return nil, err
	}
	return common.CopyBytes(s.get(addr, false).code), nil
}

func (m *Memory) StorageAt(ctx context.Context, addr common.Address, block BlockNumber) ([]StorageSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.stateAt(block)
	if err != nil {
		return nil, err
	}
	return s.get(addr, false).slots(), nil
}

// SetStorage writes a slot in the pending state. Zero values delete the slot.
func (m *Memory) SetStorage(addr common.Address, key, value *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.pending.copy()
	acc := next.get(addr, true)
	k := common.BigToHash(key)
	if value == nil || value.Sign() == 0 {
		delete(acc.storage, k)
	} else {
		acc.storage[k] = common.BigToHash(value)
	}
	m.pending = next
}

func (m *Memory) Messages(ctx context.Context, filter MessageFilter) ([]PastMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := filter.Latest
	if latest == 0 {
		latest = Latest
	}
	out := make([]PastMessage, 0)
	for _, msg := range m.messages {
		if msg.Block < filter.Earliest || msg.Block > latest {
			continue
		}
		if !matchAddr(filter.From, msg.From) || !matchAddr(filter.To, msg.To) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func matchAddr(set []common.Address, addr common.Address) bool {
	if len(set) == 0 {
		return true
	}
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}

func (m *Memory) Peers(ctx context.Context) ([]PeerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := make([]PeerInfo, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers, nil
}

func (m *Memory) PeerCount(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.peers)), nil
}

// ConnectToPeer records the peer as connected. No dial is made.
func (m *Memory) ConnectToPeer(ctx context.Context, host string, port uint16) error {
	if host == "" || port == 0 {
		return fmt.Errorf("%w: %q:%d", ErrInvalidPeer, host, port)
	}
	id := net.JoinHostPort(host, strconv.Itoa(int(port)))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[id]; !ok {
		m.peers[id] = PeerInfo{ID: id, Host: host, Port: port, Connected: uint64(m.now().Unix())}
		log.Info().Str("peer", id).Msg("peer connected")
	}
	return nil
}
